package conntrack

import (
	"fmt"

	"github.com/natlabio/natlab/util"
)

// Limits bounds how many observed flows may match a watch. A nil bound is
// unenforced; a watch with both bounds nil is purely observational and can
// never be violated.
type Limits struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

// Watch is one named flow-counting rule: flows partially matching Target
// are counted against Limits.
type Watch struct {
	Name   string    `json:"name"`
	Limits Limits    `json:"limits"`
	Target FiveTuple `json:"target"`
}

// LoadWatches reads an ordered watch list from a JSON config file.
func LoadWatches(path string) ([]Watch, error) {
	var watches []Watch
	if _, err := util.ReadJson(path, &watches); err != nil {
		return nil, fmt.Errorf("read watch config %s: %w", path, err)
	}
	return watches, nil
}
