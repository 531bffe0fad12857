// Package proc runs external commands and streams their output lines to a
// callback. It is a thin supervision wrapper: no retries live here.
package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Command is a started external process whose stdout is consumed line by
// line by a single reader loop. The loop never blocks on anything but the
// next line and exits at the next line boundary once the process is
// stopped.
type Command struct {
	cmd      *exec.Cmd
	done     chan struct{}
	stopOnce sync.Once

	mux     sync.Mutex
	waitErr error
	stopped bool
}

// Start launches the command and begins feeding its stdout lines to
// onLine. The callback runs on the reader goroutine; it must not block on
// anything other than its own bookkeeping.
func Start(onLine func(string), name string, args ...string) (*Command, error) {
	cmd := exec.Command(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	c := &Command{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			onLine(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			log.Debugf("read %s output: %v", name, err)
		}

		err := cmd.Wait()
		c.mux.Lock()
		c.waitErr = err
		c.mux.Unlock()
		close(c.done)
	}()

	return c, nil
}

// Done returns a channel closed once the process has exited and its output
// has been drained.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the process exits or ctx is cancelled.
func (c *Command) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.exitErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop kills the process and waits for the reader loop to drain.
// Idempotent; the error from a deliberate kill is not reported.
func (c *Command) Stop() error {
	c.stopOnce.Do(func() {
		c.mux.Lock()
		c.stopped = true
		c.mux.Unlock()

		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Warnf("kill %s: %v", c.cmd.Path, err)
		}
		<-c.done
	})
	return c.exitErr()
}

func (c *Command) exitErr() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.stopped {
		return nil
	}
	return c.waitErr
}
