package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/natlabio/natlab/client/internal/conntrack"
	"github.com/natlabio/natlab/client/internal/monitor"
)

var (
	agentName      string
	agentCommand   []string
	replayPath     string
	allowedPeers   []string
	conntrackCfg   string
	disableConnLog bool

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "attach to a running agent and rebuild its state from output",
		RunE:  watchFunc,
	}
)

func init() {
	watchCmd.Flags().StringVar(&agentName, "name", "agent", "label for the observed agent in log output")
	watchCmd.Flags().StringSliceVar(&agentCommand, "agent-cmd", nil, "agent command and arguments to attach to")
	watchCmd.Flags().StringVar(&replayPath, "replay", "", "replay agent output from a file instead of a process, - for stdin")
	watchCmd.Flags().StringSliceVar(&allowedPeers, "allow-peer", nil, "peer public keys allowed to emit state")
	watchCmd.Flags().StringVar(&conntrackCfg, "conntrack-config", "", "JSON file with the connection watch list")
	watchCmd.Flags().BoolVar(&disableConnLog, "no-conntrack", false, "do not attach the connection log tracker")
}

func watchFunc(cmd *cobra.Command, args []string) error {
	SetFlagsFromEnvVars(rootCmd)

	ctx, cancel := SetupCloseHandler(cmd.Context())
	defer cancel()

	if len(agentCommand) == 0 && replayPath == "" {
		return fmt.Errorf("one of --agent-cmd or --replay is required")
	}

	mon := monitor.New(agentName)
	mon.AllowPeer(allowedPeers...)

	var watches []conntrack.Watch
	if conntrackCfg != "" && !disableConnLog {
		var err error
		watches, err = conntrack.LoadWatches(conntrackCfg)
		if err != nil {
			return err
		}
	}
	tracker := conntrack.NewTracker(watches)
	if err := tracker.Start(ctx); err != nil {
		return fmt.Errorf("start connection tracker: %w", err)
	}
	defer func() {
		if err := tracker.Stop(); err != nil {
			log.Errorf("stop connection tracker: %v", err)
		}
	}()

	if replayPath != "" {
		if err := replay(mon, replayPath); err != nil {
			return err
		}
	} else {
		// the agent may still be coming up, retry the attach briefly
		attach := func() error {
			return mon.Attach(agentCommand[0], agentCommand[1:]...)
		}
		if err := backoff.Retry(attach, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
			return fmt.Errorf("attach to agent: %w", err)
		}

		<-ctx.Done()
	}

	if violations := tracker.OutOfLimits(); violations != nil {
		for name, count := range violations {
			log.Errorf("connection watch %q out of limits: %d flows", name, count)
		}
	}

	return mon.Stop()
}

func replay(mon *monitor.Monitor, path string) error {
	reader := os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open replay file: %w", err)
		}
		defer f.Close()
		reader = f
	}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		mon.HandleLine(strings.TrimRight(scanner.Text(), "\r"))
	}
	return scanner.Err()
}
