package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/opreport/internal/events"
	"github.com/alfredjeanlab/opreport/internal/idgen"
	"github.com/alfredjeanlab/opreport/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch [<run-id>]",
	Short:   "Follow report progress events over NATS",
	GroupID: "report",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := ""
		if len(args) == 1 {
			if !idgen.IsRunID(args[0]) {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			runID = args[0]
		}
		return watchRun(cmd, resolveRemote().NATSURL, runID)
	},
}

// watchRun prints report events until interrupted. With a run id it only
// prints that run's events and returns once the run has finished.
func watchRun(cmd *cobra.Command, natsURL, runID string) error {
	if natsURL == "" {
		return fmt.Errorf("no NATS URL: set OPREPORT_NATS_URL or add a remote with --nats")
	}
	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt)
	defer stop()

	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	return follow(ctx, sub, cmd.OutOrStdout(), runID)
}

// follow prints events from sub until ctx ends, the subscription closes or,
// when runID is set, that run finishes.
func follow(ctx context.Context, sub events.Subscriber, w io.Writer, runID string) error {
	ch, cancel, err := sub.Subscribe(events.TopicReportAll)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			done, err := printEvent(w, msg, runID)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// printEvent writes one event. done reports that the watched run has
// finished. Events of other runs are skipped when runID is set.
func printEvent(w io.Writer, msg events.Message, runID string) (done bool, err error) {
	event, err := msg.Decode()
	if err != nil {
		return false, err
	}
	if runID != "" && msg.RunID != runID {
		return false, nil
	}
	_, progress := event.(events.ReportProgress)
	done = runID != "" && !progress
	if jsonOutput {
		_, err := fmt.Fprintln(w, string(msg.Data))
		return done, err
	}
	switch e := event.(type) {
	case events.ReportGenerated:
		fmt.Fprintf(w, "%s %s\n", msg.RunID, ui.RenderAccent("generated"))
	case events.ReportFailed:
		suffix := ""
		if e.Stale {
			suffix = " (serving previous report)"
		}
		fmt.Fprintf(w, "%s failed: %s%s\n", msg.RunID, e.Error, suffix)
	case events.ReportProgress:
		fmt.Fprintf(w, "%s [%3d%%] %s\n", msg.RunID, e.Percent, e.Stage)
	}
	return done, nil
}
