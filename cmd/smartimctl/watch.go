package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"smartim/internal/engine"
	"smartim/internal/ipc"
)

func newWatchCmd() *cobra.Command {
	var events []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream switch and configuration events",
		Long: `Stream events until interrupted or the daemon stops. Event types:
switch, config_changed, config_rejected, daemon_shutdown. No --event means
all of them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			types := make([]ipc.EventType, 0, len(events))
			for _, name := range events {
				t, err := ipc.ParseEventType(name)
				if err != nil {
					return err
				}
				types = append(types, t)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dialCtx, cancel := context.WithTimeout(ctx, timeoutFlag)
			client, err := connect(dialCtx)
			if err != nil {
				cancel()
				return err
			}
			defer client.Close()
			err = client.Subscribe(dialCtx, types...)
			cancel()
			if err != nil {
				return err
			}
			return watchEvents(ctx, cmd.OutOrStdout(), client)
		},
	}
	cmd.Flags().StringSliceVar(&events, "event", nil, "event types to stream (repeatable)")
	return cmd
}

func watchEvents(ctx context.Context, w io.Writer, client *ipc.IPCClient) error {
	// The event channel is not closed when the connection drops, so the
	// connection state is polled.
	alive := time.NewTicker(time.Second)
	defer alive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-alive.C:
			if !client.IsConnected() {
				return ipc.ErrConnectionLost
			}
		case ev, ok := <-client.Events():
			if !ok {
				return nil
			}
			if jsonFlag {
				if err := printJSON(w, ev); err != nil {
					return err
				}
			} else {
				printEvent(w, ev)
			}
			if ev.Type == ipc.EventDaemonShutdown {
				return nil
			}
		}
	}
}

func printEvent(w io.Writer, ev *ipc.Event) {
	ts := ev.Timestamp.Local().Format("15:04:05.000")
	switch ev.Type {
	case ipc.EventSwitch:
		var out engine.Outcome
		if err := ipc.Decode(ev.Data, &out); err != nil {
			fmt.Fprintf(w, "%s switch (undecodable: %v)\n", ts, err)
			return
		}
		editor := out.EditorID
		if editor == "" {
			editor = "-"
		}
		line := fmt.Sprintf("%s switch %s %s %s -> %s [%s]", ts, editor, out.Trigger, out.Kind, out.Target, out.Path)
		if out.Resolved != "" {
			line += " " + out.Resolved
		}
		if out.Error != "" {
			line += " error: " + out.Error
		}
		fmt.Fprintln(w, line)

	case ipc.EventConfigChanged, ipc.EventConfigRejected:
		var ce ipc.ConfigEvent
		if err := ipc.Decode(ev.Data, &ce); err != nil {
			fmt.Fprintf(w, "%s %s (undecodable: %v)\n", ts, ev.Type, err)
			return
		}
		line := fmt.Sprintf("%s %s %s version=%d reason=%s", ts, ev.Type, ce.Path, ce.Version, ce.Reason)
		if ce.Error != "" {
			line += " error: " + ce.Error
		}
		fmt.Fprintln(w, line)

	default:
		fmt.Fprintf(w, "%s %s\n", ts, ev.Type)
	}
}
