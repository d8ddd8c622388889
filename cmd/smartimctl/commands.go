package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	smartctx "smartim/internal/context"
	"smartim/internal/engine"
	"smartim/internal/health"
	"smartim/internal/ipc"
)

func newStatusCmd() *cobra.Command {
	var editors bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				status, err := c.Status(ctx, editors)
				if err != nil {
					return err
				}
				if jsonFlag {
					return printJSON(cmd.OutOrStdout(), status)
				}
				printStatus(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&editors, "editors", "e", false, "list tracked editors")
	return cmd
}

func printStatus(w io.Writer, s *ipc.StatusResponse) {
	enabled := "enabled"
	if !s.Enabled {
		enabled = "disabled"
	}
	cached := s.Cached
	if cached == "" {
		cached = "(none)"
	}

	info := newTable(w)
	info.AppendBulk([][]string{
		{"Version", s.Version},
		{"Uptime", s.Uptime.String()},
		{"Switching", enabled},
		{"Backend", s.Backend},
		{"Native IM", s.NativeIM},
		{"Latin IM", s.LatinIM},
		{"Debounce", fmt.Sprintf("%dms", s.DebounceMs)},
		{"Active (cached)", cached},
		{"Editors", strconv.Itoa(s.Editors)},
		{"Clients", strconv.Itoa(s.Clients)},
	})
	if s.ConfigPath != "" {
		info.Append([]string{"Config", s.ConfigPath})
	}
	if s.HistoryPath != "" {
		info.Append([]string{"History", s.HistoryPath})
	}
	info.Render()

	if len(s.Counters) > 0 {
		fmt.Fprintln(w)
		counters := newTable(w, "Counter", "Value")
		names := make([]string, 0, len(s.Counters))
		for name := range s.Counters {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			counters.Append([]string{name, strconv.FormatUint(s.Counters[name], 10)})
		}
		counters.Render()
	}

	if len(s.EditorList) > 0 {
		fmt.Fprintln(w)
		table := newTable(w, "Editor", "State", "Fires at")
		for _, e := range s.EditorList {
			deadline := "-"
			if !e.Deadline.IsZero() {
				deadline = e.Deadline.Format("15:04:05.000")
			}
			table.Append([]string{e.ID, e.State, deadline})
		}
		table.Render()
	}
}

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the input sources the daemon can select",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				resp, err := c.ListSources(ctx)
				if err != nil {
					return err
				}
				if jsonFlag {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				table := newTable(cmd.OutOrStdout(), "Input source", "Role", "Active")
				for _, id := range resp.Sources {
					role := ""
					switch id {
					case resp.NativeIM:
						role = "native"
					case resp.LatinIM:
						role = "latin"
					}
					active := ""
					if id == resp.Cached {
						active = "*"
					}
					table.Append([]string{id, role, active})
				}
				table.Render()
				return nil
			})
		},
	}
}

func newSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <target>",
		Short: "Switch the input source by hand",
		Long: `Switch the input source by hand. The target is default_native,
default_latin, keep_current or a literal input source id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				out, err := c.Switch(ctx, args[0])
				if err != nil {
					return err
				}
				return reportOutcome(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newFocusLostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "focus-lost",
		Short: "Apply the leave mode as if the host lost focus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				out, err := c.HostFocusLost(ctx)
				if err != nil {
					return err
				}
				return reportOutcome(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newToolWindowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tool-window <id>",
		Short: "Report a tool window activation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				out, err := c.ToolWindowActivated(ctx, args[0])
				if err != nil {
					return err
				}
				return reportOutcome(cmd.OutOrStdout(), out)
			})
		},
	}
}

// reportOutcome prints an outcome and turns a failed switch into an error
// so scripts can check the exit status.
func reportOutcome(w io.Writer, out *engine.Outcome) error {
	if jsonFlag {
		if err := printJSON(w, out); err != nil {
			return err
		}
	} else {
		switch {
		case out.Disabled:
			fmt.Fprintln(w, "switching is disabled")
		case out.Path == "keep":
			fmt.Fprintln(w, "kept the current input source")
		case out.OK:
			fmt.Fprintf(w, "%s (%s, %s)\n", out.Resolved, out.Path, out.Duration.Round(time.Microsecond))
		}
	}
	if !out.OK && !out.Disabled {
		return fmt.Errorf("switch to %s failed: %s", out.Resolved, out.Error)
	}
	return nil
}

func newHistoryCmd() *cobra.Command {
	var (
		editor string
		path   string
		limit  int
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent switches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := ipc.HistoryRequest{EditorID: editor, Path: path, Limit: limit}
			if since > 0 {
				req.Since = time.Now().Add(-since)
			}
			return withClient(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				resp, err := c.History(ctx, req)
				if err != nil {
					return err
				}
				if jsonFlag {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				printHistory(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&editor, "editor", "e", "", "only this editor id")
	cmd.Flags().StringVarP(&path, "path", "p", "", "only this path (keep, cache, primary, fallback, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum events")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this (e.g. 1h)")
	return cmd
}

func printHistory(w io.Writer, resp *ipc.HistoryResponse) {
	if len(resp.Events) == 0 {
		fmt.Fprintln(w, "No switches recorded.")
		return
	}
	table := newTable(w, "Time", "Editor", "Trigger", "Kind", "Target", "Resolved", "Path", "Took")
	for _, e := range resp.Events {
		path := e.Path
		if !e.OK {
			path += " !"
		}
		table.Append([]string{
			e.Timestamp.Local().Format("01-02 15:04:05"),
			e.EditorID,
			e.Trigger,
			e.Kind,
			e.Target,
			e.Resolved,
			path,
			e.Duration.Round(time.Microsecond).String(),
		})
	}
	table.Render()

	if len(resp.Counts) > 0 {
		fmt.Fprintln(w)
		counts := newTable(w, "Path", "Count")
		for _, pc := range resp.Counts {
			counts.Append([]string{pc.Path, strconv.FormatInt(pc.Count, 10)})
		}
		counts.Render()
	}
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read the daemon configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				resp, err := c.ReloadConfig(ctx)
				if err != nil {
					return err
				}
				if jsonFlag {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reloaded %s (version %d)\n", resp.Path, resp.Version)
				return nil
			})
		},
	}
}

func newMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print counters in Prometheus text format",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				text, err := c.Metrics(ctx)
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), text)
				return err
			})
		},
	}
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon answers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				start := time.Now()
				if err := c.Ping(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pong from smartimd %s in %s\n",
					c.ServerVersion(), time.Since(start).Round(time.Microsecond))
				return nil
			})
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run the daemon component checks",
		Long: `Run the daemon component checks. The command fails when the daemon
reports itself unhealthy, so it can be used from scripts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				report, err := c.Health(ctx)
				if err != nil {
					return err
				}
				if jsonFlag {
					if err := printJSON(cmd.OutOrStdout(), report); err != nil {
						return err
					}
				} else {
					printHealth(cmd.OutOrStdout(), report)
				}
				if report.Status == health.StatusUnhealthy {
					return fmt.Errorf("daemon is unhealthy")
				}
				return nil
			})
		},
	}
}

func printHealth(w io.Writer, r *health.Report) {
	fmt.Fprintf(w, "Overall: %s\n\n", r.Status)
	names := make([]string, 0, len(r.Components))
	for name := range r.Components {
		names = append(names, name)
	}
	slices.Sort(names)

	table := newTable(w, "Component", "Status", "Message", "Took")
	for _, name := range names {
		res := r.Components[name]
		msg := res.Message
		if res.Error != "" {
			msg += ": " + res.Error
		}
		table.Append([]string{name, string(res.Status), msg, res.Duration.Round(time.Microsecond).String()})
	}
	table.Render()
}

func newCursorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cursor <editor-id> <snapshot.json|->",
		Short: "Send a caret snapshot as an editor plugin would",
		Long: `Send a caret snapshot as an editor plugin would. The snapshot is a JSON
object with the fields plugins send (offset, node_at_offset, in_comment,
comment_token, in_string, string_text, line_before, language,
commit_surface). Use - to read it from stdin.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[1] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[1])
			}
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			var snap smartctx.StaticSnapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return fmt.Errorf("parse snapshot: %w", err)
			}
			return withClient(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				if err := c.CursorMoved(ctx, args[0], snap); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued for %s\n", args[0])
				return nil
			})
		},
	}
}
