package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"smartim/internal/config"
	"smartim/internal/ipc"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var (
	socketFlag  string
	configFlag  string
	timeoutFlag time.Duration
	jsonFlag    bool
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smartimctl",
		Short: "Control utility for smartimd",
		Long: `smartimctl talks to a running smartimd over its unix socket.

It shows what the daemon is doing, lists the input sources it can select,
switches by hand, and reads the switch history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "daemon socket (default: from the config file)")
	cmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (default: $SMARTIM_DIR/config.toml)")
	cmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "request timeout")
	cmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "print raw JSON")

	cmd.AddCommand(
		newStatusCmd(),
		newSourcesCmd(),
		newSwitchCmd(),
		newHistoryCmd(),
		newReloadCmd(),
		newWatchCmd(),
		newMetricsCmd(),
		newPingCmd(),
		newHealthCmd(),
		newCursorCmd(),
		newFocusLostCmd(),
		newToolWindowCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// resolveSocket picks the socket: the flag, then the config file.
func resolveSocket() string {
	if socketFlag != "" {
		return socketFlag
	}
	cfg, err := config.Load(configFlag)
	if err != nil {
		return config.DefaultConfig().IPC.SocketPath
	}
	return cfg.IPC.SocketPath
}

// connect dials the daemon. Callers close the client.
var connect = func(ctx context.Context) (*ipc.IPCClient, error) {
	cfg := ipc.DefaultClientConfig(resolveSocket())
	cfg.ClientVersion = Version
	cfg.RequestTimeout = timeoutFlag
	client := ipc.NewClient(cfg)
	if err := client.Connect(ctx); err != nil {
		if errors.Is(err, ipc.ErrDaemonNotRunning) {
			return nil, fmt.Errorf("%w (start it with: smartimd start)", err)
		}
		return nil, err
	}
	return client, nil
}

// withClient runs fn with a connected client and a request deadline.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *ipc.IPCClient) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
	defer cancel()
	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(ctx, client)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	if len(header) > 0 {
		table.SetHeader(header)
	}
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print client and daemon versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "smartimctl %s\n", Version)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
			defer cancel()
			client, err := connect(ctx)
			if err != nil {
				fmt.Fprintln(out, "smartimd   not running")
				return nil
			}
			defer client.Close()
			fmt.Fprintf(out, "smartimd   %s\n", client.ServerVersion())
			return nil
		},
	}
}
