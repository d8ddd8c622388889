// smartimd - per-user input method switching daemon
//
// Editor plugins push caret snapshots over a unix socket; the daemon
// classifies them, debounces per editor, and selects the input source the
// configured scenario asks for.
//
//	smartimd run     Run in the foreground (default)
//	smartimd start   Start in the background
//	smartimd stop    Stop a background daemon
//	smartimd version Print the version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"smartim/internal/config"
	"smartim/internal/ipc"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = cmdRun(args)
	case "start":
		err = cmdStart(args)
	case "stop":
		err = cmdStop(args)
	case "version":
		fmt.Printf("smartimd %s\n", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`smartimd - context-aware input method switching daemon

USAGE:
    smartimd [command] [options]

COMMANDS:
    run        Run in the foreground (default)
    start      Start in the background
    stop       Stop the background daemon
    version    Print the version
    help       Show this help message

OPTIONS:
    -config <path>   Configuration file (default: $SMARTIM_DIR/config.toml)

Use smartimctl to inspect and control a running daemon.`)
}

func pidFilePath() string {
	return filepath.Join(config.SmartimDir(), "smartimd.pid")
}

func parseFlags(name string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfgPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *cfgPath, nil
}

func cmdRun(args []string) error {
	cfgPath, err := parseFlags("run", args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := NewDaemon(ctx, cfgPath, Version)
	if err != nil {
		return err
	}

	pidFile := pidFilePath()
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		d.logger.Warn("write pid file", "path", pidFile, "error", err)
	}
	defer os.Remove(pidFile)

	return d.Run(ctx)
}

func cmdStart(args []string) error {
	cfgPath, err := parseFlags("start", args)
	if err != nil {
		return err
	}
	if pid, ok := runningPID(); ok {
		return fmt.Errorf("smartimd already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	runArgs := []string{"run"}
	if cfgPath != "" {
		runArgs = append(runArgs, "-config", cfgPath)
	}
	child := exec.Command(exe, runArgs...)
	child.SysProcAttr = getDaemonSysProcAttr()
	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	child.Process.Release()

	// Wait for the socket so the next smartimctl call succeeds.
	socket := socketPath(cfgPath)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ipc.IsSocketListening(socket) {
			fmt.Printf("smartimd started, listening on %s\n", socket)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not open %s; check the log", socket)
}

func cmdStop(args []string) error {
	if _, err := parseFlags("stop", args); err != nil {
		return err
	}
	pid, ok := runningPID()
	if !ok {
		os.Remove(pidFilePath())
		return errors.New("smartimd is not running")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal PID %d: %w", pid, err)
	}

	for range 50 {
		if !processExists(pid) {
			fmt.Println("smartimd stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("PID %d did not exit", pid)
}

// runningPID reads the pid file and reports whether that process is alive.
func runningPID() (int, bool) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, processExists(pid)
}

func socketPath(cfgPath string) string {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.DefaultConfig().IPC.SocketPath
	}
	return cfg.IPC.SocketPath
}
