package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/watchdog"
	"github.com/loykin/watchdog/pkg/client"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	rootFlags := &RootFlags{}
	root := createRootCommand(rootFlags)
	root.AddCommand(
		createStatusCommand(&StatusFlags{}),
		createHistoryCommand(&HistoryFlags{}),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the command that runs the supervisor.
func createRootCommand(flags *RootFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "watchdog",
		Short: "Keep a single worker process alive",
		Long: `Watchdog launches one worker process, restarts it when it exits
(at most --max-restarts-per-minute times per minute), optionally restarts it
when files under --watch-dir change, and reports liveness to a heartbeat URL.

Examples:
  watchdog -e dist/gateway.js
  watchdog -e dist/gateway.js --watch-dir src --restart-on-change
  watchdog --config watchdog.toml --listen 127.0.0.1:9090
  WATCHDOG_HEARTBEAT_URL=https://hc.example.com/ping watchdog`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchdog(cmd, flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	addRunFlags(root.Flags())
	root.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run in the background")
	root.Flags().StringVar(&flags.DaemonPIDFile, "daemon-pid-file", "", "write the background watchdog's pid here (with --daemonize)")
	root.Flags().StringVar(&flags.DaemonLog, "daemon-log", "", "redirect the background watchdog's output to this file (with --daemonize)")
	return root
}

func runWatchdog(cmd *cobra.Command, flags *RootFlags) error {
	c, err := watchdog.LoadConfig(flags.ConfigPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize && !isDaemonChild() {
		return daemonize(flags.DaemonPIDFile, flags.DaemonLog)
	}
	if isDaemonChild() && flags.DaemonPIDFile != "" {
		defer func() { _ = removePidFile(flags.DaemonPIDFile) }()
	}

	logger := c.LoggerConfig().NewSlogger()
	slog.SetDefault(logger)
	if err := watchdog.RegisterMetricsDefault(); err != nil {
		logger.Warn("Failed to register metrics", "error", err)
	}

	w, err := watchdog.New(c, watchdog.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info("Watchdog starting", "version", version, "executable", c.Executable, "launcher", c.Launcher)
	return w.Run(ctx)
}

// createStatusCommand reports on a running watchdog, either through its status
// server or by probing a PID file.
func createStatusCommand(flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running watchdog",
		Long: `Show the state of a running watchdog.

Examples:
  watchdog status --api-url http://127.0.0.1:9090
  watchdog status --pid-file /run/gateway.pid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdStatus(flags)
		},
	}
	addAPIFlags(cmd.Flags(), &flags.APIFlags, "")
	cmd.Flags().StringVar(&flags.PIDFile, "pid-file", "", "worker or daemon PID file to probe")
	return cmd
}

func cmdStatus(flags *StatusFlags) error {
	if flags.APIUrl == "" && flags.PIDFile == "" {
		return fmt.Errorf("either --api-url or --pid-file is required")
	}
	if flags.APIUrl != "" {
		c, err := newAPIClient(flags.APIFlags)
		if err != nil {
			return err
		}
		st, err := c.Status(context.Background())
		if err != nil {
			return err
		}
		printJSON(st)
		return nil
	}
	pid, alive, err := watchdog.ReadPIDFile(flags.PIDFile)
	if err != nil {
		return fmt.Errorf("read pid file: %w", err)
	}
	printJSON(pidStatus{PIDFile: flags.PIDFile, PID: pid, Alive: alive})
	return nil
}

type pidStatus struct {
	PIDFile string `json:"pid_file"`
	PID     int    `json:"pid"`
	Alive   bool   `json:"alive"`
}

// createHistoryCommand prints recent lifecycle events from the status server.
func createHistoryCommand(flags *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent worker lifecycle events",
		Long: `Show recent worker lifecycle events recorded by a running watchdog.
Requires --listen and a queryable --history-dsn (sqlite or postgres) on the watchdog.

Examples:
  watchdog history --api-url http://127.0.0.1:9090 --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdHistory(flags)
		},
	}
	addAPIFlags(cmd.Flags(), &flags.APIFlags, client.DefaultBaseURL)
	cmd.Flags().IntVar(&flags.Limit, "limit", 20, "number of events to show")
	return cmd
}

func cmdHistory(flags *HistoryFlags) error {
	c, err := newAPIClient(flags.APIFlags)
	if err != nil {
		return err
	}
	events, err := c.History(context.Background(), flags.Limit)
	if err != nil {
		return err
	}
	printJSON(events)
	return nil
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the watchdog version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}
