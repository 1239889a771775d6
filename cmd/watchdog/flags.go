package main

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/loykin/watchdog/internal/config"
	"github.com/loykin/watchdog/internal/heartbeat"
	"github.com/loykin/watchdog/internal/logger"
	"github.com/loykin/watchdog/internal/process"
)

// RootFlags holds flags that are not part of the watchdog configuration.
type RootFlags struct {
	ConfigPath    string
	Daemonize     bool
	DaemonPIDFile string
	DaemonLog     string
}

type StatusFlags struct {
	APIFlags
	PIDFile string
}

type HistoryFlags struct {
	APIFlags
	Limit int
}

// addRunFlags registers the configuration flags. Their names are the keys
// config.BindFlags looks up, so a flag set on the command line overrides the
// config file and WATCHDOG_* variables.
func addRunFlags(fs *pflag.FlagSet) {
	fs.StringP("executable", "e", config.DefaultExecutable, "path of the worker script passed to the launcher")
	fs.String("launcher", process.DefaultLauncher, "interpreter used to run the executable")
	fs.String("heartbeat-url", "", "URL to GET periodically while the watchdog runs")
	fs.Int("heartbeat-interval", int(heartbeat.DefaultInterval/time.Second), "heartbeat period in seconds")
	fs.String("watch-dir", "", "directory tree to watch for changes")
	fs.Bool("restart-on-change", false, "restart the worker when watched files change")
	fs.Int("max-restarts-per-minute", config.DefaultMaxRestartsPerMinute, "automatic restarts allowed per 60s window")
	fs.Duration("stop-grace", config.DefaultStopGrace, "wait between SIGTERM and SIGKILL")
	fs.String("listen", "", "address for the status/metrics HTTP server (e.g. 127.0.0.1:9090)")
	fs.String("history-dsn", "", "lifecycle history sink (sqlite path, postgres://, clickhouse://, http(s)://)")
	fs.String("pid-file", "", "write the worker pid to this file")
	fs.Duration("health-interval", config.DefaultHealthInterval, "period of the internal health log line (0 disables)")
	fs.String("log-level", logger.LevelInfo, "log level: debug, info, warn, error")
	fs.String("log-format", logger.FormatText, "log format: text or json")
	fs.String("log-file", "", "write watchdog logs to a rotating file")
	fs.String("worker-log-dir", "", "write worker stdout/stderr to rotating files in this directory")
}
