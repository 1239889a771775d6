package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/loykin/watchdog/internal/env"
	"github.com/loykin/watchdog/internal/logger"
	"github.com/loykin/watchdog/internal/process"
	itls "github.com/loykin/watchdog/internal/tls"
)

// EnvPrefix is the prefix for environment overrides: WATCHDOG_HEARTBEAT_URL etc.
const EnvPrefix = "WATCHDOG"

// Defaults.
const (
	DefaultExecutable           = "dist/gateway.js"
	DefaultHeartbeatIntervalSec = 30
	DefaultMaxRestartsPerMinute = 5
	DefaultStopGrace            = 5 * time.Second
	DefaultTick                 = time.Second
	DefaultBackoff              = 10 * time.Second
	DefaultHealthInterval       = 60 * time.Minute
	DefaultHistoryQueue         = 256
)

// Config is the supervisor configuration. It is immutable after Load.
type Config struct {
	Executable           string        `toml:"executable" mapstructure:"executable"`
	Launcher             string        `toml:"launcher" mapstructure:"launcher"`
	LaunchArgs           []string      `toml:"launch_args" mapstructure:"launch_args"`
	WorkDir              string        `toml:"workdir" mapstructure:"workdir"`
	Env                  []string      `toml:"env" mapstructure:"env"`
	EnvFiles             []string      `toml:"env_files" mapstructure:"env_files"`
	PIDFile              string        `toml:"pid_file" mapstructure:"pid_file"`
	StopGrace            time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	MaxRestartsPerMinute int           `toml:"max_restarts_per_minute" mapstructure:"max_restarts_per_minute"`

	Heartbeat HeartbeatConfig `toml:"heartbeat" mapstructure:"heartbeat"`
	Watch     WatchConfig     `toml:"watch" mapstructure:"watch"`
	Loop      LoopConfig      `toml:"loop" mapstructure:"loop"`
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
	Health    HealthConfig    `toml:"health" mapstructure:"health"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
}

type HeartbeatConfig struct {
	URL      string `toml:"url" mapstructure:"url"`
	Interval int    `toml:"interval" mapstructure:"interval"` // seconds
}

type WatchConfig struct {
	Dir             string `toml:"dir" mapstructure:"dir"`
	RestartOnChange bool   `toml:"restart_on_change" mapstructure:"restart_on_change"`
}

type LoopConfig struct {
	Tick    time.Duration `toml:"tick" mapstructure:"tick"`
	Backoff time.Duration `toml:"backoff" mapstructure:"backoff"`
}

type ServerConfig struct {
	Listen string      `toml:"listen" mapstructure:"listen"`
	TLS    itls.Config `toml:"tls" mapstructure:"tls"`
}

type HistoryConfig struct {
	DSN   string `toml:"dsn" mapstructure:"dsn"`
	Queue int    `toml:"queue" mapstructure:"queue"`
}

type HealthConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"` // 0 disables
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	File       string `toml:"file" mapstructure:"file"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"executable":              "executable",
	"launcher":                "launcher",
	"heartbeat-url":           "heartbeat.url",
	"heartbeat-interval":      "heartbeat.interval",
	"watch-dir":               "watch.dir",
	"restart-on-change":       "watch.restart_on_change",
	"max-restarts-per-minute": "max_restarts_per_minute",
	"stop-grace":              "stop_grace",
	"listen":                  "server.listen",
	"history-dsn":             "history.dsn",
	"pid-file":                "pid_file",
	"health-interval":         "health.interval",
	"log-level":               "log.level",
	"log-format":              "log.format",
	"log-file":                "log.file",
	"worker-log-dir":          "log.dir",
}

// SetDefaults registers every key so env overrides resolve during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("executable", DefaultExecutable)
	v.SetDefault("launcher", process.DefaultLauncher)
	v.SetDefault("launch_args", []string{})
	v.SetDefault("workdir", "")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("pid_file", "")
	v.SetDefault("stop_grace", DefaultStopGrace)
	v.SetDefault("max_restarts_per_minute", DefaultMaxRestartsPerMinute)

	v.SetDefault("heartbeat.url", "")
	v.SetDefault("heartbeat.interval", DefaultHeartbeatIntervalSec)
	v.SetDefault("watch.dir", "")
	v.SetDefault("watch.restart_on_change", false)
	v.SetDefault("loop.tick", DefaultTick)
	v.SetDefault("loop.backoff", DefaultBackoff)
	v.SetDefault("server.listen", "")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "")
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.queue", DefaultHistoryQueue)
	v.SetDefault("health.interval", DefaultHealthInterval)

	v.SetDefault("log.level", logger.LevelInfo)
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("log.color", true)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.stdout", "")
	v.SetDefault("log.stderr", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
}

// BindFlags binds the known flags present in fs to their config keys.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, the optional TOML file at path,
// WATCHDOG_* environment variables and flags, in increasing priority.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := BindFlags(v, fs); err != nil {
		return nil, err
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidationError lists every invalid setting found by Validate.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the configuration. It is the only fatal error path.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Executable) == "" {
		problems = append(problems, "executable is required")
	}
	if strings.TrimSpace(c.Launcher) == "" {
		problems = append(problems, "launcher is required")
	}
	if c.MaxRestartsPerMinute < 0 {
		problems = append(problems, "max_restarts_per_minute must be >= 0")
	}
	if c.StopGrace <= 0 {
		problems = append(problems, "stop_grace must be > 0")
	}
	if c.Heartbeat.URL != "" {
		u, err := url.ParseRequestURI(c.Heartbeat.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("heartbeat.url %q is not an http(s) URL", c.Heartbeat.URL))
		}
		if c.Heartbeat.Interval <= 0 {
			problems = append(problems, "heartbeat.interval must be > 0 seconds")
		}
	}
	if c.Loop.Tick < 0 || c.Loop.Backoff < 0 {
		problems = append(problems, "loop.tick and loop.backoff must be >= 0")
	}
	if c.Health.Interval < 0 {
		problems = append(problems, "health.interval must be >= 0")
	}
	if err := c.Server.TLS.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logger.FormatText, logger.FormatJSON:
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	if c.Heartbeat.Interval <= 0 {
		return DefaultHeartbeatIntervalSec * time.Second
	}
	return time.Duration(c.Heartbeat.Interval) * time.Second
}

// WorkerEnv merges env_files in order and then the env list, later entries
// overriding earlier ones. The worker still inherits the supervisor's env.
func (c *Config) WorkerEnv() ([]string, error) {
	if len(c.EnvFiles) == 0 {
		return c.Env, nil
	}
	e := env.New()
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for _, kv := range pairs {
			e.Set(kv[0], kv[1])
		}
	}
	e.Apply(c.Env)
	return e.List(), nil
}

// ProcessSpec builds the worker launch spec.
func (c *Config) ProcessSpec() (process.Spec, error) {
	env, err := c.WorkerEnv()
	if err != nil {
		return process.Spec{}, err
	}
	return process.Spec{
		Name:       filepath.Base(c.Executable),
		Launcher:   c.Launcher,
		LaunchArgs: c.LaunchArgs,
		Executable: c.Executable,
		WorkDir:    c.WorkDir,
		Env:        env,
		PIDFile:    c.PIDFile,
	}, nil
}

// LoggerConfig converts the log section into logger.Config.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      c.Log.Level,
			Format:     c.Log.Format,
			Color:      c.Log.Color,
			TimeStamps: c.Log.TimeStamps,
			Path:       c.Log.File,
		},
		File: logger.FileConfig{
			Dir:        c.Log.Dir,
			StdoutPath: c.Log.Stdout,
			StderrPath: c.Log.Stderr,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in file order.
func LoadEnvFile(path string) ([]string, error) {
	pairs, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		out = append(out, kv[0]+"="+kv[1])
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) ([][2]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	var out [][2]string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			out = append(out, [2]string{strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])})
		}
	}
	return out, nil
}
