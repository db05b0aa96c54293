package config

import (
	"bytes"
	"encoding/json"
	"strings"

	logx "cadence/pkg/logx"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Debug   DebugConfig   `json:"debug,omitempty"`

	// Runner holds defaults shared by every job.
	Runner RunnerConfig `json:"runner"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Jobs    []JobConfig    `json:"jobs"`
}

// RunnerConfig controls the job registry.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - timezone: local time
//   - missed_policy: "skip"
//   - stop_timeout: "10s"
//   - history_size: 50 (runs kept per job in memory for /jobs)
type RunnerConfig struct {
	// Timezone for cron schedules (IANA name, e.g. "Europe/Berlin").
	Timezone string `json:"timezone,omitempty"`

	// MissedPolicy is the default for jobs that don't set one.
	MissedPolicy string `json:"missed_policy,omitempty"`

	// StopTimeout bounds how long shutdown waits for in-flight actions.
	StopTimeout string `json:"stop_timeout,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// JobConfig describes one scheduled job.
//
// Example (YAML):
//
//	- name: backup
//	  schedule: "0 3 * * *"
//	  missed_policy: catch_up
//	  timeout: 10m
//	  action:
//	    kind: exec
//	    command: ["/usr/local/bin/backup", "--incremental"]
type JobConfig struct {
	Name string `json:"name"`

	// Schedule accepts cron ("*/5 * * * *", "@hourly"), intervals ("55m",
	// "02:30", "@every 90s") and one-shot times ("at:2026-01-02T15:04:05Z").
	Schedule string `json:"schedule"`

	MissedPolicy       string `json:"missed_policy,omitempty"`
	MissedTolerance    string `json:"missed_tolerance,omitempty"`
	MaxIterations      uint64 `json:"max_iterations,omitempty"`
	ExecuteImmediately bool   `json:"execute_immediately,omitempty"`

	// Timeout bounds a single run. "0s" or empty disables it.
	Timeout string `json:"timeout,omitempty"`

	// StopOnExitCode stops the job once an exec action exits with this code.
	StopOnExitCode *int `json:"stop_on_exit_code,omitempty"`

	// Group names a concurrency group. At most GroupLimit runs (default 1)
	// across the group's jobs execute at once; a tick that finds the group
	// full is recorded as a failed run.
	Group      string `json:"group,omitempty"`
	GroupLimit int    `json:"group_limit,omitempty"`

	Disabled bool `json:"disabled,omitempty"`

	Action ActionConfig `json:"action"`
}

const (
	ActionExec    = "exec"
	ActionLog     = "log"
	ActionSystemd = "systemd"
)

type ActionConfig struct {
	Kind string `json:"kind"`

	// exec
	Command []string `json:"command,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`

	// log
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	// systemd
	Unit string `json:"unit,omitempty"`
	Op   string `json:"op,omitempty"` // start|stop|restart|reload (default restart)
}

// UnmarshalJSON disallows unknown fields so typos inside an action block are
// caught on reload instead of being silently ignored.
func (a *ActionConfig) UnmarshalJSON(b []byte) error {
	type plain ActionConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var p plain
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*a = ActionConfig(p)
	return nil
}

// StorageConfig controls the run-history store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./cadence_history" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DebugConfig controls the optional debug HTTP server (/metrics, /jobs and
// /debug/pprof/).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Pprof         bool   `json:"pprof,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /debug/pprof/profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	// ConsoleJSON writes JSON lines to stdout instead of the pretty console
	// format. Useful under journald.
	ConsoleJSON bool         `json:"console_json,omitempty"`
	File        LoggingFile  `json:"file"`
	Alert       LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// Logx converts the logging section into the log service config.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:       strings.TrimSpace(l.Level),
		Console:     l.Console,
		ConsoleJSON: l.ConsoleJSON,
		File:        logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			Path:       l.Alert.Path,
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

// Job returns the job named name, if present.
func (c *Config) Job(name string) (JobConfig, bool) {
	if c == nil {
		return JobConfig{}, false
	}
	for _, j := range c.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobConfig{}, false
}
