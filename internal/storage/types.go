package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// MaxRuns bounds the history kept on disk. 0 means DefaultMaxRuns.
	MaxRuns int
}

const DefaultMaxRuns = 10000

func (c Config) maxRuns() int {
	if c.MaxRuns > 0 {
		return c.MaxRuns
	}
	return DefaultMaxRuns
}

// Run records one action invocation.
// Keep it compact and schema-stable.
type Run struct {
	ID        string    `json:"id"`
	Job       string    `json:"job"`
	Iteration uint64    `json:"iteration"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	TookMS    int64     `json:"took_ms"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	// ExitCode is -1 when the action has no exit code.
	ExitCode int `json:"exit_code"`
}
