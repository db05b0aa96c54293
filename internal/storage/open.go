package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "cadence/pkg/logx"
)

// Store is the run-history API used by the runner and the debug server.
type Store interface {
	// AppendRun stores r. An empty ID is filled with a fresh UUID.
	AppendRun(ctx context.Context, r Run) error
	// RecentRuns returns up to n runs of job, newest first. An empty job
	// matches every job.
	RecentRuns(ctx context.Context, job string, n int) ([]Run, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("storage", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func normalizeRun(r Run) Run {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Finished.IsZero() {
		r.Finished = time.Now()
	}
	if r.Started.IsZero() {
		r.Started = r.Finished
	}
	if r.TookMS == 0 {
		r.TookMS = r.Finished.Sub(r.Started).Milliseconds()
	}
	return r
}
