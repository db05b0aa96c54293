package app

import (
	"fmt"
	"strings"
	"time"

	"cadence/internal/config"
	"cadence/internal/debugsrv"
	"cadence/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	if cfg == nil {
		return debugsrv.Config{}, nil
	}
	d := cfg.Debug
	out := debugsrv.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Pprof:                d.Pprof,
		Token:                strings.TrimSpace(d.Token),
		AllowInsecure:        d.AllowInsecure,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 10*time.Second); err != nil {
		return debugsrv.Config{}, err
	}
	// 0 keeps /debug/pprof/profile usable.
	if out.WriteTimeout, err = config.ParseDurationField("debug.write_timeout", d.WriteTimeout); err != nil {
		return debugsrv.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 60*time.Second); err != nil {
		return debugsrv.Config{}, err
	}
	return out, nil
}

func stopTimeout(cfg *config.Config) time.Duration {
	if cfg == nil {
		return 10 * time.Second
	}
	d, err := config.ParseDurationOrDefault("runner.stop_timeout", cfg.Runner.StopTimeout, 10*time.Second)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}
