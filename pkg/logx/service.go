package logx

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

type Config struct {
	Level       string      `json:"level"`
	Console     bool        `json:"console"`
	ConsoleJSON bool        `json:"console_json"`
	File        FileConfig  `json:"file"`
	Alert       AlertConfig `json:"alert"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AlertConfig routes records at or above MinLevel (default warn) to a
// separate JSON file, at most RatePerSec per second. Records over the rate
// are dropped and counted.
type AlertConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// Service owns the sinks and swaps them on Apply.
type Service struct {
	mu    sync.Mutex
	file  *os.File
	alert *os.File

	root atomic.Pointer[zerolog.Logger]

	// guarded by mu
	limiter  *rate.Limiter
	minLevel zerolog.Level

	alertsDropped atomic.Uint64

	// console is the console sink target; tests point it at a buffer.
	console io.Writer
}

// New applies cfg and returns the service with a live root Logger.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	s := &Service{console: os.Stdout}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// AlertsDropped reports how many alert records were rate limited away.
func (s *Service) AlertsDropped() uint64 { return s.alertsDropped.Load() }

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFilesLocked()
	return nil
}

func (s *Service) closeFilesLocked() {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if s.alert != nil {
		_ = s.alert.Close()
		s.alert = nil
	}
}

// Apply rebuilds the sinks from cfg. Loggers already handed out pick up the
// change on their next record. A file that cannot be opened is reported on
// stderr and skipped.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.minLevel = parseLevel(cfg.Alert.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.Alert.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	s.closeFilesLocked()

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, s.consoleWriter(cfg.ConsoleJSON))
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path, "./cadence.log"); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Alert.Enabled {
		if f, err := openLogFile(cfg.Alert.Path, "./cadence-alerts.log"); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.alert = f
			writers = append(writers, &alertSink{svc: s, out: zerolog.SyncWriter(f)})
		}
	}
	// Never go silent: with no usable sink fall back to the console.
	if len(writers) == 0 {
		writers = append(writers, s.consoleWriter(cfg.ConsoleJSON))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func (s *Service) consoleWriter(asJSON bool) io.Writer {
	if asJSON {
		return s.console
	}
	cw := zerolog.ConsoleWriter{Out: s.console, TimeFormat: consoleTimeFormat}
	if f, ok := s.console.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) {
		cw.NoColor = true
	}
	return cw
}

func openLogFile(path, def string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = def
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir %q: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

// alertSink forwards records at or above the service's alert level, one
// JSON line each, under the service's rate limit.
type alertSink struct {
	svc *Service
	out io.Writer
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.NoLevel, p)
}

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := a.svc
	s.mu.Lock()
	lim, minLevel := s.limiter, s.minLevel
	s.mu.Unlock()

	if level < minLevel || level == zerolog.NoLevel {
		return len(p), nil
	}
	if !lim.Allow() {
		s.alertsDropped.Add(1)
		return len(p), nil
	}
	if line := bytes.TrimSpace(p); len(line) > 0 {
		// Alert write failures must not fail the primary sinks.
		_, _ = a.out.Write(append(line, '\n'))
	}
	return len(p), nil
}
