package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger reports non-zero")
	}
	l.With(String("k", "v")).Error("ignored", Err(nil))
	Nop().Info("ignored")
}

func TestAlertSinkFiltersAndLimits(t *testing.T) {
	dir := t.TempDir()
	appPath := filepath.Join(dir, "app.log")
	alertPath := filepath.Join(dir, "alerts.log")

	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: appPath},
		Alert: AlertConfig{Enabled: true, Path: alertPath, MinLevel: "warn", RatePerSec: 1},
	})
	log = log.With(String("job", "backup"))
	log.Info("routine")
	log.Warn("first warning")
	log.Warn("second warning")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	app, err := os.ReadFile(appPath)
	if err != nil {
		t.Fatalf("read app log: %v", err)
	}
	if !strings.Contains(string(app), "routine") || !strings.Contains(string(app), `"job":"backup"`) {
		t.Fatalf("app log missing records: %s", app)
	}

	alerts, err := os.ReadFile(alertPath)
	if err != nil {
		t.Fatalf("read alert log: %v", err)
	}
	got := string(alerts)
	if strings.Contains(got, "routine") {
		t.Fatalf("info record reached alert sink: %s", got)
	}
	if !strings.Contains(got, "first warning") || strings.Contains(got, "second warning") {
		t.Fatalf("alert sink did not rate limit: %s", got)
	}
	if svc.AlertsDropped() != 1 {
		t.Fatalf("dropped=%d want 1", svc.AlertsDropped())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Level{
		"trace":   LevelTrace,
		" DEBUG ": LevelDebug,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	} {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestConsoleJSONFollowsApply(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	svc := &Service{console: &buf}
	svc.Apply(Config{Level: "info", Console: true, ConsoleJSON: true})
	log := svc.Logger().With(String("comp", "runner"))

	log.Debug("hidden")
	log.Info("visible", Int("jobs", 2))
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("not one JSON line: %q (%v)", buf.String(), err)
	}
	if rec["message"] != "visible" || rec["comp"] != "runner" || rec["jobs"] != float64(2) {
		t.Fatalf("record=%v", rec)
	}
	if c, _ := rec["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller=%v", rec["caller"])
	}

	// The same logger sees the new level after Apply.
	buf.Reset()
	svc.Apply(Config{Level: "debug", Console: true, ConsoleJSON: true})
	log.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Fatalf("debug record missing after Apply: %q", buf.String())
	}
}

func TestStackTrace(t *testing.T) {
	t.Parallel()

	st := StackTrace(1, 4)
	if !strings.Contains(st, "TestStackTrace") || strings.Count(st, "\n  ") > 4 {
		t.Fatalf("stack=%q", st)
	}
}
