package scheduled

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		mode     Mode
		interval time.Duration
		wantErr  bool
	}{
		{in: "55m", mode: ModeRecurring, interval: 55 * time.Minute},
		{in: "00:50", mode: ModeRecurring, interval: 50 * time.Minute},
		{in: "interval:02:30", mode: ModeRecurring, interval: 2*time.Hour + 30*time.Minute},
		{in: "every: 90s", mode: ModeRecurring, interval: 90 * time.Second},
		{in: "@every 5m", mode: ModeRecurring, interval: 5 * time.Minute},
		{in: "*/5 * * * *", mode: ModeCustom},
		{in: "0 30 * * * *", mode: ModeCustom},
		{in: "cron:@hourly", mode: ModeCustom},
		{in: "at:2026-03-01T10:00:00Z", mode: ModeOneShot},
		{in: "", wantErr: true},
		{in: "0s", wantErr: true},
		{in: "01:75", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "cron:", wantErr: true},
		{in: "cron:* * *", wantErr: true},
		{in: "at:tomorrow", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseSchedule(%q) expected error, got %+v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tt.in, err)
		}
		if got.Mode != tt.mode {
			t.Fatalf("ParseSchedule(%q) mode=%v want %v", tt.in, got.Mode, tt.mode)
		}
		if tt.mode == ModeRecurring && got.Interval != tt.interval {
			t.Fatalf("ParseSchedule(%q) interval=%v want %v", tt.in, got.Interval, tt.interval)
		}
		if got.String() != got.Spec || got.Spec == "" {
			t.Fatalf("ParseSchedule(%q) spec=%q string=%q", tt.in, got.Spec, got.String())
		}
		if err := (Config[int]{Schedule: got}).Validate(); err != nil {
			t.Fatalf("ParseSchedule(%q) produced invalid config: %v", tt.in, err)
		}
	}
}

func TestCronTriggerUsesClock(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(time.Date(2026, 1, 1, 10, 7, 0, 0, time.UTC))
	sch, err := ParseSchedule("*/15 * * * *", WithLocation(time.UTC), WithClock(clk))
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	first := sch.Trigger(time.Time{})
	if want := time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC); !first.Equal(want) {
		t.Fatalf("first=%v want %v", first, want)
	}
	second := sch.Trigger(first)
	if want := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC); !second.Equal(want) {
		t.Fatalf("second=%v want %v", second, want)
	}
}

func TestCronJobRunsOnBoundaries(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 10, 7, 0, 0, time.UTC)
	clk := NewManualClock(start)
	sch, err := ParseSchedule("cron:*/15 * * * *", WithLocation(time.UTC), WithClock(clk))
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	rec := &recorder{}
	sub := startJob(t, rec.wire(Config[int]{Schedule: sch, Clock: clk}), rec.action)

	clk.Advance(40 * time.Minute)
	if _, _, _, calls := rec.snapshot(); calls != 3 {
		t.Fatalf("calls=%d want 3 (10:15, 10:30, 10:45)", calls)
	}
	if want := time.Date(2026, 1, 1, 10, 45, 0, 0, time.UTC); !sub.LastExecution().Equal(want) {
		t.Fatalf("last=%v want %v", sub.LastExecution(), want)
	}
}
