package scheduled

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	ticks  []uint64
	missed [][2]time.Time
	errs   []error
	calls  int
}

func (r *recorder) onTick(n uint64) {
	r.mu.Lock()
	r.ticks = append(r.ticks, n)
	r.mu.Unlock()
}

func (r *recorder) onMissed(scheduled, actual time.Time) {
	r.mu.Lock()
	r.missed = append(r.missed, [2]time.Time{scheduled, actual})
	r.mu.Unlock()
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) action(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.calls, nil
}

func (r *recorder) snapshot() (ticks []uint64, missed [][2]time.Time, errs []error, calls int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.ticks...), append([][2]time.Time(nil), r.missed...), append([]error(nil), r.errs...), r.calls
}

func (r *recorder) wire(cfg Config[int]) Config[int] {
	cfg.OnTick = r.onTick
	cfg.OnMissedExecution = r.onMissed
	cfg.OnScheduleError = r.onError
	return cfg
}

func startJob(t *testing.T, cfg Config[int], fn Func[int]) *Subscription {
	t.Helper()
	job, err := New(cfg, fn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sub, err := job.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return sub
}

func TestRecurringMaxIterations(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	rec := &recorder{}
	sub := startJob(t, rec.wire(Config[int]{
		Schedule:      Every(50 * time.Millisecond),
		MaxIterations: 3,
		Clock:         clk,
	}), rec.action)

	if !sub.IsRunning() {
		t.Fatalf("expected running after Start")
	}
	if got, want := sub.NextExecution(), t0.Add(50*time.Millisecond); !got.Equal(want) {
		t.Fatalf("next=%v want %v", got, want)
	}

	clk.Advance(150 * time.Millisecond)

	ticks, _, _, calls := rec.snapshot()
	if calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
	if len(ticks) != 3 || ticks[0] != 1 || ticks[1] != 2 || ticks[2] != 3 {
		t.Fatalf("ticks=%v want [1 2 3]", ticks)
	}
	if sub.IsRunning() {
		t.Fatalf("expected stopped after max iterations")
	}
	if sub.IterationCount() != 3 {
		t.Fatalf("iterations=%d want 3", sub.IterationCount())
	}
	if sub.StopReason() != StopMaxIterations {
		t.Fatalf("reason=%q", sub.StopReason())
	}
	if clk.Pending() != 0 {
		t.Fatalf("pending timers=%d want 0", clk.Pending())
	}

	clk.Advance(time.Second)
	if _, _, _, calls := rec.snapshot(); calls != 3 {
		t.Fatalf("calls after stop=%d want 3", calls)
	}
}

func TestRecurringRealClock(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	sub := startJob(t, rec.wire(Config[int]{
		Schedule:      Every(50 * time.Millisecond),
		MaxIterations: 3,
	}), rec.action)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	reason, err := sub.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if reason != StopMaxIterations {
		t.Fatalf("reason=%q", reason)
	}
	ticks, _, _, _ := rec.snapshot()
	if len(ticks) != 3 || ticks[2] != 3 {
		t.Fatalf("ticks=%v", ticks)
	}
	if sub.IsRunning() {
		t.Fatalf("expected stopped")
	}
}

func TestOneShotTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		reason StopReason
	}{
		{name: "success", reason: StopCompleted},
		{name: "failure", err: errors.New("boom"), reason: StopFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clk := NewManualClock(t0)
			rec := &recorder{}
			calls := 0
			sub := startJob(t, rec.wire(Config[int]{
				Schedule: OneShot(t0.Add(100 * time.Millisecond)),
				Clock:    clk,
			}), func(context.Context) (int, error) {
				calls++
				return 0, tt.err
			})

			clk.Advance(100 * time.Millisecond)
			if calls != 1 {
				t.Fatalf("calls=%d want 1", calls)
			}
			if sub.IsRunning() {
				t.Fatalf("expected stopped right after the invocation")
			}
			if sub.StopReason() != tt.reason {
				t.Fatalf("reason=%q want %q", sub.StopReason(), tt.reason)
			}
			_, _, errs, _ := rec.snapshot()
			if tt.err != nil && (len(errs) != 1 || !errors.Is(errs[0], tt.err)) {
				t.Fatalf("errs=%v", errs)
			}
			if tt.err == nil && len(errs) != 0 {
				t.Fatalf("unexpected errs=%v", errs)
			}

			clk.Advance(time.Hour)
			if calls != 1 {
				t.Fatalf("calls after an hour=%d want 1", calls)
			}
			select {
			case <-sub.Done():
			default:
				t.Fatalf("Done not closed")
			}
		})
	}
}

func TestPauseResumeKeepsProgress(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	rec := &recorder{}
	sub := startJob(t, rec.wire(Config[int]{Schedule: Every(10 * time.Second), Clock: clk}), rec.action)

	clk.Advance(10 * time.Second)
	if sub.IterationCount() != 1 {
		t.Fatalf("iterations=%d want 1", sub.IterationCount())
	}
	last := sub.LastExecution()

	clk.Advance(3 * time.Second)
	sub.Pause()
	sub.Pause()
	if !sub.IsPaused() || sub.IsRunning() {
		t.Fatalf("expected paused, got %v", sub.Lifecycle())
	}
	if !sub.NextExecution().IsZero() {
		t.Fatalf("paused job reports next=%v", sub.NextExecution())
	}

	clk.Advance(3 * time.Second)
	if _, _, _, calls := rec.snapshot(); calls != 1 {
		t.Fatalf("ran while paused: calls=%d", calls)
	}

	sub.Resume()
	if sub.IterationCount() != 1 {
		t.Fatalf("iterations after resume=%d want 1", sub.IterationCount())
	}
	if got, want := sub.NextExecution(), last.Add(10*time.Second); !got.Equal(want) {
		t.Fatalf("next=%v want %v (last + interval)", got, want)
	}

	clk.Advance(4 * time.Second)
	if sub.IterationCount() != 2 {
		t.Fatalf("iterations=%d want 2", sub.IterationCount())
	}
	if got, want := sub.LastExecution(), t0.Add(20*time.Second); !got.Equal(want) {
		t.Fatalf("last=%v want %v", got, want)
	}
}

func TestMissedSkip(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	rec := &recorder{}
	sub := startJob(t, rec.wire(Config[int]{
		Schedule:     Every(10 * time.Second),
		MissedPolicy: MissedSkip,
		Clock:        clk,
	}), rec.action)

	clk.Jump(25 * time.Second)

	_, missed, _, calls := rec.snapshot()
	if calls != 0 {
		t.Fatalf("skip invoked the action %d times", calls)
	}
	if len(missed) != 1 {
		t.Fatalf("missed callbacks=%d want 1", len(missed))
	}
	if !missed[0][0].Equal(t0.Add(10*time.Second)) || !missed[0][1].Equal(t0.Add(25*time.Second)) {
		t.Fatalf("missed=%v", missed[0])
	}
	if got, want := sub.NextExecution(), t0.Add(35*time.Second); !got.Equal(want) {
		t.Fatalf("next=%v want %v", got, want)
	}

	clk.Advance(10 * time.Second)
	_, missed, _, calls = rec.snapshot()
	if calls != 1 || len(missed) != 1 {
		t.Fatalf("calls=%d missed=%d want 1/1", calls, len(missed))
	}
}

func TestMissedCatchUp(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	rec := &recorder{}
	sub := startJob(t, rec.wire(Config[int]{
		Schedule:     Every(10 * time.Second),
		MissedPolicy: MissedCatchUp,
		Clock:        clk,
	}), rec.action)

	// First deadline at 10, handled at 45: 35 late.
	clk.Jump(45 * time.Second)

	ticks, missed, _, calls := rec.snapshot()
	if calls != 3 {
		t.Fatalf("catch-up calls=%d want 3", calls)
	}
	if len(ticks) != 3 || ticks[0] != 1 || ticks[2] != 3 {
		t.Fatalf("ticks=%v", ticks)
	}
	if len(missed) != 1 {
		t.Fatalf("missed callbacks=%d want 1", len(missed))
	}
	if got, want := sub.NextExecution(), t0.Add(55*time.Second); !got.Equal(want) {
		t.Fatalf("next=%v want %v", got, want)
	}

	clk.Advance(10 * time.Second)
	if _, _, _, calls := rec.snapshot(); calls != 4 {
		t.Fatalf("calls=%d want 4 after normal tick", calls)
	}
}

func TestCatchUpRespectsMaxIterations(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	rec := &recorder{}
	sub := startJob(t, rec.wire(Config[int]{
		Schedule:      Every(10 * time.Second),
		MissedPolicy:  MissedCatchUp,
		MaxIterations: 2,
		Clock:         clk,
	}), rec.action)

	clk.Jump(45 * time.Second)
	if _, _, _, calls := rec.snapshot(); calls != 2 {
		t.Fatalf("calls=%d want 2", calls)
	}
	if sub.StopReason() != StopMaxIterations {
		t.Fatalf("reason=%q", sub.StopReason())
	}
}

func TestMissedPoliciesOneShot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		policy MissedPolicy
		calls  int
		reason StopReason
	}{
		{MissedSkip, 0, StopMissed},
		{MissedExecuteImmediately, 1, StopCompleted},
		{MissedCatchUp, 1, StopCompleted},
		{MissedReschedule, 1, StopCompleted},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.policy.String(), func(t *testing.T) {
			t.Parallel()

			clk := NewManualClock(t0)
			rec := &recorder{}
			sub := startJob(t, rec.wire(Config[int]{
				Schedule:     OneShot(t0.Add(-time.Minute)),
				MissedPolicy: tt.policy,
				Clock:        clk,
			}), rec.action)

			clk.Advance(0)
			_, missed, _, calls := rec.snapshot()
			if calls != tt.calls {
				t.Fatalf("calls=%d want %d", calls, tt.calls)
			}
			if len(missed) != 1 {
				t.Fatalf("missed callbacks=%d want 1", len(missed))
			}
			if sub.StopReason() != tt.reason {
				t.Fatalf("reason=%q want %q", sub.StopReason(), tt.reason)
			}
		})
	}
}

func TestRescheduleRebasesOnNow(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	rec := &recorder{}
	sub := startJob(t, rec.wire(Config[int]{
		Schedule:     Every(10 * time.Second),
		MissedPolicy: MissedReschedule,
		Clock:        clk,
	}), rec.action)

	clk.Jump(42 * time.Second)
	_, missed, _, calls := rec.snapshot()
	if calls != 0 || len(missed) != 1 {
		t.Fatalf("calls=%d missed=%d want 0/1", calls, len(missed))
	}
	if got, want := sub.LastExecution(), t0.Add(42*time.Second); !got.Equal(want) {
		t.Fatalf("last=%v want %v", got, want)
	}
	if got, want := sub.NextExecution(), t0.Add(52*time.Second); !got.Equal(want) {
		t.Fatalf("next=%v want %v", got, want)
	}
}

func TestStopCondition(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	rec := &recorder{}
	sub := startJob(t, rec.wire(Config[int]{
		Schedule:      Every(time.Second),
		StopCondition: func(r int) bool { return r == 5 },
		Clock:         clk,
	}), rec.action)

	clk.Advance(time.Minute)
	if _, _, _, calls := rec.snapshot(); calls != 5 {
		t.Fatalf("calls=%d want 5", calls)
	}
	if sub.StopReason() != StopConditionMet || sub.IterationCount() != 5 {
		t.Fatalf("reason=%q iterations=%d", sub.StopReason(), sub.IterationCount())
	}
}

func TestCancelIdempotent(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	rec := &recorder{}
	sub := startJob(t, rec.wire(Config[int]{Schedule: Every(time.Second), Clock: clk}), rec.action)

	sub.Cancel()
	sub.Cancel()
	if sub.Lifecycle() != Stopped || sub.StopReason() != StopCancelled {
		t.Fatalf("lifecycle=%v reason=%q", sub.Lifecycle(), sub.StopReason())
	}
	if clk.Pending() != 0 {
		t.Fatalf("pending timers=%d want 0", clk.Pending())
	}

	// Control calls after Stopped are no-ops.
	sub.Pause()
	sub.Resume()
	if sub.Lifecycle() != Stopped {
		t.Fatalf("lifecycle=%v after pause/resume on stopped job", sub.Lifecycle())
	}
	clk.Advance(time.Minute)
	if _, _, _, calls := rec.snapshot(); calls != 0 {
		t.Fatalf("calls=%d want 0", calls)
	}
}

func TestDirectCallRejected(t *testing.T) {
	t.Parallel()

	schedules := []Schedule{
		OneShot(t0),
		Every(time.Second),
		Custom(func(last time.Time) time.Time { return last.Add(time.Second) }),
	}
	for _, sch := range schedules {
		cfg := Config[int]{Schedule: sch}
		j0, err := New(cfg, func(context.Context) (int, error) { return 0, nil })
		if err != nil {
			t.Fatalf("New(%v): %v", sch.Mode, err)
		}
		j1, err := New1(cfg, func(context.Context, string) (int, error) { return 0, nil })
		if err != nil {
			t.Fatalf("New1(%v): %v", sch.Mode, err)
		}
		j2, err := New2(cfg, func(context.Context, string, int) (int, error) { return 0, nil })
		if err != nil {
			t.Fatalf("New2(%v): %v", sch.Mode, err)
		}
		ctx := context.Background()
		if _, err := j0.Call(ctx); !errors.Is(err, ErrDirectCall) {
			t.Fatalf("%v Job.Call err=%v", sch.Mode, err)
		}
		if _, err := j1.Call(ctx, "a"); !errors.Is(err, ErrDirectCall) {
			t.Fatalf("%v Job1.Call err=%v", sch.Mode, err)
		}
		if _, err := j2.Call(ctx, "a", 1); !errors.Is(err, ErrDirectCall) {
			t.Fatalf("%v Job2.Call err=%v", sch.Mode, err)
		}
		if j0.Status().Lifecycle != Idle {
			t.Fatalf("Call changed lifecycle to %v", j0.Status().Lifecycle)
		}
	}
}

func TestStartLifecycleErrors(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	job, err := New(Config[int]{Schedule: Every(time.Second), Clock: clk}, func(context.Context) (int, error) { return 0, nil })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sub, err := job.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := job.Start(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Start err=%v want ErrAlreadyActive", err)
	}
	sub.Pause()
	if _, err := job.Start(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("Start while paused err=%v want ErrAlreadyActive", err)
	}
	sub.Cancel()
	if _, err := job.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start after cancel err=%v want ErrStopped", err)
	}
}

func TestArityBinding(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	var got []string
	job, err := New2(Config[string]{Schedule: Every(time.Second), MaxIterations: 2, Clock: clk},
		func(_ context.Context, prefix string, n int) (string, error) {
			s := prefix + string(rune('0'+n))
			got = append(got, s)
			return s, nil
		})
	if err != nil {
		t.Fatalf("New2: %v", err)
	}
	if _, err := job.Start(context.Background(), "job-", 7); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clk.Advance(5 * time.Second)
	if len(got) != 2 || got[0] != "job-7" || got[1] != "job-7" {
		t.Fatalf("got=%v", got)
	}
}

func TestExecuteImmediately(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	rec := &recorder{}
	sub := startJob(t, rec.wire(Config[int]{
		Schedule:           Every(10 * time.Second),
		ExecuteImmediately: true,
		Clock:              clk,
	}), rec.action)

	clk.Advance(0)
	_, missed, _, calls := rec.snapshot()
	if calls != 1 || len(missed) != 0 {
		t.Fatalf("calls=%d missed=%d want 1/0", calls, len(missed))
	}
	if got, want := sub.NextExecution(), t0.Add(10*time.Second); !got.Equal(want) {
		t.Fatalf("next=%v want %v", got, want)
	}
}

func TestCustomTrigger(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	rec := &recorder{}
	var seen []time.Time
	trig := func(last time.Time) time.Time {
		seen = append(seen, last)
		if len(seen) > 3 {
			return time.Time{}
		}
		if last.IsZero() {
			return t0.Add(5 * time.Second)
		}
		return last.Add(5 * time.Second)
	}
	sub := startJob(t, rec.wire(Config[int]{Schedule: Custom(trig), Clock: clk}), rec.action)

	clk.Advance(time.Minute)
	if _, _, _, calls := rec.snapshot(); calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
	if !seen[0].IsZero() {
		t.Fatalf("first trigger call got last=%v want zero", seen[0])
	}
	if sub.StopReason() != StopCompleted {
		t.Fatalf("reason=%q want completed", sub.StopReason())
	}
}

func TestCustomPastDeadlineIsMissed(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	rec := &recorder{}
	sub := startJob(t, rec.wire(Config[int]{
		Schedule: Custom(func(last time.Time) time.Time {
			if last.IsZero() {
				return t0.Add(-5 * time.Second)
			}
			return last.Add(10 * time.Second)
		}),
		MissedPolicy: MissedExecuteImmediately,
		Clock:        clk,
	}), rec.action)

	clk.Advance(0)
	_, missed, _, calls := rec.snapshot()
	if calls != 1 || len(missed) != 1 {
		t.Fatalf("calls=%d missed=%d want 1/1", calls, len(missed))
	}
	if !missed[0][0].Equal(t0.Add(-5 * time.Second)) {
		t.Fatalf("scheduled=%v", missed[0][0])
	}
	if got, want := sub.NextExecution(), t0.Add(10*time.Second); !got.Equal(want) {
		t.Fatalf("next=%v want %v", got, want)
	}
}

func TestCustomTriggerStuckInPast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		policy    MissedPolicy
		wantCalls int
	}{
		{MissedSkip, 0},
		{MissedReschedule, 0},
		{MissedExecuteImmediately, 1},
		{MissedCatchUp, 1},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			t.Parallel()

			clk := NewManualClock(t0)
			rec := &recorder{}
			sub := startJob(t, rec.wire(Config[int]{
				Schedule:     Custom(func(time.Time) time.Time { return t0.Add(-time.Hour) }),
				MissedPolicy: tt.policy,
				Clock:        clk,
			}), rec.action)

			clk.Advance(0)
			clk.Advance(time.Minute)
			_, missed, _, calls := rec.snapshot()
			if calls != tt.wantCalls || len(missed) != 1 {
				t.Fatalf("calls=%d missed=%d want %d/1", calls, len(missed), tt.wantCalls)
			}
			if sub.Lifecycle() != Stopped || sub.StopReason() != StopTriggerStale {
				t.Fatalf("lifecycle=%v reason=%q", sub.Lifecycle(), sub.StopReason())
			}
			if clk.Pending() != 0 {
				t.Fatalf("pending timers=%d want 0", clk.Pending())
			}
		})
	}
}

func TestCustomTriggerGoingBackwardsStops(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	rec := &recorder{}
	sub := startJob(t, rec.wire(Config[int]{
		Schedule: Custom(func(last time.Time) time.Time {
			if last.IsZero() {
				return t0.Add(time.Second)
			}
			return last.Add(-time.Second)
		}),
		Clock: clk,
	}), rec.action)

	clk.Advance(time.Minute)
	if _, missed, _, calls := rec.snapshot(); calls != 1 || len(missed) != 0 {
		t.Fatalf("calls=%d missed=%d want 1/0", calls, len(missed))
	}
	if sub.StopReason() != StopTriggerStale {
		t.Fatalf("reason=%q want trigger_stale", sub.StopReason())
	}
}

func TestCustomTriggerPanicStopsJob(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		policy    MissedPolicy
		trig      func(time.Time) time.Time
		wantCalls int
	}{
		{
			name: "on start",
			trig: func(time.Time) time.Time { panic("bad trigger") },
		},
		{
			name: "after first run",
			trig: func(last time.Time) time.Time {
				if last.IsZero() {
					return t0.Add(time.Second)
				}
				panic("bad trigger")
			},
			wantCalls: 1,
		},
		{
			name:   "while catching up",
			policy: MissedCatchUp,
			trig: func(last time.Time) time.Time {
				if last.IsZero() {
					return t0.Add(-5 * time.Second)
				}
				panic("bad trigger")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clk := NewManualClock(t0)
			rec := &recorder{}
			sub := startJob(t, rec.wire(Config[int]{
				Schedule:     Custom(tt.trig),
				MissedPolicy: tt.policy,
				Clock:        clk,
			}), rec.action)
			clk.Advance(time.Minute)

			status := make(chan Status, 1)
			go func() { status <- sub.Status() }()
			select {
			case st := <-status:
				if st.Lifecycle != Stopped || st.StopReason != StopTriggerFailed {
					t.Fatalf("status=%+v", st)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("Status blocked after trigger panic")
			}
			if _, _, _, calls := rec.snapshot(); calls != tt.wantCalls {
				t.Fatalf("calls=%d want %d", calls, tt.wantCalls)
			}
			sub.Pause()
			sub.Cancel()
			if clk.Pending() != 0 {
				t.Fatalf("pending timers=%d want 0", clk.Pending())
			}
		})
	}
}

func TestActionPanicIsReported(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	rec := &recorder{}
	sub := startJob(t, rec.wire(Config[int]{Schedule: Every(time.Second), Clock: clk}),
		func(context.Context) (int, error) { panic("kaboom") })

	clk.Advance(2 * time.Second)
	_, _, errs, _ := rec.snapshot()
	if len(errs) != 2 {
		t.Fatalf("errs=%d want 2", len(errs))
	}
	if !errors.Is(errs[0], ErrActionPanic) {
		t.Fatalf("err=%v want ErrActionPanic", errs[0])
	}
	if !sub.IsRunning() || sub.IterationCount() != 2 {
		t.Fatalf("running=%v iterations=%d", sub.IsRunning(), sub.IterationCount())
	}
}

func TestCallbackPanicDoesNotStopSchedule(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	calls := 0
	sub := startJob(t, Config[int]{
		Schedule: Every(time.Second),
		OnTick:   func(uint64) { panic("tick") },
		Clock:    clk,
	}, func(context.Context) (int, error) {
		calls++
		return calls, nil
	})

	clk.Advance(3 * time.Second)
	if calls != 3 || sub.IterationCount() != 3 {
		t.Fatalf("calls=%d iterations=%d want 3", calls, sub.IterationCount())
	}
}

func TestCancelDiscardsInFlightOutcome(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	rec := &recorder{}
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	sub := startJob(t, rec.wire(Config[int]{Schedule: Every(time.Second), Clock: clk}),
		func(context.Context) (int, error) {
			started <- struct{}{}
			<-release
			return 0, errors.New("late failure")
		})

	advanced := make(chan struct{})
	go func() {
		clk.Advance(time.Second)
		close(advanced)
	}()

	<-started
	if !sub.Status().InFlight {
		t.Fatalf("expected in-flight status")
	}
	sub.Cancel()
	if sub.Lifecycle() != Stopped {
		t.Fatalf("lifecycle=%v want stopped", sub.Lifecycle())
	}
	close(release)
	<-advanced

	_, _, errs, _ := rec.snapshot()
	if len(errs) != 0 {
		t.Fatalf("discarded outcome still reported: %v", errs)
	}
	if sub.IterationCount() != 0 {
		t.Fatalf("iterations=%d want 0", sub.IterationCount())
	}
	if clk.Pending() != 0 {
		t.Fatalf("pending timers=%d want 0", clk.Pending())
	}
}

func TestPauseDuringInFlight(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	sub := startJob(t, Config[int]{Schedule: Every(time.Second), Clock: clk},
		func(context.Context) (int, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return 0, nil
		})

	advanced := make(chan struct{})
	go func() {
		clk.Advance(time.Second)
		close(advanced)
	}()
	<-started
	sub.Pause()
	close(release)
	<-advanced

	if sub.Lifecycle() != Paused {
		t.Fatalf("lifecycle=%v want paused", sub.Lifecycle())
	}
	if clk.Pending() != 0 {
		t.Fatalf("paused job armed a timer")
	}

	sub.Resume()
	if sub.NextExecution().IsZero() {
		t.Fatalf("resume did not arm a deadline")
	}
}

func TestContextCancelStopsSchedule(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	job, err := New(Config[int]{Schedule: Every(time.Second), Clock: clk}, func(context.Context) (int, error) { return 0, nil })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := job.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	reason, err := sub.Wait(wctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if reason != StopContextDone {
		t.Fatalf("reason=%q want %q", reason, StopContextDone)
	}
}

func TestAsyncAction(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(t0)
	var mu sync.Mutex
	var results []string
	fn := Async(func(ctx context.Context) <-chan Outcome[string] {
		ch := make(chan Outcome[string], 1)
		go func() { ch <- Outcome[string]{Value: "ok"} }()
		return ch
	})
	job, err := New(Config[string]{
		Schedule:      Every(time.Second),
		MaxIterations: 2,
		StopCondition: func(r string) bool {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return false
		},
		Clock: clk,
	}, fn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sub, err := job.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	clk.Advance(2 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 2 || results[0] != "ok" {
		t.Fatalf("results=%v", results)
	}
	if sub.StopReason() != StopMaxIterations {
		t.Fatalf("reason=%q", sub.StopReason())
	}

	closed := Async(func(context.Context) <-chan Outcome[string] {
		ch := make(chan Outcome[string])
		close(ch)
		return ch
	})
	if _, err := closed(context.Background()); !errors.Is(err, ErrNoOutcome) {
		t.Fatalf("closed channel err=%v want ErrNoOutcome", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	trig := func(time.Time) time.Time { return time.Time{} }
	tests := []struct {
		name  string
		cfg   Config[int]
		field string
	}{
		{"one-shot without at", Config[int]{Schedule: Schedule{Mode: ModeOneShot}}, "at"},
		{"one-shot with interval", Config[int]{Schedule: Schedule{Mode: ModeOneShot, At: t0, Interval: time.Second}}, "interval"},
		{"recurring zero interval", Config[int]{Schedule: Schedule{Mode: ModeRecurring}}, "interval"},
		{"recurring with trigger", Config[int]{Schedule: Schedule{Mode: ModeRecurring, Interval: time.Second, Trigger: trig}}, "trigger"},
		{"custom without trigger", Config[int]{Schedule: Schedule{Mode: ModeCustom}}, "trigger"},
		{"custom with at", Config[int]{Schedule: Schedule{Mode: ModeCustom, Trigger: trig, At: t0}}, "at"},
		{"unknown mode", Config[int]{Schedule: Schedule{Mode: Mode(9)}}, "mode"},
		{"unknown policy", Config[int]{Schedule: Every(time.Second), MissedPolicy: MissedPolicy(9)}, "missed_policy"},
		{"negative tolerance", Config[int]{Schedule: Every(time.Second), MissedTolerance: -1}, "missed_tolerance"},
		{"negative catch-up cap", Config[int]{Schedule: Every(time.Second), MaxCatchUp: -1}, "max_catch_up"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err=%v want ErrInvalidConfig", err)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Field != tt.field {
				t.Fatalf("err=%v want field %q", err, tt.field)
			}
			if _, err := New(tt.cfg, func(context.Context) (int, error) { return 0, nil }); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("New err=%v want ErrInvalidConfig", err)
			}
		})
	}

	if _, err := New[int](Config[int]{Schedule: Every(time.Second)}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil action err=%v", err)
	}
}

func TestParseMissedPolicy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]MissedPolicy{
		"":                    MissedSkip,
		"skip":                MissedSkip,
		"Execute_Immediately": MissedExecuteImmediately,
		"catch-up":            MissedCatchUp,
		"reschedule":          MissedReschedule,
	} {
		got, err := ParseMissedPolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParseMissedPolicy(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	if _, err := ParseMissedPolicy("sometimes"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
