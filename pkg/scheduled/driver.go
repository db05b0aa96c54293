package scheduled

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "cadence/pkg/logx"
)

// lifecycle is the driver's internal state. Only running carries a pending
// deadline, so a timer can never be armed while idle, paused or stopped.
type lifecycle interface {
	phase() Lifecycle
}

type idleState struct{}

// runningState.pending is nil while an action is in flight or while a tick
// is being evaluated.
type runningState struct{ pending Timer }

type pausedState struct{}

type stoppedState struct{ reason StopReason }

func (idleState) phase() Lifecycle    { return Idle }
func (runningState) phase() Lifecycle { return Running }
func (pausedState) phase() Lifecycle  { return Paused }
func (stoppedState) phase() Lifecycle { return Stopped }

type armKind int

const (
	armNormal armKind = iota
	// armMissed marks a deadline that was already due when it was computed.
	armMissed
	// armImmediate fires without miss detection (ExecuteImmediately).
	armImmediate
)

// callbackWarnEvery throttles "callback panicked" warnings per job.
const callbackWarnEvery = 5 * time.Second

type thunk[R any] func(ctx context.Context) (R, error)

type driver[R any] struct {
	cfg   Config[R]
	clock Clock
	log   logx.Logger

	cbWarn *rate.Limiter

	mu    sync.Mutex
	state lifecycle

	// epoch changes on Start and on every transition to Stopped. Work that
	// captured an older epoch is discarded when it completes.
	epoch uint64
	// armSeq changes whenever a deadline is armed or disarmed, so a timer
	// that fires after being superseded is ignored.
	armSeq uint64

	run        thunk[R]
	ctx        context.Context
	releaseCtx func() bool

	inflight   bool
	iterations uint64
	anchor     time.Time
	last       time.Time
	next       time.Time

	done chan struct{}
}

func newDriver[R any](cfg Config[R]) (*driver[R], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	log := cfg.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Name != "" {
		log = log.With(logx.String("job", cfg.Name))
	}
	return &driver[R]{
		cfg:    cfg,
		clock:  clock,
		log:    log,
		cbWarn: rate.NewLimiter(rate.Every(callbackWarnEvery), 1),
		state:  idleState{},
		done:   make(chan struct{}),
	}, nil
}

func (d *driver[R]) start(ctx context.Context, run thunk[R]) (*Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	switch d.state.(type) {
	case idleState:
	case stoppedState:
		d.mu.Unlock()
		return nil, fmt.Errorf("start: %w", ErrStopped)
	default:
		d.mu.Unlock()
		return nil, fmt.Errorf("start: %w", ErrAlreadyActive)
	}

	d.epoch++
	epoch := d.epoch
	d.run = run
	d.ctx = ctx
	d.iterations = 0
	d.last = time.Time{}
	d.anchor = d.clock.Now()
	d.state = runningState{}
	if d.cfg.ExecuteImmediately {
		d.armLocked(d.anchor, armImmediate)
	} else {
		d.scheduleNextLocked()
	}
	next := d.next
	d.mu.Unlock()

	if ctx.Done() != nil {
		release := context.AfterFunc(ctx, func() { d.stopEpoch(epoch, StopContextDone) })
		d.mu.Lock()
		if d.epoch == epoch {
			d.releaseCtx = release
		} else {
			release()
		}
		d.mu.Unlock()
	}

	d.log.Debug("schedule started",
		logx.String("mode", d.cfg.Mode.String()),
		logx.String("schedule", d.cfg.Schedule.String()),
		logx.String("missed_policy", d.cfg.MissedPolicy.String()),
		logx.Time("next", next),
	)
	return &Subscription{c: d}, nil
}

// scheduleNextLocked computes and arms the following deadline, or stops the
// job when nothing is left to run. Call with d.mu held while running.
func (d *driver[R]) scheduleNextLocked() {
	if d.limitReachedLocked() {
		d.stopLocked(StopMaxIterations)
		return
	}
	next, ok := d.nextDeadlineLocked()
	switch {
	case !ok:
		d.stopLocked(StopTriggerFailed)
		return
	case next.IsZero():
		d.stopLocked(StopCompleted)
		return
	case !d.last.IsZero() && !next.After(d.last):
		// The trigger went backwards from a real execution. Arming it would
		// miss again on every tick.
		d.log.Warn("trigger returned a deadline before the last execution",
			logx.Time("last", d.last), logx.Time("next", next))
		d.stopLocked(StopTriggerStale)
		return
	}
	kind := armNormal
	if !next.After(d.clock.Now()) {
		kind = armMissed
	}
	d.armLocked(next, kind)
}

// nextDeadlineLocked asks the schedule for the deadline after d.last. The
// trigger is user code; a panic reports ok=false.
func (d *driver[R]) nextDeadlineLocked() (next time.Time, ok bool) {
	ok = d.guardTrigger(func() { next = d.cfg.next(d.last, d.anchor, d.iterations) })
	return next, ok
}

// guardTrigger runs fn, which calls the trigger, and reports whether it
// returned without panicking.
func (d *driver[R]) guardTrigger(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("schedule trigger panicked", logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 24)))
			ok = false
		}
	}()
	fn()
	return true
}

// rebaseLocked moves the last execution time to now and re-arms for the
// recomputed deadline without running the action. A trigger that still
// answers with a time at or before now cannot be rebased and stops the job
// with StopTriggerStale. Call with d.mu held.
func (d *driver[R]) rebaseLocked(now time.Time) {
	d.last = now
	if _, ok := d.state.(runningState); !ok {
		return
	}
	if d.limitReachedLocked() {
		d.stopLocked(StopMaxIterations)
		return
	}
	next, ok := d.nextDeadlineLocked()
	switch {
	case !ok:
		d.stopLocked(StopTriggerFailed)
	case next.IsZero():
		d.stopLocked(StopCompleted)
	case !next.After(now):
		d.log.Warn("trigger still in the past after rebase",
			logx.Time("now", now), logx.Time("next", next))
		d.stopLocked(StopTriggerStale)
	default:
		d.armLocked(next, armNormal)
	}
}

func (d *driver[R]) armLocked(deadline time.Time, kind armKind) {
	d.armSeq++
	seq := d.armSeq
	delay := deadline.Sub(d.clock.Now())
	if delay < 0 {
		delay = 0
	}
	t := d.clock.AfterFunc(delay, func() { d.fire(seq, deadline, kind) })
	d.state = runningState{pending: t}
	d.next = deadline
}

func (d *driver[R]) limitReachedLocked() bool {
	return d.cfg.MaxIterations > 0 && d.iterations >= d.cfg.MaxIterations
}

func (d *driver[R]) fire(seq uint64, deadline time.Time, kind armKind) {
	d.mu.Lock()
	if _, ok := d.state.(runningState); !ok || seq != d.armSeq || d.inflight {
		d.mu.Unlock()
		return
	}
	epoch := d.epoch
	now := d.clock.Now()
	d.state = runningState{}
	d.next = time.Time{}
	if d.limitReachedLocked() {
		d.stopLocked(StopMaxIterations)
		d.mu.Unlock()
		return
	}

	missed := kind == armMissed || (kind == armNormal && now.Sub(deadline) >= d.cfg.missedTolerance())
	plan := missPlan{action: missInvoke, count: 1}
	if missed {
		// Custom catch-up walks the trigger.
		if !d.guardTrigger(func() { plan = d.cfg.resolveMissed(d.cfg.MissedPolicy, deadline, now, d.cfg.maxCatchUp()) }) {
			d.stopLocked(StopTriggerFailed)
			d.mu.Unlock()
			return
		}
	}
	d.inflight = true
	d.mu.Unlock()

	if missed {
		d.log.Debug("missed execution",
			logx.Time("scheduled", deadline),
			logx.Duration("late", now.Sub(deadline)),
			logx.String("policy", d.cfg.MissedPolicy.String()),
			logx.Int("invocations", plan.count),
		)
		if fn := d.cfg.OnMissedExecution; fn != nil {
			d.callback("on_missed_execution", func() { fn(deadline, now) })
		}
	}

	switch plan.action {
	case missStop:
		d.stopEpoch(epoch, StopMissed)
	case missRebase:
		d.mu.Lock()
		if d.epoch == epoch {
			d.inflight = false
			d.rebaseLocked(now)
		}
		d.mu.Unlock()
	default:
		if d.burst(epoch, plan.count) {
			d.settle(epoch)
		}
	}
}

// burst runs the action up to count times in a row. It returns false when
// the job stopped (or was cancelled) along the way.
func (d *driver[R]) burst(epoch uint64, count int) bool {
	for i := 0; i < count; i++ {
		d.mu.Lock()
		if d.epoch != epoch {
			d.mu.Unlock()
			return false
		}
		if _, ok := d.state.(runningState); !ok {
			// Paused mid-burst: the remaining occurrences are dropped.
			d.mu.Unlock()
			return true
		}
		if d.limitReachedLocked() {
			d.stopLocked(StopMaxIterations)
			d.mu.Unlock()
			return false
		}
		iteration := d.iterations + 1
		run, ctx := d.run, d.ctx
		d.mu.Unlock()

		if fn := d.cfg.OnTick; fn != nil {
			d.callback("on_tick", func() { fn(iteration) })
		}

		started := d.clock.Now()
		result, err := d.invoke(ctx, run)
		conditionMet := false
		if err == nil && d.cfg.StopCondition != nil {
			conditionMet = d.stopCondition(result)
		}

		d.mu.Lock()
		if d.epoch != epoch {
			// Cancelled while the action was in flight.
			d.mu.Unlock()
			return false
		}
		d.iterations++
		d.last = d.clock.Now()
		reason := StopNone
		switch {
		case err != nil && d.cfg.Mode == ModeOneShot:
			reason = StopFailed
		case conditionMet:
			reason = StopConditionMet
		case d.cfg.Mode == ModeOneShot:
			reason = StopCompleted
		}
		if reason != StopNone {
			d.stopLocked(reason)
		}
		took := d.last.Sub(started)
		d.mu.Unlock()

		if err != nil {
			d.log.Debug("action failed", logx.Uint64("iteration", iteration), logx.Duration("took", took), logx.Err(err))
			if fn := d.cfg.OnScheduleError; fn != nil {
				d.callback("on_schedule_error", func() { fn(err) })
			}
		} else {
			d.log.Trace("action finished", logx.Uint64("iteration", iteration), logx.Duration("took", took))
		}
		if reason != StopNone {
			return false
		}
	}
	return true
}

// settle clears the in-flight marker and arms the next deadline if the job
// is still running.
func (d *driver[R]) settle(epoch uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.epoch != epoch {
		return
	}
	d.inflight = false
	if _, ok := d.state.(runningState); ok {
		d.scheduleNextLocked()
	}
}

func (d *driver[R]) invoke(ctx context.Context, run thunk[R]) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrActionPanic, r)
			d.log.Error("action panicked", logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 24)))
		}
	}()
	if run == nil {
		return result, ErrStopped
	}
	return run(ctx)
}

func (d *driver[R]) stopCondition(result R) (met bool) {
	d.callback("stop_condition", func() { met = d.cfg.StopCondition(result) })
	return met
}

// callback runs user code and keeps its panics out of the scheduling loop.
func (d *driver[R]) callback(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if d.cbWarn.Allow() {
				d.log.Warn("schedule callback panicked", logx.String("callback", name), logx.Any("panic", r))
			}
		}
	}()
	fn()
}

// stopLocked moves the job to Stopped. Call with d.mu held.
func (d *driver[R]) stopLocked(reason StopReason) {
	switch st := d.state.(type) {
	case stoppedState:
		return
	case runningState:
		if st.pending != nil {
			_ = st.pending.Stop()
		}
	}
	d.state = stoppedState{reason: reason}
	d.epoch++
	d.armSeq++
	d.inflight = false
	d.next = time.Time{}
	d.run = nil
	if d.releaseCtx != nil {
		d.releaseCtx()
		d.releaseCtx = nil
	}
	close(d.done)
	d.log.Debug("schedule stopped", logx.String("reason", string(reason)), logx.Uint64("iterations", d.iterations))
}

func (d *driver[R]) stopEpoch(epoch uint64, reason StopReason) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.epoch != epoch {
		return
	}
	d.stopLocked(reason)
}

func (d *driver[R]) pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.state.(runningState)
	if !ok {
		return
	}
	if st.pending != nil {
		_ = st.pending.Stop()
	}
	d.armSeq++
	d.state = pausedState{}
	d.next = time.Time{}
	d.log.Debug("schedule paused", logx.Uint64("iterations", d.iterations))
}

func (d *driver[R]) resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.state.(pausedState); !ok {
		return
	}
	d.state = runningState{}
	if !d.inflight {
		d.scheduleNextLocked()
	}
	d.log.Debug("schedule resumed", logx.Time("next", d.next))
}

func (d *driver[R]) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state.(type) {
	case runningState, pausedState:
		d.stopLocked(StopCancelled)
	}
}

func (d *driver[R]) status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{
		Lifecycle:     d.state.phase(),
		Iterations:    d.iterations,
		LastExecution: d.last,
		NextExecution: d.next,
		InFlight:      d.inflight,
	}
	if s, ok := d.state.(stoppedState); ok {
		st.StopReason = s.reason
	}
	return st
}

func (d *driver[R]) doneCh() <-chan struct{} { return d.done }
