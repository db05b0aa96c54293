package scheduled

import (
	"fmt"
	"strings"
	"time"

	logx "cadence/pkg/logx"
)

// Mode selects how deadlines are produced.
type Mode int

const (
	ModeOneShot Mode = iota
	ModeRecurring
	ModeCustom
)

func (m Mode) String() string {
	switch m {
	case ModeOneShot:
		return "one_shot"
	case ModeRecurring:
		return "recurring"
	case ModeCustom:
		return "custom"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MissedPolicy decides what happens to a deadline that has already passed
// when the job gets to evaluate it.
type MissedPolicy int

const (
	MissedSkip MissedPolicy = iota
	MissedExecuteImmediately
	MissedCatchUp
	MissedReschedule
)

func (p MissedPolicy) String() string {
	switch p {
	case MissedSkip:
		return "skip"
	case MissedExecuteImmediately:
		return "execute_immediately"
	case MissedCatchUp:
		return "catch_up"
	case MissedReschedule:
		return "reschedule"
	default:
		return fmt.Sprintf("missed_policy(%d)", int(p))
	}
}

// ParseMissedPolicy accepts the String() forms plus a few common spellings.
// An empty string yields MissedSkip.
func ParseMissedPolicy(s string) (MissedPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return MissedSkip, nil
	case "execute_immediately", "execute-immediately", "immediate", "run":
		return MissedExecuteImmediately, nil
	case "catch_up", "catch-up", "catchup":
		return MissedCatchUp, nil
	case "reschedule", "rebase":
		return MissedReschedule, nil
	default:
		return MissedSkip, fmt.Errorf("unknown missed policy %q (use skip, execute_immediately, catch_up or reschedule)", s)
	}
}

// Lifecycle is the externally visible state of a job.
type Lifecycle int

const (
	Idle Lifecycle = iota
	Running
	Paused
	Stopped
)

func (l Lifecycle) String() string {
	switch l {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("lifecycle(%d)", int(l))
	}
}

// StopReason records why a job reached Stopped.
type StopReason string

const (
	StopNone          StopReason = ""
	StopCancelled     StopReason = "cancelled"
	StopContextDone   StopReason = "context_done"
	StopCompleted     StopReason = "completed"
	StopMaxIterations StopReason = "max_iterations"
	StopConditionMet  StopReason = "stop_condition"
	StopFailed        StopReason = "failed"
	StopMissed        StopReason = "missed"
	// StopTriggerStale: a custom trigger kept answering with deadlines at or
	// before the last execution (or before now after a rebase).
	StopTriggerStale StopReason = "trigger_stale"
	// StopTriggerFailed: a custom trigger panicked.
	StopTriggerFailed StopReason = "trigger_failed"
)

// TriggerFunc computes the next deadline from the last execution time.
// last is the zero time on the very first call. Returning the zero time ends
// the schedule.
//
// The function runs while the job holds its internal lock, so it must be
// quick and must not call back into the job or its Subscription. A panic is
// recovered and stops the job with StopTriggerFailed. After the first
// execution a result at or before last stops the job with StopTriggerStale.
type TriggerFunc func(last time.Time) time.Time

// Schedule is the trigger half of a Config. Exactly one of At, Interval and
// Trigger is set, matching Mode.
type Schedule struct {
	Mode     Mode
	At       time.Time
	Interval time.Duration
	Trigger  TriggerFunc

	// Spec is the source text when the schedule came from ParseSchedule.
	Spec string
}

func (s Schedule) String() string {
	if s.Spec != "" {
		return s.Spec
	}
	switch s.Mode {
	case ModeOneShot:
		return "at " + s.At.Format(time.RFC3339)
	case ModeRecurring:
		return "every " + s.Interval.String()
	default:
		return s.Mode.String()
	}
}

// OneShot returns a schedule that fires once at at.
func OneShot(at time.Time) Schedule { return Schedule{Mode: ModeOneShot, At: at} }

// Every returns a fixed-interval schedule.
func Every(interval time.Duration) Schedule {
	return Schedule{Mode: ModeRecurring, Interval: interval}
}

// Custom returns a schedule driven by fn.
func Custom(fn TriggerFunc) Schedule { return Schedule{Mode: ModeCustom, Trigger: fn} }

const (
	// DefaultMissedTolerance is how late a one-shot or custom deadline may
	// fire before it counts as missed. Recurring schedules use their interval.
	DefaultMissedTolerance = time.Second

	// DefaultMaxCatchUp bounds a single catch-up burst.
	DefaultMaxCatchUp = 1000
)

// Config is immutable once passed to New, New1 or New2.
type Config[R any] struct {
	Schedule

	// Name is only used for logging.
	Name string

	MissedPolicy MissedPolicy

	// MissedTolerance overrides how late an armed deadline may fire before
	// it is treated as missed. Zero uses the interval for recurring
	// schedules and DefaultMissedTolerance otherwise.
	MissedTolerance time.Duration

	// MaxCatchUp caps one MissedCatchUp burst. Zero uses DefaultMaxCatchUp.
	MaxCatchUp int

	// MaxIterations stops the job after that many invocations. Zero means
	// unbounded.
	MaxIterations uint64

	// StopCondition is evaluated after every successful invocation.
	StopCondition func(result R) bool

	// ExecuteImmediately runs the action once on Start, before the first
	// computed deadline.
	ExecuteImmediately bool

	// OnTick receives the 1-based iteration number before each invocation.
	OnTick func(iteration uint64)

	// OnMissedExecution fires once per detected miss, before the policy acts.
	OnMissedExecution func(scheduled, actual time.Time)

	// OnScheduleError receives every action failure.
	OnScheduleError func(err error)

	Clock Clock
	Log   logx.Logger
}

// Validate checks that the schedule fields match Mode and that the policy
// knobs are in range.
func (c Config[R]) Validate() error {
	switch c.Mode {
	case ModeOneShot:
		if c.At.IsZero() {
			return configErr("at", "required for one-shot schedules")
		}
		if c.Interval != 0 {
			return configErr("interval", "must be empty for one-shot schedules")
		}
		if c.Trigger != nil {
			return configErr("trigger", "must be empty for one-shot schedules")
		}
	case ModeRecurring:
		if c.Interval <= 0 {
			return configErr("interval", "must be > 0 for recurring schedules")
		}
		if !c.At.IsZero() {
			return configErr("at", "must be empty for recurring schedules")
		}
		if c.Trigger != nil {
			return configErr("trigger", "must be empty for recurring schedules")
		}
	case ModeCustom:
		if c.Trigger == nil {
			return configErr("trigger", "required for custom schedules")
		}
		if !c.At.IsZero() {
			return configErr("at", "must be empty for custom schedules")
		}
		if c.Interval != 0 {
			return configErr("interval", "must be empty for custom schedules")
		}
	default:
		return configErr("mode", "unknown mode %d", int(c.Mode))
	}
	if c.MissedPolicy < MissedSkip || c.MissedPolicy > MissedReschedule {
		return configErr("missed_policy", "unknown policy %d", int(c.MissedPolicy))
	}
	if c.MissedTolerance < 0 {
		return configErr("missed_tolerance", "must be >= 0")
	}
	if c.MaxCatchUp < 0 {
		return configErr("max_catch_up", "must be >= 0")
	}
	return nil
}

func (c Config[R]) missedTolerance() time.Duration {
	if c.MissedTolerance > 0 {
		return c.MissedTolerance
	}
	if c.Mode == ModeRecurring {
		return c.Interval
	}
	return DefaultMissedTolerance
}

func (c Config[R]) maxCatchUp() int {
	if c.MaxCatchUp > 0 {
		return c.MaxCatchUp
	}
	return DefaultMaxCatchUp
}

// Status is a point-in-time view of a job. Zero times mean "none".
type Status struct {
	Lifecycle     Lifecycle
	StopReason    StopReason
	Iterations    uint64
	LastExecution time.Time
	NextExecution time.Time
	InFlight      bool
}
