package scheduled

import (
	"context"
	"fmt"
)

// Func is an action without arguments.
type Func[R any] func(ctx context.Context) (R, error)

// Func1 is an action with one argument bound at Start.
type Func1[A, R any] func(ctx context.Context, a A) (R, error)

// Func2 is an action with two arguments bound at Start.
type Func2[A, B, R any] func(ctx context.Context, a A, b B) (R, error)

// Job is a scheduled action without arguments. A Job starts at most once.
type Job[R any] struct {
	d  *driver[R]
	fn Func[R]
}

// New validates cfg and wraps fn.
func New[R any](cfg Config[R], fn Func[R]) (*Job[R], error) {
	if fn == nil {
		return nil, configErr("action", "required")
	}
	d, err := newDriver(cfg)
	if err != nil {
		return nil, err
	}
	return &Job[R]{d: d, fn: fn}, nil
}

// Start activates the schedule. Cancelling ctx cancels the schedule; ctx is
// also the context every invocation receives.
func (j *Job[R]) Start(ctx context.Context) (*Subscription, error) {
	fn := j.fn
	return j.d.start(ctx, func(ctx context.Context) (R, error) { return fn(ctx) })
}

// Call always fails: a scheduled job only runs through Start.
func (j *Job[R]) Call(context.Context) (R, error) {
	var zero R
	return zero, fmt.Errorf("call: %w", ErrDirectCall)
}

func (j *Job[R]) Status() Status { return j.d.status() }

// Job1 is a scheduled action with one argument.
type Job1[A, R any] struct {
	d  *driver[R]
	fn Func1[A, R]
}

func New1[A, R any](cfg Config[R], fn Func1[A, R]) (*Job1[A, R], error) {
	if fn == nil {
		return nil, configErr("action", "required")
	}
	d, err := newDriver(cfg)
	if err != nil {
		return nil, err
	}
	return &Job1[A, R]{d: d, fn: fn}, nil
}

// Start binds a for every invocation and activates the schedule.
func (j *Job1[A, R]) Start(ctx context.Context, a A) (*Subscription, error) {
	fn := j.fn
	return j.d.start(ctx, func(ctx context.Context) (R, error) { return fn(ctx, a) })
}

func (j *Job1[A, R]) Call(context.Context, A) (R, error) {
	var zero R
	return zero, fmt.Errorf("call: %w", ErrDirectCall)
}

func (j *Job1[A, R]) Status() Status { return j.d.status() }

// Job2 is a scheduled action with two arguments.
type Job2[A, B, R any] struct {
	d  *driver[R]
	fn Func2[A, B, R]
}

func New2[A, B, R any](cfg Config[R], fn Func2[A, B, R]) (*Job2[A, B, R], error) {
	if fn == nil {
		return nil, configErr("action", "required")
	}
	d, err := newDriver(cfg)
	if err != nil {
		return nil, err
	}
	return &Job2[A, B, R]{d: d, fn: fn}, nil
}

func (j *Job2[A, B, R]) Start(ctx context.Context, a A, b B) (*Subscription, error) {
	fn := j.fn
	return j.d.start(ctx, func(ctx context.Context) (R, error) { return fn(ctx, a, b) })
}

func (j *Job2[A, B, R]) Call(context.Context, A, B) (R, error) {
	var zero R
	return zero, fmt.Errorf("call: %w", ErrDirectCall)
}

func (j *Job2[A, B, R]) Status() Status { return j.d.status() }

// Outcome is the single value an asynchronous action delivers.
type Outcome[R any] struct {
	Value R
	Err   error
}

// Async adapts an action that reports through a channel. The invocation is
// considered in flight until the channel yields, is closed (ErrNoOutcome) or
// ctx ends.
func Async[R any](fn func(ctx context.Context) <-chan Outcome[R]) Func[R] {
	return func(ctx context.Context) (R, error) {
		var zero R
		ch := fn(ctx)
		if ch == nil {
			return zero, ErrNoOutcome
		}
		select {
		case out, ok := <-ch:
			if !ok {
				return zero, ErrNoOutcome
			}
			return out.Value, out.Err
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// NoResult adapts an action that only reports an error.
func NoResult(fn func(ctx context.Context) error) Func[struct{}] {
	return func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}
}
