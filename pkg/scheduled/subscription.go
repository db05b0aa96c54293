package scheduled

import (
	"context"
	"time"
)

type control interface {
	pause()
	resume()
	cancel()
	status() Status
	doneCh() <-chan struct{}
}

// Subscription controls one started job. Every method is safe for concurrent
// use, and control calls after the job stopped are no-ops.
type Subscription struct {
	c control
}

// Pause disarms the pending deadline. Counters and the last execution time
// are kept. An action already running finishes normally.
func (s *Subscription) Pause() {
	if s == nil || s.c == nil {
		return
	}
	s.c.pause()
}

// Resume re-arms from the preserved last execution time.
func (s *Subscription) Resume() {
	if s == nil || s.c == nil {
		return
	}
	s.c.resume()
}

// Cancel stops the job for good. It does not interrupt an action that is
// already running; that invocation's outcome is discarded.
func (s *Subscription) Cancel() {
	if s == nil || s.c == nil {
		return
	}
	s.c.cancel()
}

func (s *Subscription) Status() Status {
	if s == nil || s.c == nil {
		return Status{Lifecycle: Stopped}
	}
	return s.c.status()
}

func (s *Subscription) IsRunning() bool          { return s.Status().Lifecycle == Running }
func (s *Subscription) IsPaused() bool           { return s.Status().Lifecycle == Paused }
func (s *Subscription) Lifecycle() Lifecycle     { return s.Status().Lifecycle }
func (s *Subscription) StopReason() StopReason   { return s.Status().StopReason }
func (s *Subscription) IterationCount() uint64   { return s.Status().Iterations }
func (s *Subscription) NextExecution() time.Time { return s.Status().NextExecution }
func (s *Subscription) LastExecution() time.Time { return s.Status().LastExecution }

// Done is closed once the job reaches Stopped.
func (s *Subscription) Done() <-chan struct{} {
	if s == nil || s.c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.c.doneCh()
}

// Wait blocks until the job stops or ctx ends, and returns the stop reason.
func (s *Subscription) Wait(ctx context.Context) (StopReason, error) {
	select {
	case <-s.Done():
		return s.StopReason(), nil
	case <-ctx.Done():
		return StopNone, ctx.Err()
	}
}
