package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cadence/internal/config"
	"cadence/internal/eventbus"
	"cadence/internal/storage"
	"cadence/pkg/scheduled"
	"cadence/pkg/systemdmanager"
	logx "cadence/pkg/logx"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrStarted    = errors.New("runner already started")
	ErrStopped    = errors.New("runner stopped")
	ErrGroupBusy  = errors.New("concurrency group busy")
)

func New(opts Options) *Service {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.New()
	}
	if opts.Clock == nil {
		opts.Clock = scheduled.SystemClock
	}
	if opts.Units == nil {
		opts.Units = systemdmanager.New()
	}
	return &Service{
		log:   opts.Log,
		bus:   opts.Bus,
		store: opts.Store,
		clock: opts.Clock,
		units: opts.Units,
		jobs:  map[string]*entry{},
	}
}

// AddJob registers js, replacing any job with the same name. When the runner
// is started the job starts immediately.
func (s *Service) AddJob(js config.JobSettings) error {
	if strings.TrimSpace(js.Name) == "" {
		return errors.New("job name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped() {
		return ErrStopped
	}
	s.removeLocked(js.Name)
	return s.addLocked(js)
}

// Remove cancels and forgets the named job. In-flight actions see their
// context cancelled.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) addLocked(js config.JobSettings) error {
	e, err := s.newEntry(js)
	if err != nil {
		return fmt.Errorf("job %q: %w", js.Name, err)
	}
	s.installLocked(e)
	return nil
}

// installLocked registers a built entry and starts it when the service runs.
func (s *Service) installLocked(e *entry) {
	js := e.settings
	s.jobs[js.Name] = e
	if s.ctx != nil {
		s.startLocked(e)
	}
	s.log.Debug("job registered",
		logx.String("job", js.Name),
		logx.String("schedule", js.Schedule.String()),
		logx.String("missed_policy", js.MissedPolicy.String()),
		logx.Duration("timeout", js.Timeout),
	)
}

func (s *Service) removeLocked(name string) bool {
	e, ok := s.jobs[name]
	if !ok {
		return false
	}
	delete(s.jobs, name)
	e.sub.Cancel()
	if e.cancel != nil {
		e.cancel()
	}
	s.log.Debug("job removed", logx.String("job", name))
	return true
}

func (s *Service) newEntry(js config.JobSettings) (*entry, error) {
	act, err := buildAction(js, s.log.With(logx.String("job", js.Name)), s.units)
	if err != nil {
		return nil, err
	}
	hist := s.runner.HistorySize
	if hist <= 0 {
		hist = DefaultHistorySize
	}
	e := &entry{settings: js, histSize: hist}
	log := s.log.With(logx.String("job", js.Name))

	cfg := scheduled.Config[ActionResult]{
		Schedule:           js.Schedule,
		Name:               js.Name,
		MissedPolicy:       js.MissedPolicy,
		MissedTolerance:    js.MissedTolerance,
		MaxIterations:      js.MaxIterations,
		ExecuteImmediately: js.ExecuteImmediately,
		Clock:              s.clock,
		Log:                log,
		OnTick: func(n uint64) {
			e.mu.Lock()
			e.iteration = n
			e.mu.Unlock()
			s.publish(eventbus.JobTick, eventbus.JobEvent{Job: js.Name, Iteration: n})
		},
		OnMissedExecution: func(scheduledAt, actual time.Time) {
			e.mu.Lock()
			e.missed++
			e.mu.Unlock()
			log.Warn("missed execution",
				logx.Time("scheduled", scheduledAt),
				logx.Duration("late", actual.Sub(scheduledAt)),
				logx.String("policy", js.MissedPolicy.String()),
			)
			s.publish(eventbus.JobMissed, eventbus.JobEvent{Job: js.Name, Scheduled: scheduledAt, Actual: actual})
		},
		OnScheduleError: func(err error) {
			e.mu.Lock()
			e.errors++
			e.lastErr = err.Error()
			iter := e.iteration
			e.mu.Unlock()
			log.Warn("action failed", logx.Uint64("iteration", iter), logx.Err(err))
			s.publish(eventbus.JobError, eventbus.JobEvent{Job: js.Name, Iteration: iter, Err: err.Error()})
		},
	}
	if js.StopOnExitCode != nil {
		code := *js.StopOnExitCode
		cfg.StopCondition = func(r ActionResult) bool { return r.ExitCode == code }
	}

	job, err := scheduled.New(cfg, func(ctx context.Context) (ActionResult, error) {
		s.inflight.enter()
		defer s.inflight.leave()

		e.mu.Lock()
		iter := e.iteration
		e.mu.Unlock()

		if js.Group != "" {
			sem := s.groups.get(js.Group, js.GroupLimit)
			if !sem.tryAcquire() {
				err := fmt.Errorf("%w: %s", ErrGroupBusy, js.Group)
				now := s.clock.Now()
				s.record(e, iter, now, 0, ActionResult{ExitCode: -1}, err)
				return ActionResult{ExitCode: -1}, err
			}
			defer sem.release()
		}

		runCtx := ctx
		if js.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, js.Timeout)
			defer cancel()
		}
		started := s.clock.Now()
		res, err := act(runCtx, iter)
		s.record(e, iter, started, s.clock.Now().Sub(started), res, err)
		return res, err
	})
	if err != nil {
		return nil, err
	}
	e.job = job
	return e, nil
}

// record keeps a finished run in memory, persists it and announces it.
func (s *Service) record(e *entry, iter uint64, started time.Time, took time.Duration, res ActionResult, err error) {
	item := HistoryItem{Iteration: iter, Started: started, Duration: took, ExitCode: res.ExitCode}
	if err != nil {
		item.Error = err.Error()
	}
	e.mu.Lock()
	e.history = append(e.history, item)
	if len(e.history) > e.histSize {
		e.history = e.history[len(e.history)-e.histSize:]
	}
	e.mu.Unlock()

	name := e.settings.Name
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		serr := s.store.AppendRun(ctx, storage.Run{
			Job:       name,
			Iteration: iter,
			Started:   started,
			Finished:  started.Add(took),
			TookMS:    took.Milliseconds(),
			OK:        err == nil,
			Error:     item.Error,
			ExitCode:  res.ExitCode,
		})
		cancel()
		if serr != nil {
			s.log.Debug("run history append failed", logx.String("job", name), logx.Err(serr))
		}
	}
	s.publish(eventbus.JobFinished, eventbus.JobEvent{Job: name, Iteration: iter, Actual: started, Duration: took, Err: item.Error})
}

func (s *Service) publish(topic string, ev eventbus.JobEvent) {
	s.bus.Publish(eventbus.Event{Type: topic, Time: s.clock.Now(), Data: ev})
}

// Start starts every registered job. Jobs added later start on AddJob.
// Cancelling ctx stops every job.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped() {
		return ErrStopped
	}
	if s.ctx != nil {
		return ErrStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, e := range s.jobs {
		s.startLocked(e)
	}
	s.log.Info("runner started", logx.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Service) startLocked(e *entry) {
	name := e.settings.Name
	jobCtx, cancel := context.WithCancel(s.ctx)
	sub, err := e.job.Start(jobCtx)
	if err != nil {
		cancel()
		s.log.Error("job start failed", logx.String("job", name), logx.Err(err))
		return
	}
	e.sub, e.cancel = sub, cancel
	go func() {
		<-sub.Done()
		st := sub.Status()
		s.log.Info("job stopped",
			logx.String("job", name),
			logx.String("reason", string(st.StopReason)),
			logx.Uint64("iterations", st.Iterations),
		)
		s.publish(eventbus.JobStopped, eventbus.JobEvent{Job: name, Iteration: st.Iterations, Reason: string(st.StopReason)})
	}()
}

// stopped reports whether Stop ran. Call with s.mu held.
func (s *Service) stopped() bool { return s.ctx != nil && s.cancel == nil }

// Stop cancels every job, then waits (bounded by ctx) for in-flight actions
// before cancelling their contexts.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	if s.ctx == nil || s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	for _, e := range s.jobs {
		e.sub.Cancel()
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	var err error
	select {
	case <-s.inflight.idle():
	case <-ctx.Done():
		err = fmt.Errorf("runner stop: %w", ctx.Err())
	}
	cancel()
	if c, ok := s.units.(interface{ Close() }); ok {
		c.Close()
	}
	s.log.Info("runner stopped", logx.Duration("took", time.Since(start)), logx.Bool("drained", err == nil))
	return err
}

func (s *Service) subscription(name string) (*scheduled.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return e.sub, nil
}

func (s *Service) Pause(name string) error {
	sub, err := s.subscription(name)
	sub.Pause()
	return err
}

func (s *Service) Resume(name string) error {
	sub, err := s.subscription(name)
	sub.Resume()
	return err
}

// Cancel stops the named job but keeps it listed until the next reload.
func (s *Service) Cancel(name string) error {
	sub, err := s.subscription(name)
	sub.Cancel()
	return err
}

// Subscription returns the named job's handle, or nil when the job is
// unknown or the runner has not started.
func (s *Service) Subscription(name string) *scheduled.Subscription {
	sub, _ := s.subscription(name)
	return sub
}
