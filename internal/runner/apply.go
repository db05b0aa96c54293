package runner

import (
	"errors"
	"fmt"

	"cadence/internal/config"
	"cadence/pkg/scheduled"
	logx "cadence/pkg/logx"
)

// Apply reconciles the registry with cfg.Jobs. Only jobs whose effective
// config changed since the previous Apply are replaced; untouched jobs keep
// their iteration count and schedule. A job that fails to parse is reported
// in the returned error while the rest still apply: a running job keeps its
// previous definition and the failed one is rebuilt on the next Apply.
func (s *Service) Apply(cfg *config.Config) (Report, error) {
	if cfg == nil {
		return Report{}, errors.New("config is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped() {
		return Report{}, ErrStopped
	}

	ch := config.Diff(s.applied, cfg)
	s.runner = cfg.Runner

	var (
		rep    Report
		errs   []error
		failed = map[string]bool{}
	)
	for _, name := range ch.Removed {
		if s.removeLocked(name) {
			rep.Removed = append(rep.Removed, name)
		}
	}
	for _, name := range s.pendingLocked(cfg, ch) {
		jc, ok := cfg.Job(name)
		if !ok {
			continue
		}
		if jc.Disabled {
			s.removeLocked(name)
			rep.Disabled = append(rep.Disabled, name)
			continue
		}
		var e *entry
		js, err := jc.Settings(cfg.Runner, scheduled.WithClock(s.clock))
		if err == nil {
			e, err = s.newEntry(js)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", name, err))
			failed[name] = true
			continue
		}
		if s.removeLocked(name) {
			rep.Replaced = append(rep.Replaced, name)
		} else {
			rep.Added = append(rep.Added, name)
		}
		s.installLocked(e)
	}
	s.applied = s.baseline(cfg, failed)
	s.retry = failed

	inUse := map[string]bool{}
	for _, e := range s.jobs {
		if g := e.settings.Group; g != "" {
			inUse[g] = true
		}
	}
	s.groups.prune(inUse)

	if len(rep.Added)+len(rep.Removed)+len(rep.Replaced)+len(rep.Disabled) > 0 {
		s.log.Info("jobs applied",
			logx.Int("added", len(rep.Added)),
			logx.Int("removed", len(rep.Removed)),
			logx.Int("replaced", len(rep.Replaced)),
			logx.Int("disabled", len(rep.Disabled)),
			logx.Int("total", len(s.jobs)),
		)
	}
	return rep, errors.Join(errs...)
}

// pendingLocked lists the jobs to (re)build: added and changed ones plus any
// that failed last time and are still configured.
func (s *Service) pendingLocked(cfg *config.Config, ch config.Change) []string {
	names := append(append([]string(nil), ch.Added...), ch.Changed...)
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for n := range s.retry {
		if _, ok := cfg.Job(n); ok && !seen[n] {
			names = append(names, n)
		}
	}
	return names
}

// baseline is what the next Apply diffs against. A failed job keeps the
// definition that is actually registered, or none when nothing is.
func (s *Service) baseline(cfg *config.Config, failed map[string]bool) *config.Config {
	if len(failed) == 0 {
		return cfg
	}
	out := *cfg
	out.Jobs = make([]config.JobConfig, 0, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		if !failed[jc.Name] {
			out.Jobs = append(out.Jobs, jc)
			continue
		}
		if old, ok := s.applied.Job(jc.Name); ok {
			out.Jobs = append(out.Jobs, old)
		}
	}
	return &out
}
