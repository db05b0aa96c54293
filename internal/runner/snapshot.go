package runner

import (
	"sort"
	"strings"

	"cadence/pkg/scheduled"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	started := s.ctx != nil && s.cancel != nil
	tz := strings.TrimSpace(s.runner.Timezone)
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	if tz == "" {
		if loc, err := s.runner.Location(); err == nil {
			tz = loc.String()
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].settings.Name < entries[j].settings.Name })

	jobs := make([]JobInfo, 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, e.info())
	}
	return Snapshot{Started: started, Timezone: tz, Jobs: jobs}
}

// RunningJobs counts jobs whose schedule is live (running or paused).
func (s *Service) RunningJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.jobs {
		if l := e.job.Status().Lifecycle; l == scheduled.Running || l == scheduled.Paused {
			n++
		}
	}
	return n
}

// History returns the in-memory runs of name, oldest first.
func (s *Service) History(name string) ([]HistoryItem, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, ErrUnknownJob
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]HistoryItem, len(e.history))
	copy(out, e.history)
	return out, nil
}

func (e *entry) info() JobInfo {
	js := e.settings
	st := e.job.Status()
	e.mu.Lock()
	missed, errs, lastErr := e.missed, e.errors, e.lastErr
	e.mu.Unlock()
	return JobInfo{
		Name:         js.Name,
		Schedule:     js.Schedule.String(),
		Mode:         js.Schedule.Mode.String(),
		MissedPolicy: js.MissedPolicy.String(),
		Action:       strings.ToLower(js.Action.Kind),
		Lifecycle:    st.Lifecycle.String(),
		StopReason:   string(st.StopReason),
		Iterations:   st.Iterations,
		InFlight:     st.InFlight,
		Missed:       missed,
		Errors:       errs,
		Next:         st.NextExecution,
		Last:         st.LastExecution,
		LastError:    lastErr,
	}
}
