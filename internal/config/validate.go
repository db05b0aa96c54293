package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"cadence/pkg/scheduled"
	"cadence/pkg/systemdmanager"
)

// JobSettings is a JobConfig with every string field parsed.
type JobSettings struct {
	Name               string
	Schedule           scheduled.Schedule
	MissedPolicy       scheduled.MissedPolicy
	MissedTolerance    time.Duration
	MaxIterations      uint64
	ExecuteImmediately bool
	Timeout            time.Duration
	StopOnExitCode     *int
	Group              string
	GroupLimit         int
	Action             ActionConfig
}

// Location resolves the runner timezone. Empty means time.Local.
func (r RunnerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(r.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("runner.timezone: %w", err)
	}
	return loc, nil
}

// Settings parses j, falling back to the runner defaults. opts are passed to
// scheduled.ParseSchedule after the runner location.
func (j JobConfig) Settings(r RunnerConfig, opts ...scheduled.ParseOption) (JobSettings, error) {
	path := "jobs[" + j.Name + "]"
	loc, err := r.Location()
	if err != nil {
		return JobSettings{}, err
	}
	sch, err := scheduled.ParseSchedule(j.Schedule, append([]scheduled.ParseOption{scheduled.WithLocation(loc)}, opts...)...)
	if err != nil {
		return JobSettings{}, fmt.Errorf("%s.schedule: %w", path, err)
	}

	rawPolicy := j.MissedPolicy
	if strings.TrimSpace(rawPolicy) == "" {
		rawPolicy = r.MissedPolicy
	}
	policy, err := scheduled.ParseMissedPolicy(rawPolicy)
	if err != nil {
		return JobSettings{}, fmt.Errorf("%s.missed_policy: %w", path, err)
	}
	tol, err := ParseDurationField(path+".missed_tolerance", j.MissedTolerance)
	if err != nil {
		return JobSettings{}, err
	}
	timeout, err := ParseDurationField(path+".timeout", j.Timeout)
	if err != nil {
		return JobSettings{}, err
	}
	groupLimit := j.GroupLimit
	if groupLimit < 0 {
		return JobSettings{}, fmt.Errorf("%s.group_limit: must be >= 0", path)
	}
	if groupLimit == 0 {
		groupLimit = 1
	}
	return JobSettings{
		Name:               j.Name,
		Schedule:           sch,
		MissedPolicy:       policy,
		MissedTolerance:    tol,
		MaxIterations:      j.MaxIterations,
		ExecuteImmediately: j.ExecuteImmediately,
		Timeout:            timeout,
		StopOnExitCode:     j.StopOnExitCode,
		Group:              strings.TrimSpace(j.Group),
		GroupLimit:         groupLimit,
		Action:             j.Action,
	}, nil
}

// Validate checks the whole config and reports every problem found, each
// prefixed with its field path.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := cfg.Runner.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := scheduled.ParseMissedPolicy(cfg.Runner.MissedPolicy); err != nil {
		errs = append(errs, fmt.Errorf("runner.missed_policy: %w", err))
	}
	if _, err := ParseDurationField("runner.stop_timeout", cfg.Runner.StopTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Runner.HistorySize < 0 {
		errs = append(errs, errors.New("runner.history_size: must be >= 0"))
	}

	type groupDecl struct{ limit, job int }
	seen := make(map[string]int, len(cfg.Jobs))
	groups := map[string]groupDecl{}
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
			continue
		}
		if name != j.Name {
			errs = append(errs, fmt.Errorf("%s.name: surrounding whitespace in %q", path, j.Name))
		}
		if prev, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s.name: %q already used by jobs[%d]", path, name, prev))
		}
		seen[name] = i

		if _, err := j.Settings(cfg.Runner); err != nil {
			errs = append(errs, err)
		}
		if err := validateAction(path+".action", j); err != nil {
			errs = append(errs, err)
		}
		if g := strings.TrimSpace(j.Group); g != "" && !j.Disabled && j.GroupLimit >= 0 {
			limit := max(j.GroupLimit, 1)
			if prev, ok := groups[g]; !ok {
				groups[g] = groupDecl{limit: limit, job: i}
			} else if prev.limit != limit {
				errs = append(errs, fmt.Errorf("%s.group_limit: %d conflicts with %d set by jobs[%d] for group %q",
					path, limit, prev.limit, prev.job, g))
			}
		}
	}

	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Debug.Enabled {
		if err := validateDebug(cfg.Debug); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateAction(path string, j JobConfig) error {
	a := j.Action
	switch strings.ToLower(strings.TrimSpace(a.Kind)) {
	case ActionExec:
		if len(a.Command) == 0 || strings.TrimSpace(a.Command[0]) == "" {
			return fmt.Errorf("%s.command: required for exec actions", path)
		}
		for _, kv := range a.Env {
			if !strings.Contains(kv, "=") {
				return fmt.Errorf("%s.env: %q is not KEY=VALUE", path, kv)
			}
		}
	case ActionLog:
		if strings.TrimSpace(a.Message) == "" {
			return fmt.Errorf("%s.message: required for log actions", path)
		}
		if j.StopOnExitCode != nil {
			return fmt.Errorf("%s: stop_on_exit_code only applies to exec actions", path)
		}
	case ActionSystemd:
		if strings.TrimSpace(a.Unit) == "" {
			return fmt.Errorf("%s.unit: required for systemd actions", path)
		}
		if _, err := systemdmanager.ParseOp(a.Op); err != nil {
			return fmt.Errorf("%s.op: %w", path, err)
		}
		if j.StopOnExitCode != nil {
			return fmt.Errorf("%s: stop_on_exit_code only applies to exec actions", path)
		}
	case "":
		return fmt.Errorf("%s.kind: required (exec, log or systemd)", path)
	default:
		return fmt.Errorf("%s.kind: unknown action %q (exec, log or systemd)", path, a.Kind)
	}
	return nil
}

func validateDebug(d DebugConfig) error {
	addr := strings.TrimSpace(d.Addr)
	if addr == "" {
		addr = DefaultDebugAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("debug.addr: %w", err)
	}
	if !isLoopback(host) && strings.TrimSpace(d.Token) == "" && !d.AllowInsecure {
		return fmt.Errorf("debug.addr: %q is not loopback; set debug.token or debug.allow_insecure", addr)
	}
	for _, f := range []struct{ path, raw string }{
		{"debug.read_timeout", d.ReadTimeout},
		{"debug.write_timeout", d.WriteTimeout},
		{"debug.idle_timeout", d.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

// DefaultDebugAddr is where the debug server listens when debug.addr is empty.
const DefaultDebugAddr = "127.0.0.1:9464"

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
