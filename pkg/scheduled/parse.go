package scheduled

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Standard 5-field cron with an optional leading seconds field, plus
// descriptors such as "@hourly".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

type parseOptions struct {
	loc   *time.Location
	clock Clock
}

// ParseOption tunes ParseSchedule.
type ParseOption func(*parseOptions)

// WithLocation sets the time zone cron expressions are evaluated in.
// The default is time.Local.
func WithLocation(loc *time.Location) ParseOption {
	return func(o *parseOptions) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithClock sets the clock a cron trigger reads before its first run. It
// should be the same clock the job is configured with.
func WithClock(c Clock) ParseOption {
	return func(o *parseOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// ParseSchedule turns a schedule string into a Schedule.
//
// Accepted forms:
//   - "at:2026-01-02T15:04:05Z" one-shot (RFC 3339)
//   - "cron:<expr>" or anything with whitespace or a leading '@': cron
//     ("*/5 * * * *", "0 30 * * * *", "@hourly")
//   - "@every 90s", "every:90s", "interval:02:30", "55m", "00:50": fixed interval
func ParseSchedule(raw string, opts ...ParseOption) (Schedule, error) {
	o := parseOptions{loc: time.Local, clock: SystemClock}
	for _, opt := range opts {
		opt(&o)
	}

	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)

	switch {
	case strings.HasPrefix(low, "at:"):
		v := strings.TrimSpace(s[len("at:"):])
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid one-shot time %q (use RFC 3339 like '2026-01-02T15:04:05Z')", v)
		}
		sch := OneShot(at)
		sch.Spec = s
		return sch, nil

	case strings.HasPrefix(low, "interval:"), strings.HasPrefix(low, "every:"):
		v := s[strings.IndexByte(s, ':')+1:]
		d, err := parseInterval(v)
		if err != nil {
			return Schedule{}, err
		}
		sch := Every(d)
		sch.Spec = s
		return sch, nil

	case strings.HasPrefix(low, "@every "):
		d, err := parseInterval(s[len("@every "):])
		if err != nil {
			return Schedule{}, err
		}
		sch := Every(d)
		sch.Spec = s
		return sch, nil

	case strings.HasPrefix(low, "cron:"):
		return parseCron(s, strings.TrimSpace(s[len("cron:"):]), o)

	case strings.ContainsAny(s, " \t\r\n") || strings.HasPrefix(s, "@"):
		return parseCron(s, s, o)
	}

	d, err := parseInterval(s)
	if err != nil {
		return Schedule{}, fmt.Errorf(
			"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', duration like '55m' or at:<RFC3339>)",
			raw,
		)
	}
	sch := Every(d)
	sch.Spec = s
	return sch, nil
}

func parseCron(spec, expr string, o parseOptions) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron expression required")
	}
	trig, err := CronTrigger(expr, o.loc, o.clock)
	if err != nil {
		return Schedule{}, err
	}
	sch := Custom(trig)
	sch.Spec = spec
	return sch, nil
}

// CronTrigger builds a TriggerFunc from a cron expression. Before the first
// run the next occurrence is taken relative to clock.Now().
func CronTrigger(expr string, loc *time.Location, clock Clock) (TriggerFunc, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = SystemClock
	}
	return func(last time.Time) time.Time {
		if last.IsZero() {
			last = clock.Now()
		}
		return sched.Next(last.In(loc))
	}, nil
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		d, err = time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
