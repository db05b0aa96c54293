package scheduled

import "time"

// next returns the deadline following last, or the zero time when the
// schedule has nothing left to run.
//
// anchor stands in for last before the first execution. It is the Start
// time, so a recurring job paused before its first tick keeps its original
// first deadline.
func (s Schedule) next(last, anchor time.Time, iterations uint64) time.Time {
	switch s.Mode {
	case ModeOneShot:
		if iterations == 0 {
			return s.At
		}
		return time.Time{}
	case ModeRecurring:
		base := last
		if base.IsZero() {
			base = anchor
		}
		return base.Add(s.Interval)
	case ModeCustom:
		if s.Trigger == nil {
			return time.Time{}
		}
		return s.Trigger(last)
	default:
		return time.Time{}
	}
}

// Preview lists up to n upcoming deadlines as if the job had last run at
// from. One-shot schedules yield at most one deadline.
func (s Schedule) Preview(from time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	last := from
	for i := 0; i < n; i++ {
		t := s.next(last, from, uint64(i))
		if t.IsZero() || (i > 0 && !t.After(last)) {
			break
		}
		out = append(out, t)
		last = t
	}
	return out
}
