package scheduled

import "time"

type missAction int

const (
	// missInvoke runs the action count times back to back.
	missInvoke missAction = iota
	// missRebase moves the last execution time to now and recomputes.
	missRebase
	// missStop ends the schedule without running.
	missStop
)

type missPlan struct {
	action missAction
	count  int
}

// resolveMissed turns a deadline that was due at scheduled but is only being
// handled at now into a plan.
func (s Schedule) resolveMissed(policy MissedPolicy, scheduled, now time.Time, maxCatchUp int) missPlan {
	switch policy {
	case MissedExecuteImmediately:
		return missPlan{action: missInvoke, count: 1}
	case MissedCatchUp:
		if s.Mode == ModeOneShot {
			return missPlan{action: missInvoke, count: 1}
		}
		return missPlan{action: missInvoke, count: s.catchUpCount(scheduled, now, maxCatchUp)}
	case MissedReschedule:
		// A one-shot deadline is absolute; rebasing it onto now means now.
		if s.Mode == ModeOneShot {
			return missPlan{action: missInvoke, count: 1}
		}
		return missPlan{action: missRebase}
	default:
		if s.Mode == ModeOneShot {
			return missPlan{action: missStop}
		}
		return missPlan{action: missRebase}
	}
}

// catchUpCount counts the occurrence boundaries that elapsed after scheduled,
// up to and including now. It is at least 1 and at most limit.
//
// Recurring: a deadline at 10 handled at 45 with an interval of 10 yields 3
// (the boundaries at 20, 30 and 40).
func (s Schedule) catchUpCount(scheduled, now time.Time, limit int) int {
	n := 0
	switch s.Mode {
	case ModeRecurring:
		if s.Interval > 0 && now.After(scheduled) {
			steps := now.Sub(scheduled) / s.Interval
			if limit > 0 && steps > time.Duration(limit) {
				steps = time.Duration(limit)
			}
			n = int(steps)
		}
	case ModeCustom:
		cursor := scheduled
		for limit <= 0 || n < limit {
			nxt := s.Trigger(cursor)
			if nxt.IsZero() || !nxt.After(cursor) || nxt.After(now) {
				break
			}
			n++
			cursor = nxt
		}
	}
	if n < 1 {
		n = 1
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return n
}
