// Package scheduled turns an action into a one-shot, fixed-interval or
// custom-triggered job with pause/resume/cancel control.
//
// A job is built once from a Config and an action of arity 0, 1 or 2 (New,
// New1, New2). Start binds the arguments and returns a Subscription; the
// schedule then runs until it is cancelled, its trigger is exhausted, its
// MaxIterations is reached or its StopCondition matches.
//
// Deadlines that have already passed when they are evaluated are resolved by
// the configured MissedPolicy:
//   - MissedSkip drops the occurrence and rebases on the current time
//   - MissedExecuteImmediately runs the action once right away
//   - MissedCatchUp replays every missed occurrence back to back
//   - MissedReschedule rebases on the current time without running
//
// Action errors never escape the scheduling loop. They are reported through
// Config.OnScheduleError; recurring and custom schedules keep running, one-shot
// schedules stop.
package scheduled
