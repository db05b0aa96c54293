// Package runner keeps the daemon's named jobs.
//
// Each job is a scheduled.Job built from config. The runner:
//   - upserts jobs by name and reconciles them on config reload (Apply)
//   - runs exec and log actions with a per-run timeout
//   - feeds job callbacks into the event bus, logs and run-history store
//   - exposes a Snapshot for the debug server
package runner
