// Package logx is cadence's structured logging layer on top of zerolog.
//
// A Logger is a value type: copy it freely, derive children with With. A
// Logger obtained from a Service follows every Service.Apply, so a config
// reload that changes the level or sinks reaches loggers handed out at
// startup.
//
// Sinks:
//   - console: human readable, or JSON when console_json is set (journald)
//   - file: JSON lines
//   - alert: JSON lines at or above a minimum level, rate limited
package logx
