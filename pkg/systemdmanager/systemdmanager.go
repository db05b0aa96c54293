// Package systemdmanager drives systemd units over D-Bus for the "systemd"
// job action.
package systemdmanager

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

// Op is a unit job verb.
type Op string

const (
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpRestart Op = "restart"
	OpReload  Op = "reload"
)

// ParseOp accepts the verbs above, case-insensitively. Empty means restart.
func ParseOp(s string) (Op, error) {
	switch op := Op(strings.ToLower(strings.TrimSpace(s))); op {
	case "":
		return OpRestart, nil
	case OpStart, OpStop, OpRestart, OpReload:
		return op, nil
	default:
		return "", fmt.Errorf("unknown unit op %q (start, stop, restart or reload)", s)
	}
}

// UnitName appends ".service" unless name already carries a unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		switch name[i+1:] {
		case "service", "socket", "timer", "target", "mount", "path", "slice", "scope":
			return name
		}
	}
	return name + ".service"
}

// JobError is returned when systemd finishes the unit job with a result
// other than "done".
type JobError struct {
	Op     Op
	Unit   string
	Result string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s %s: job %s", e.Op, e.Unit, e.Result)
}
