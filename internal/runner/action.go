package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"cadence/internal/config"
	"cadence/pkg/systemdmanager"
	logx "cadence/pkg/logx"
)

// outputTail bounds how much exec output is kept per run.
const outputTail = 4 << 10

type actionFunc func(ctx context.Context, iteration uint64) (ActionResult, error)

func buildAction(js config.JobSettings, log logx.Logger, units Units) (actionFunc, error) {
	a := js.Action
	switch strings.ToLower(strings.TrimSpace(a.Kind)) {
	case config.ActionExec:
		if len(a.Command) == 0 || strings.TrimSpace(a.Command[0]) == "" {
			return nil, errors.New("exec action: command required")
		}
		return execAction(js.Name, a, js.StopOnExitCode), nil
	case config.ActionLog:
		return logAction(a, log), nil
	case config.ActionSystemd:
		op, err := systemdmanager.ParseOp(a.Op)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(a.Unit) == "" {
			return nil, errors.New("systemd action: unit required")
		}
		if units == nil {
			return nil, errors.New("systemd action: no unit controller")
		}
		return unitAction(units, op, a.Unit), nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

// execAction runs the command once per tick. A non-zero exit is an error
// unless it equals stopCode, which is reported as a result so the job's stop
// condition sees it.
func execAction(job string, a config.ActionConfig, stopCode *int) actionFunc {
	argv := append([]string(nil), a.Command...)
	env := append([]string(nil), a.Env...)
	return func(ctx context.Context, iteration uint64) (ActionResult, error) {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = a.Dir
		cmd.Env = append(os.Environ(), env...)
		cmd.Env = append(cmd.Env,
			"CADENCE_JOB="+job,
			"CADENCE_ITERATION="+strconv.FormatUint(iteration, 10),
		)
		out := &tailBuffer{max: outputTail}
		cmd.Stdout = out
		cmd.Stderr = out
		cmd.WaitDelay = 2 * time.Second

		err := cmd.Run()
		res := ActionResult{ExitCode: -1, Output: out.String()}
		if cmd.ProcessState != nil {
			res.ExitCode = cmd.ProcessState.ExitCode()
		}
		if err == nil {
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%s: %w", argv[0], ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if stopCode != nil && res.ExitCode == *stopCode {
				return res, nil
			}
			return res, fmt.Errorf("%s: exit status %d%s", argv[0], res.ExitCode, lastLine(res.Output))
		}
		return res, fmt.Errorf("%s: %w", argv[0], err)
	}
}

func logAction(a config.ActionConfig, log logx.Logger) actionFunc {
	msg := a.Message
	level := strings.ToLower(strings.TrimSpace(a.Level))
	return func(_ context.Context, iteration uint64) (ActionResult, error) {
		f := logx.Uint64("iteration", iteration)
		switch level {
		case "debug":
			log.Debug(msg, f)
		case "warn", "warning":
			log.Warn(msg, f)
		case "error":
			log.Error(msg, f)
		default:
			log.Info(msg, f)
		}
		return ActionResult{ExitCode: -1}, nil
	}
}

// unitAction runs one unit job per tick. The systemd job result ("done",
// "failed", ...) is kept as the run output.
func unitAction(units Units, op systemdmanager.Op, unit string) actionFunc {
	return func(ctx context.Context, _ uint64) (ActionResult, error) {
		res, err := units.Run(ctx, op, unit)
		return ActionResult{ExitCode: -1, Output: res}, err
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	b   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.b = append(t.b, p...)
	if over := len(t.b) - t.max; over > 0 {
		t.b = append(t.b[:0], t.b[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.b)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return ": " + s
}
