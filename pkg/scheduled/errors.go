package scheduled

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig = errors.New("invalid schedule config")
	ErrAlreadyActive = errors.New("schedule already active")
	ErrStopped       = errors.New("schedule stopped")
	ErrDirectCall    = errors.New("scheduled job cannot be called directly; use Start")
	ErrActionPanic   = errors.New("action panicked")
	ErrNoOutcome     = errors.New("async action closed its outcome channel without a result")
)

// ConfigError describes a Config field that failed validation.
//
// It unwraps to ErrInvalidConfig:
//
//	if errors.Is(err, scheduled.ErrInvalidConfig) { ... }
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidConfig.Error(), e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
