//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager holds one system bus connection, dialed on first use and redialed
// after it drops.
type Manager struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func New() *Manager { return &Manager{} }

func (m *Manager) connLocked(ctx context.Context) (*dbus.Conn, error) {
	if m.conn != nil && m.conn.Connected() {
		return m.conn, nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	m.conn = conn
	return conn, nil
}

// Run queues op for unit in "replace" mode and waits until systemd reports
// the job result or ctx ends.
func (m *Manager) Run(ctx context.Context, op Op, unit string) (string, error) {
	unit = UnitName(unit)
	if unit == "" {
		return "", fmt.Errorf("%s: unit name required", op)
	}

	m.mu.Lock()
	conn, err := m.connLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	done := make(chan string, 1)
	switch op {
	case OpStart:
		_, err = conn.StartUnitContext(ctx, unit, "replace", done)
	case OpStop:
		_, err = conn.StopUnitContext(ctx, unit, "replace", done)
	case OpRestart:
		_, err = conn.RestartUnitContext(ctx, unit, "replace", done)
	case OpReload:
		_, err = conn.ReloadUnitContext(ctx, unit, "replace", done)
	default:
		return "", fmt.Errorf("unknown unit op %q", op)
	}
	if err != nil {
		return "", fmt.Errorf("failed to %s %s: %w", op, unit, err)
	}

	select {
	case res := <-done:
		if res != "done" {
			return res, &JobError{Op: op, Unit: unit, Result: res}
		}
		return res, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%s %s: %w", op, unit, ctx.Err())
	}
}

// Close drops the bus connection. A later Run dials again.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}
