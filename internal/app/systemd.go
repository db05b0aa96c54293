package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "cadence/pkg/logx"
)

// sdNotify reports service state to systemd. Outside a Type=notify unit
// NOTIFY_SOCKET is unset and every call is a no-op.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify", logx.String("state", state))
	}
}

// watchdogInterval returns how often to ping the systemd watchdog, or 0 when
// WatchdogSec is not configured for this unit.
func watchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// watchdogLoop pings systemd until ctx ends. healthy gates each ping so a
// wedged daemon gets restarted by systemd.
func watchdogLoop(ctx context.Context, every time.Duration, healthy func() bool, log logx.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				log.Warn("skipping watchdog ping: unhealthy")
				continue
			}
			sdNotify(log, daemon.SdNotifyWatchdog)
		}
	}
}
