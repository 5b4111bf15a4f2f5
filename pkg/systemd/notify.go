// Package systemd integrates the bot with a systemd service unit: readiness
// and watchdog notifications, and a status view of the unit the process
// runs in.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

// Ready tells systemd startup finished (Type=notify units). It reports false
// when not running under systemd.
func Ready() bool { return notify(daemon.SdNotifyReady) }

// Stopping tells systemd shutdown began.
func Stopping() bool { return notify(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) bool { return notify("STATUS=" + msg) }

func notify(state string) bool {
	ok, err := daemon.SdNotify(false, state)
	return ok && err == nil
}

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx ends. It returns at once when WatchdogSec is not set for the unit.
func Watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	tick := time.NewTicker(interval / 2)
	defer tick.Stop()
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if !notify(daemon.SdNotifyWatchdog) {
				log.Debug("watchdog ping not delivered")
			}
		}
	}
}
