// Package systemd reports service state to systemd through sd_notify. Every
// call is a no-op when the process is not started by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "taskd/pkg/logx"
)

// Ready sends READY=1 with a status line.
func Ready(log logx.Logger, status string) bool {
	return notify(log, daemon.SdNotifyReady, "STATUS="+status)
}

// Stopping sends STOPPING=1.
func Stopping(log logx.Logger) bool {
	return notify(log, daemon.SdNotifyStopping)
}

// Status updates the free-form status line shown by systemctl status.
func Status(log logx.Logger, status string) bool {
	return notify(log, "STATUS="+status)
}

func notify(log logx.Logger, states ...string) bool {
	state := ""
	for i, s := range states {
		if i > 0 {
			state += "\n"
		}
		state += s
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
	return sent
}

// Watchdog pings WATCHDOG=1 at half the configured interval until ctx is done.
// It returns immediately when the unit has no WatchdogSec.
func Watchdog(ctx context.Context, log logx.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			notify(log, daemon.SdNotifyWatchdog)
		}
	}
}
