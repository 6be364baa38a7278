package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "pacer/pkg/logx"
)

// sdNotify is a no-op unless systemd.notify is set and NOTIFY_SOCKET exists.
func (a *App) sdNotify(state string) {
	if !a.sdEnabled {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		a.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		a.log.Debug("systemd notify skipped, no socket", logx.String("state", state))
	}
}

// startWatchdog pings at half the WATCHDOG_USEC interval.
func (a *App) startWatchdog() {
	if !a.sdEnabled {
		return
	}
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog config invalid", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	tick := max(every/2, time.Second)
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", every), logx.Duration("ping", tick))
	a.sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					a.log.Debug("watchdog ping failed", logx.Err(err))
				}
			}
		}
	})
}
