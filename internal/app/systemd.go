package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "paybot/pkg/logx"
)

const (
	sdReady    = daemon.SdNotifyReady
	sdStopping = daemon.SdNotifyStopping
)

// sdNotify is a no-op outside systemd.
func sdNotify(state string) bool {
	ok, _ := daemon.SdNotify(false, state)
	return ok
}

// startSystemd reports readiness and, when WatchdogSec is set on the unit,
// pings the watchdog at half its interval while the app is alive.
func (a *App) startSystemd() {
	if sdNotify(sdReady) {
		a.log.Debug("systemd notified ready")
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := max(interval/2, time.Second)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				sdNotify(daemon.SdNotifyWatchdog)
			}
		}
	})
	a.log.Info("systemd watchdog enabled", logx.Duration("every", every))
}
