package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "pricebot/pkg/logx"
)

// notifyReady tells systemd the service is up (Type=notify units). Outside
// systemd the notification socket is absent and this is a no-op.
func notifyReady(log logx.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified: ready")
	}
}

func notifyStopping(log logx.Logger) {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Debug("sd_notify stopping failed", logx.Err(err))
	}
}
