// Package systemd is a thin wrapper over the sd_notify protocol. Every
// call is a no-op outside a systemd unit (NOTIFY_SOCKET unset), so the
// daemon behaves identically under systemd and in the foreground.
package systemd

import (
	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd startup finished (Type=notify units).
func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping tells systemd a clean shutdown has begun.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// NotifyStatus updates the unit's status line shown by systemctl status.
func NotifyStatus(status string) {
	_, _ = daemon.SdNotify(false, "STATUS="+status)
}
