//go:build linux

// Package sdnotify reports daemon readiness to systemd when running under a
// Type=notify unit. Outside systemd (or off linux) every call is a no-op.
package sdnotify

import (
	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready signals that startup has finished. Returns false when not running
// under systemd.
func Ready() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady)
	return ok
}

// Stopping signals that shutdown has begun.
func Stopping() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyStopping)
	return ok
}

// Status publishes a short human-readable status line.
func Status(msg string) bool {
	ok, _ := daemon.SdNotify(false, "STATUS="+msg)
	return ok
}
