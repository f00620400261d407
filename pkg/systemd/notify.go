// Package systemd reports service state to the systemd manager. Every call is
// a no-op when the process is not running under a notify-type unit.
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready tells systemd that startup finished.
func Ready() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReady) }

// Stopping tells systemd that shutdown began.
func Stopping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyStopping) }

// Status publishes a free-form status line shown by systemctl status.
func Status(text string) (bool, error) { return daemon.SdNotify(false, "STATUS="+text) }

// WatchdogInterval returns the interval at which Ping must be called, or 0
// when the unit has no watchdog configured.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	// ping at half the deadline
	return d / 2
}

// Ping resets the watchdog timer.
func Ping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyWatchdog) }
