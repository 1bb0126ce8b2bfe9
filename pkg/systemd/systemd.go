// Package systemd reports service state to the systemd supervisor through
// sd_notify. Every call is a no-op when the process was not started by
// systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages when enabled.
type Notifier struct {
	Enabled bool
	send    func(state string) (bool, error)
}

func NewNotifier(enabled bool) *Notifier {
	return &Notifier{Enabled: enabled, send: func(state string) (bool, error) { return daemon.SdNotify(false, state) }}
}

// Ready tells systemd startup is complete.
func (n *Notifier) Ready() (bool, error) { return n.notify(daemon.SdNotifyReady) }

// Stopping tells systemd shutdown has begun.
func (n *Notifier) Stopping() (bool, error) { return n.notify(daemon.SdNotifyStopping) }

// Reloading marks a config reload in progress; Ready ends it.
func (n *Notifier) Reloading() (bool, error) { return n.notify(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) (bool, error) {
	return n.notify("STATUS=" + fmt.Sprintf(format, args...))
}

func (n *Notifier) notify(state string) (bool, error) {
	if n == nil || !n.Enabled {
		return false, nil
	}
	return n.send(state)
}
