package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// DesktopNotifier raises native desktop notifications when a run
// finishes. Platforms without a supported notification mechanism are
// skipped silently; a missing notification daemon must never fail a
// cascade run.
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates a desktop notifier; a disabled one is a
// no-op on Send.
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send delivers the notification through the platform mechanism.
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	switch runtime.GOOS {
	case "darwin":
		return d.sendMacOS(n)
	case "linux":
		return d.sendLinux(n)
	}
	return nil
}

func (d *DesktopNotifier) sendMacOS(n Notification) error {
	script := fmt.Sprintf("display notification %q with title %q subtitle \"Cascade\"", n.Message, n.Title)
	return exec.Command("osascript", "-e", script).Run()
}

func (d *DesktopNotifier) sendLinux(n Notification) error {
	args := []string{"--app-name", "cascade", "--icon", IconForType(n.Type)}
	if n.Type == NotifyError {
		args = append(args, "--urgency", "critical")
	}
	args = append(args, n.Title, n.Message)
	return exec.Command("notify-send", args...).Run()
}

// IconForType maps a notification type to a freedesktop icon name.
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
