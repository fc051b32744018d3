package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier sends notifications through the local desktop
// environment. Unsupported platforms are a silent no-op.
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send delivers the notification via osascript or notify-send
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return d.sendMacOS(n)
	case "linux":
		return d.sendLinux(n)
	default:
		return nil
	}
}

func (d *DesktopNotifier) sendMacOS(n Notification) error {
	// osascript interpolates the strings into AppleScript source, so
	// quotes in task descriptions must be escaped.
	script := fmt.Sprintf(`display notification "%s" with title "%s"`,
		escapeAppleScript(n.Message), escapeAppleScript(n.Title))
	return exec.Command("osascript", "-e", script).Run()
}

func (d *DesktopNotifier) sendLinux(n Notification) error {
	return exec.Command("notify-send",
		"--app-name", "Taskpilot",
		"--icon", IconForType(n.Type),
		n.Title, n.Message).Run()
}

func escapeAppleScript(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// IconForType returns the freedesktop icon name for the notification type
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
