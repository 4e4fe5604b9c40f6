package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// DesktopNotifier sends desktop notifications
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send shows the notification via the platform notifier. The run identifier
// is folded into the title so parallel experiments stay distinguishable.
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	title := desktopTitle(n)
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, n.Message, title)
		return exec.Command("osascript", "-e", script).Run()
	case "linux":
		return exec.Command("notify-send", "-a", "fsm-bench", title, n.Message).Run()
	default:
		return nil // Unsupported
	}
}

func desktopTitle(n Notification) string {
	if n.RunID == "" {
		return n.Title
	}
	return fmt.Sprintf("%s [%s]", n.Title, n.RunID)
}
