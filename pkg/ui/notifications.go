package ui

import (
	"fmt"
	"os/exec"
	"runtime"

	"mastogone/pkg/purge"
)

// NotificationSender delivers a desktop notification
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", "--app-name=mastogone", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// Notifier reports finished scheduled runs on the console and, when the
// platform supports it, on the desktop
type Notifier struct {
	sender NotificationSender
}

// NewNotifier creates a Notifier for the current platform
func NewNotifier() *Notifier {
	var sender NotificationSender
	switch runtime.GOOS {
	case "linux":
		sender = &LinuxNotificationSender{}
	case "darwin":
		sender = &MacOSNotificationSender{}
	}
	return &Notifier{sender: sender}
}

// NewNotifierWithSender creates a Notifier using sender, which may be nil
func NewNotifierWithSender(sender NotificationSender) *Notifier {
	return &Notifier{sender: sender}
}

// NotifyRun announces the outcome of a run
func (n *Notifier) NotifyRun(s *purge.Summary, runErr error) {
	title := "mastogone run finished"
	var msg string
	switch {
	case runErr != nil:
		title = "mastogone run stopped"
		msg = runErr.Error()
	case s.Preview:
		msg = fmt.Sprintf("%d posts would be deleted", s.Previewed)
	default:
		msg = fmt.Sprintf("%d deleted, %d failed", s.Deleted, s.Failed)
	}

	if runErr != nil || s.HasFailures() {
		fmt.Fprintf(Out, "\n%s: %s\n", Red(title), Red(msg))
	} else {
		fmt.Fprintf(Out, "\n%s: %s\n", Green(title), Yellow(msg))
	}

	if n.sender != nil {
		// notifications are best effort
		_ = n.sender.Send(title, msg)
	}
}
