// Package notify delivers run-completion notifications to desktop
// and Slack sinks.
package notify

import (
	"fmt"

	"github.com/cascadehq/cascade/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Repo    string // Optional repo reference
	PRURL   string // Optional PR URL
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// ForRun builds the run-completion notification.
func ForRun(result *domain.RunResult) Notification {
	t := NotifySuccess
	if result.FailCount() > 0 {
		t = NotifyError
	}
	return Notification{
		Title: "Cascade run finished",
		Message: fmt.Sprintf("%d repos: %d succeeded, %d failed",
			len(result.Repos), result.SuccessCount(), result.FailCount()),
		Type: t,
	}
}
