package notify

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
	TaskID  string // Optional task reference
}

// FromSettings builds a notifier from the notification settings: desktop
// and Slack when configured, a no-op otherwise.
func FromSettings(desktop bool, slackWebhook string) Notifier {
	var notifiers []Notifier
	if desktop {
		notifiers = append(notifiers, NewDesktopNotifier(true))
	}
	if slackWebhook != "" {
		notifiers = append(notifiers, NewSlackNotifier(slackWebhook))
	}
	if len(notifiers) == 0 {
		return NoopNotifier{}
	}
	return NewMultiNotifier(notifiers...)
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
