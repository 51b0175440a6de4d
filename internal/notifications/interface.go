package notifications

import "context"

// Alert levels understood by every notifier
const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelCritical = "critical"
	LevelResolved = "resolved"
)

// Notifier defines the interface for operator paging
type Notifier interface {
	// SendAlert sends an alert with the specified level and message
	SendAlert(ctx context.Context, level, message string) error
}

// Nop discards alerts.
type Nop struct{}

func (Nop) SendAlert(context.Context, string, string) error { return nil }
