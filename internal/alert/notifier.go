// Package alert delivers operational alerts (reserve drift, stale prices,
// emergency withdrawals) to external channels.
package alert

import (
	"context"
	"log"
)

// Level represents the severity of an alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[alert] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans one alert out to several backends; delivery is best-effort.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[alert] delivery failed: %v", err)
		}
	}
	return nil
}
