// Package notification delivers trading alerts (circuit breaker trips,
// repeated broker rejections, closed trades) to log, webhook and Telegram
// channels.
package notification

import (
	"context"
	"errors"
	"log"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level    AlertLevel `json:"level"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	Symbol   string     `json:"symbol,omitempty"`
	Strategy string     `json:"strategy,omitempty"`
	Time     time.Time  `json:"ts"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.Symbol != "" {
		log.Printf("[notify] [%s] %s (%s:%s): %s", alert.Level, alert.Title, alert.Symbol, alert.Strategy, alert.Message)
		return nil
	}
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all of its notifiers.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
