// Package notify carries user-facing notifications from domain services to
// the worker that stores them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sitebill/sitebill/internal/shared"
)

// Severity grades a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Notification is a message addressed to a user. A zero UserID broadcasts.
type Notification struct {
	UserID   uuid.UUID `json:"user_id"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	Link     string    `json:"link,omitempty"`
}

// Validate checks the notification before it is queued or stored.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.Title) == "" || strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: notification requires title and message", shared.ErrValidation)
	}
	if !n.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", shared.ErrValidation, n.Severity)
	}
	return nil
}

// Sink accepts notifications. Implementations must not block on delivery.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// LogSink writes notifications to a logger. Used when no queue is configured.
type LogSink struct {
	Logger *slog.Logger
}

// Notify logs the notification.
func (s LogSink) Notify(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		slog.String("severity", string(n.Severity)),
		slog.String("title", n.Title),
		slog.String("user_id", n.UserID.String()),
	)
	return nil
}

// ErrNoSink is returned by Multi when it has nothing to deliver to.
var ErrNoSink = errors.New("notify: no sink configured")

// Multi fans a notification out to several sinks and joins their errors.
type Multi []Sink

// Notify delivers n to every sink.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	if len(m) == 0 {
		return ErrNoSink
	}
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
