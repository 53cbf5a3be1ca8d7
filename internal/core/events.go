// internal/core/events.go
package core

import (
	"context"

	"github.com/sirupsen/logrus"
)

// EventService appends audit records. Failures here never fail the
// operation being audited; they are logged and dropped.
type EventService struct {
	store  Repository
	logger *logrus.Logger
}

// NewEventService creates the audit event recorder.
func NewEventService(store Repository, logger *logrus.Logger) *EventService {
	return &EventService{store: store, logger: logger}
}

// Record appends one event.
func (s *EventService) Record(ctx context.Context, eventType, level, message, details string, context_ EventContext) {
	event := &Event{
		Type:    eventType,
		Level:   level,
		Message: message,
		Details: details,
		Context: context_,
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event_type", eventType).
			Warn("Failed to record audit event")
	}
}
