package core

import "context"

// Attendance event subjects, relative to the configured prefix.
const (
	EventAttendanceMarked    = "attendance.marked"
	EventAttendanceRemoved   = "attendance.removed"
	EventAttendanceFinalized = "attendance.finalized"
)

// EventPublisher broadcasts domain events to other services.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, event interface{}) error
}

type nopPublisher struct{}

var _ EventPublisher = nopPublisher{}

// NewNopPublisher returns a publisher that drops every event.
func NewNopPublisher() EventPublisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, string, interface{}) error { return nil }
