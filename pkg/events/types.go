package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event being published
type EventType string

const (
	// Token lifecycle events
	EventTokenIssued  EventType = "token.issued"
	EventTokenRevoked EventType = "token.revoked"

	// Usage pipeline events
	EventUsageReported    EventType = "usage.reported"
	EventUsageRelayFailed EventType = "usage.relay_failed"
)

// Event represents a single event in the system
type Event struct {
	// ID is a unique identifier for this event (for idempotency)
	ID string

	// Type is the event type
	Type EventType

	// Timestamp is when the event occurred
	Timestamp time.Time

	// ActorID is the user the event belongs to (optional for system events)
	ActorID string

	// Payload contains event-specific data
	Payload map[string]interface{}
}

// NewEvent creates a new event with the given type and payload
func NewEvent(eventType EventType, actorID string, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ActorID:   actorID,
		Payload:   payload,
	}
}
