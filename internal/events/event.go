// Package events carries camera lifecycle notifications out of the control
// plane. Events observe transitions; nothing in the core waits on them.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	CameraCreated   Type = "camera.created"
	CameraRemoved   Type = "camera.removed"
	ProducerCreated Type = "producer.created"
	ProducerClosed  Type = "producer.closed"
	ViewerJoined    Type = "viewer.joined"
	ViewerLeft      Type = "viewer.left"
)

// Reasons attached to removals and closures.
const (
	ReasonInactive        = "inactive"
	ReasonClosed          = "closed"
	ReasonConsumerClosed  = "consumer_closed"
	ReasonTransportClosed = "transport_closed"
	ReasonProducerClosed  = "producer_closed"
)

type Event struct {
	ID         uuid.UUID `json:"eventId"`
	Type       Type      `json:"type"`
	CameraID   string    `json:"cameraId"`
	Kind       string    `json:"kind,omitempty"`
	ProducerID string    `json:"producerId,omitempty"`
	ConsumerID string    `json:"consumerId,omitempty"`
	ViewerID   string    `json:"viewerId,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (e *Event) stamp() {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
}

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(Event)
}

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(Event) {}
