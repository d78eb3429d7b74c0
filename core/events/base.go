package events

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

// Payload is implemented by every typed envelope payload.
type Payload interface {
	Kind() Kind
}

// Envelope is one typed message unit exchanged through the bus.
type Envelope struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Source    string    `json:"source"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// New stamps a fresh envelope for the given payload. Source is the client id
// of the sender and is used by the bus to skip originator delivery.
func New(source string, payload Payload) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Kind:      payload.Kind(),
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
