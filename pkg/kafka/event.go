package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is bumped when a field of Event changes meaning.
const EnvelopeVersion = 1

// Event is the envelope every address-service message travels in. Data holds
// the payload for EventType.
type Event struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	OwnerID       string          `json:"owner_id,omitempty"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// EventOption sets an optional envelope field.
type EventOption func(*Event)

// WithOwner records the owner the aggregate belongs to. It also becomes the
// partition key.
func WithOwner(ownerID string) EventOption {
	return func(e *Event) { e.OwnerID = ownerID }
}

// WithCorrelationID links the event to the request that caused it.
func WithCorrelationID(id string) EventOption {
	return func(e *Event) { e.CorrelationID = id }
}

// NewEvent builds an envelope around data.
func NewEvent(eventType, aggregateType, aggregateID, source string, data any, opts ...EventOption) (*Event, error) {
	if aggregateID == "" {
		return nil, errors.New("kafka event: aggregate id is required")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("kafka event %s: encode data: %w", eventType, err)
	}
	e := &Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Version:       EnvelopeVersion,
		OccurredAt:    time.Now().UTC(),
		Source:        source,
		Data:          payload,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// PartitionKey groups every event of one owner on one partition, so a
// consumer sees default switches in the order they happened. Events without
// an owner are keyed by aggregate.
func (e *Event) PartitionKey() []byte {
	if e.OwnerID != "" {
		return []byte(e.OwnerID)
	}
	return []byte(e.AggregateID)
}

// DecodeEvent parses an envelope and rejects one from a newer writer.
func DecodeEvent(b []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("kafka event: decode: %w", err)
	}
	if e.Version > EnvelopeVersion {
		return nil, fmt.Errorf("kafka event: unsupported envelope version %d", e.Version)
	}
	return &e, nil
}

// DecodeData unmarshals the payload into target.
func (e *Event) DecodeData(target any) error {
	return json.Unmarshal(e.Data, target)
}
