// Package events carries order domain events from the services to their consumers over
// an in-process dispatcher, Cloud Pub/Sub or Kafka.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odera-store/api/internal/services"
)

// EnvelopeVersion is bumped when the payload shape changes incompatibly.
const EnvelopeVersion = 1

// ErrMalformedEvent reports a message that cannot be decoded into an order event.
var ErrMalformedEvent = errors.New("events: malformed event")

// Envelope is the wire format shared by every backend.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// OrderPayload is the body of every order.* event.
type OrderPayload struct {
	OrderID        string         `json:"order_id"`
	PublicCode     string         `json:"public_code,omitempty"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	CurrentStatus  string         `json:"current_status,omitempty"`
	ActorID        string         `json:"actor_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Encode wraps event in an envelope. A missing event id is generated.
func Encode(event services.OrderEvent, producer, traceID string) (Envelope, []byte, error) {
	if strings.TrimSpace(event.Type) == "" {
		return Envelope{}, nil, fmt.Errorf("%w: event type is required", ErrMalformedEvent)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	payload, err := json.Marshal(OrderPayload{
		OrderID:        event.OrderID,
		PublicCode:     event.PublicCode,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		Metadata:       event.Metadata,
	})
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	env := Envelope{
		EventID:       event.ID,
		EventType:     event.Type,
		EventVersion:  EnvelopeVersion,
		OccurredAt:    occurred.UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: event.OrderID,
		Payload:       payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("events: marshal envelope: %w", err)
	}
	return env, data, nil
}

// Decode parses an envelope back into the service event.
func Decode(data []byte) (services.OrderEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return services.OrderEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.EventID == "" || env.EventType == "" {
		return services.OrderEvent{}, fmt.Errorf("%w: event id and type are required", ErrMalformedEvent)
	}
	if env.EventVersion > EnvelopeVersion {
		return services.OrderEvent{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedEvent, env.EventVersion)
	}
	var payload OrderPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return services.OrderEvent{}, fmt.Errorf("%w: payload: %v", ErrMalformedEvent, err)
		}
	}
	return services.OrderEvent{
		ID:             env.EventID,
		Type:           env.EventType,
		OrderID:        payload.OrderID,
		PublicCode:     payload.PublicCode,
		PreviousStatus: payload.PreviousStatus,
		CurrentStatus:  payload.CurrentStatus,
		ActorID:        payload.ActorID,
		OccurredAt:     env.OccurredAt,
		Metadata:       payload.Metadata,
	}, nil
}
