package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/odera-store/api/internal/platform/textutil"
	"github.com/odera-store/api/internal/services"
)

// PubSubPublisher publishes order events to a Pub/Sub topic.
type PubSubPublisher struct {
	topic    *pubsub.Topic
	producer string
}

// NewPubSubPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubPublisher(topic *pubsub.Topic, producer string) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	return &PubSubPublisher{topic: topic, producer: producer}, nil
}

// PublishOrderEvent waits for the server acknowledgement so failures reach the caller's log.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub publisher: not initialised")
	}
	env, data, err := Encode(event, p.producer, traceIDFromContext(ctx))
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: textutil.Compact(map[string]string{
			"eventId":    env.EventID,
			"eventType":  env.EventType,
			"orderId":    event.OrderID,
			"publicCode": event.PublicCode,
		}),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Ping checks that the topic exists.
func (p *PubSubPublisher) Ping(ctx context.Context) error {
	ok, err := p.topic.Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pubsub publisher: topic %s not found", p.topic.ID())
	}
	return nil
}

// Close flushes pending messages.
func (p *PubSubPublisher) Close(context.Context) error {
	p.topic.Stop()
	return nil
}

// PushRequest is the body Pub/Sub POSTs to a push subscription endpoint.
type PushRequest struct {
	Message struct {
		Data        []byte            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodePush reads a push request body and returns the carried event.
func DecodePush(body io.Reader) (services.OrderEvent, error) {
	var req PushRequest
	if err := json.NewDecoder(io.LimitReader(body, 1<<20)).Decode(&req); err != nil {
		return services.OrderEvent{}, fmt.Errorf("%w: push body: %v", ErrMalformedEvent, err)
	}
	if len(req.Message.Data) == 0 {
		return services.OrderEvent{}, fmt.Errorf("%w: push message %s has no data", ErrMalformedEvent, strings.TrimSpace(req.Message.MessageID))
	}
	return Decode(req.Message.Data)
}
