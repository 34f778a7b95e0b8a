package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/odera-store/api/internal/services"
)

// KafkaConfig selects brokers and topic for the Kafka backend.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	Producer string
	Workers  int

	// ErrorLogger receives client-level failures such as broker disconnects.
	ErrorLogger kafka.Logger
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by order id so one order's events stay ordered.
type KafkaPublisher struct {
	writer   messageWriter
	producer string
}

// NewKafkaPublisher builds a synchronous writer requiring acknowledgement from all replicas.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher: brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
			ErrorLogger:  cfg.ErrorLogger,
		},
		producer: cfg.Producer,
	}, nil
}

func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	env, data, err := Encode(event, p.producer, traceIDFromContext(ctx))
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: data,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "event_id", Value: []byte(env.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish order event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close(context.Context) error {
	return p.writer.Close()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer feeds events from a consumer group to a handler. A message is retried a few
// times before its offset is committed; malformed messages are committed right away. Every
// failure goes to onError.
type KafkaConsumer struct {
	reader      messageReader
	workers     int
	onError     func(ctx context.Context, msg kafka.Message, err error)
	retryWait   time.Duration
	maxAttempts int
}

// NewKafkaConsumer builds a group reader with manual commits.
func NewKafkaConsumer(cfg KafkaConfig, onError func(ctx context.Context, msg kafka.Message, err error)) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 || strings.TrimSpace(cfg.Topic) == "" || strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka consumer: brokers, topic and group are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		ErrorLogger:    cfg.ErrorLogger,
	})
	return newKafkaConsumer(reader, cfg.Workers, onError), nil
}

func newKafkaConsumer(reader messageReader, workers int, onError func(context.Context, kafka.Message, error)) *KafkaConsumer {
	if workers <= 0 {
		workers = 1
	}
	if onError == nil {
		onError = func(context.Context, kafka.Message, error) {}
	}
	return &KafkaConsumer{
		reader:      reader,
		workers:     workers,
		onError:     onError,
		retryWait:   200 * time.Millisecond,
		maxAttempts: 3,
	}
}

// Run blocks until ctx ends or the reader fails.
func (c *KafkaConsumer) Run(ctx context.Context, handle Handler) error {
	defer c.reader.Close()

	jobs := make(chan kafka.Message)
	done := make(chan struct{})
	for i := 0; i < c.workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for msg := range jobs {
				c.process(ctx, msg, handle)
			}
		}()
	}
	stop := func() {
		close(jobs)
		for i := 0; i < c.workers; i++ {
			<-done
		}
	}

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs <- msg:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *KafkaConsumer) process(ctx context.Context, msg kafka.Message, handle Handler) {
	event, err := Decode(msg.Value)
	if err != nil {
		c.onError(ctx, msg, err)
		c.commit(ctx, msg)
		return
	}
	for attempt := 1; ; attempt++ {
		err := handle(ctx, event)
		if err == nil || attempt >= c.maxAttempts {
			if err != nil {
				c.onError(ctx, msg, fmt.Errorf("giving up after %d attempts: %w", attempt, err))
			}
			c.commit(ctx, msg)
			return
		}
		c.onError(ctx, msg, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryWait):
		}
	}
}

func (c *KafkaConsumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.onError(ctx, msg, err)
	}
}
