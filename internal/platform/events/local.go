package events

import (
	"context"
	"errors"
	"sync"

	"github.com/odera-store/api/internal/services"
)

// Handler consumes one decoded event. Returning an error asks the backend to redeliver.
type Handler func(ctx context.Context, event services.OrderEvent) error

// LocalPublisher hands events to an in-process handler on a background goroutine. The
// publishing request never waits for the handler.
type LocalPublisher struct {
	handler Handler
	onError func(ctx context.Context, event services.OrderEvent, err error)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewLocalPublisher builds the in-process backend. onError may be nil.
func NewLocalPublisher(handler Handler, onError func(ctx context.Context, event services.OrderEvent, err error)) (*LocalPublisher, error) {
	if handler == nil {
		return nil, errors.New("local publisher: handler is required")
	}
	if onError == nil {
		onError = func(context.Context, services.OrderEvent, error) {}
	}
	return &LocalPublisher{handler: handler, onError: onError}, nil
}

func (p *LocalPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("local publisher: closed")
	}
	// Round-trip through the wire format so local runs see what remote consumers see.
	_, data, err := Encode(event, "local", "")
	if err != nil {
		return err
	}
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	detached := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.handler(detached, decoded); err != nil {
			p.onError(detached, decoded, err)
		}
	}()
	return nil
}

// Close rejects further events and waits for in-flight handlers.
func (p *LocalPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
