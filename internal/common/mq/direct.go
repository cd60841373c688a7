package mq

import (
	"context"
	"errors"
	"sync"
)

// DirectQueue is a synchronous MessageQueue that invokes subscribed handlers
// inline on Publish. It exists for tests and trusted local setups where a
// broker round-trip is unwanted; production configurations must use the
// Kafka queue. Handler errors are returned to the publisher instead of being
// retried, which keeps test failures visible.
type DirectQueue struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
	closed   bool
}

// NewDirectQueue creates an in-process synchronous queue.
func NewDirectQueue() *DirectQueue {
	return &DirectQueue{
		handlers: make(map[string][]HandlerFunc),
	}
}

// Publish delivers the message to every subscribed handler, in subscription
// order, on the caller's goroutine.
func (d *DirectQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return errors.New("message queue is closed")
	}
	handlers := append([]HandlerFunc(nil), d.handlers[topic]...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for a topic.
func (d *DirectQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc) error {
	return d.SubscribeWithOptions(ctx, topic, handler, nil)
}

// SubscribeWithOptions registers a handler for a topic. Options are accepted
// for interface compatibility; the direct queue has no concurrency or retry.
func (d *DirectQueue) SubscribeWithOptions(_ context.Context, topic string, handler HandlerFunc, _ *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("message queue is closed")
	}
	d.handlers[topic] = append(d.handlers[topic], handler)
	return nil
}

// Start is a no-op; handlers run inline on Publish.
func (d *DirectQueue) Start() error { return nil }

// Stop is a no-op.
func (d *DirectQueue) Stop() error { return nil }

// Ping reports whether the queue is open.
func (d *DirectQueue) Ping(_ context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.New("message queue is closed")
	}
	return nil
}

// Close marks the queue closed; further publishes fail.
func (d *DirectQueue) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
