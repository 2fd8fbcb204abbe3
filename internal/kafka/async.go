package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("publish queue full")
	ErrClosed    = errors.New("publisher closed")
)

type pending struct {
	key       string
	eventType string
	data      any
}

// Async queues events for a single background worker, so callers never wait
// on the broker. Publish fails with ErrQueueFull instead of blocking.
type Async struct {
	next    Publisher
	queue   chan pending
	timeout time.Duration
	log     *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(next Publisher, size int, timeout time.Duration, log *zap.SugaredLogger) *Async {
	if size <= 0 {
		size = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &Async{
		next:    next,
		queue:   make(chan pending, size),
		timeout: timeout,
		log:     log,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Publish(ctx, ev.key, ev.eventType, ev.data); err != nil {
			a.log.Warnw("async publish failed", "event", ev.eventType, "key", ev.key, "error", err)
		}
		cancel()
	}
}

// Publish ignores ctx: the caller's request usually ends before the event
// is written.
func (a *Async) Publish(_ context.Context, key, eventType string, data any) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- pending{key: key, eventType: eventType, data: data}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close drains queued events, then closes the wrapped publisher.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}
