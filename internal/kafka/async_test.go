package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type gatedPublisher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	keys   []string
	closed bool
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedPublisher) Publish(_ context.Context, key, _ string, _ any) error {
	g.once.Do(func() { close(g.started) })
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys = append(g.keys, key)
	return nil
}

func (g *gatedPublisher) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func TestAsyncPublishDoesNotWaitForBroker(t *testing.T) {
	next := newGatedPublisher()
	a := NewAsync(next, 1, time.Second, zap.NewNop().Sugar())

	start := time.Now()
	require.NoError(t, a.Publish(context.Background(), "k1", EventNotification, nil))
	<-next.started
	require.NoError(t, a.Publish(context.Background(), "k2", EventNotification, nil))
	assert.ErrorIs(t, a.Publish(context.Background(), "k3", EventNotification, nil), ErrQueueFull)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(next.release)
	require.NoError(t, a.Close())
	assert.Equal(t, []string{"k1", "k2"}, next.keys)
	assert.True(t, next.closed)

	assert.ErrorIs(t, a.Publish(context.Background(), "k4", EventNotification, nil), ErrClosed)
	assert.NoError(t, a.Close())
}
