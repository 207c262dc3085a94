package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"epichat-be/internal/pkg/logger"
	"epichat-be/pkg/events"
	"epichat-be/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventCounter struct {
	metrics.Nop
	count  atomic.Int32
	topics sync.Map
}

func (e *eventCounter) IncEvent(topic string) {
	e.count.Add(1)
	e.topics.Store(topic, true)
}

func (e *eventCounter) saw(topic string) bool {
	_, ok := e.topics.Load(topic)
	return ok
}

func TestConsumerAuditsEveryTopic(t *testing.T) {
	bus := events.NewLocalBus()
	defer bus.Close()

	log, logs := logger.NewObservedLogger()
	rec := &eventCounter{}
	consumer := NewConsumerService(bus, rec, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Consume(ctx) }()

	// Subscriptions are registered asynchronously; publish until both are counted
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, events.New(events.TopicSessionTurn, map[string]interface{}{"session_id": "s-1"}))
		_ = bus.Publish(ctx, events.New(events.TopicWorkflowCompleted, map[string]interface{}{"workflow": "risk_scoring"}))
		return rec.saw(events.TopicSessionTurn) && rec.saw(events.TopicWorkflowCompleted)
	}, 2*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, rec.count.Load(), int32(2))
	assert.Positive(t, logs.FilterMessage("Event received").Len())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
