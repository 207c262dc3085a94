package service

import (
	"context"
	"sync"

	"epichat-be/internal/pkg/logger"
	"epichat-be/pkg/events"
	"epichat-be/pkg/metrics"

	"github.com/ThreeDotsLabs/watermill/message"
)

const consumerModule = "EVENTS"

type IConsumerService interface {
	// Consume subscribes to every engine topic and blocks until ctx is done
	Consume(ctx context.Context) error

	// Handle processes one event; it is also the NATS subscriber callback
	Handle(ctx context.Context, event events.Event) error
}

// consumerService audits engine events: every event is counted and logged. It never
// touches session state.
type consumerService struct {
	bus      *events.LocalBus
	topics   []string
	recorder metrics.Recorder
	logger   logger.ILogger
}

func NewConsumerService(
	bus *events.LocalBus,
	recorder metrics.Recorder,
	log logger.ILogger,
) IConsumerService {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &consumerService{
		bus:      bus,
		topics:   events.Topics(),
		recorder: recorder,
		logger:   log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, topic := range cs.topics {
		messages, err := cs.bus.Subscribe(ctx, topic)
		if err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range messages {
				cs.processMessage(ctx, msg)
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	event, err := events.Unmarshal(msg.Payload)
	if err != nil {
		cs.logger.Error(consumerModule, "Failed to unmarshal event", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	if err := cs.Handle(ctx, event); err != nil {
		msg.Nack()
		return
	}
	msg.Ack()
}

func (cs *consumerService) Handle(_ context.Context, event events.Event) error {
	cs.recorder.IncEvent(event.EventType())

	details := map[string]interface{}{
		"type":        event.EventType(),
		"occurred_at": event.Timestamp(),
	}
	for k, v := range event.Payload() {
		details[k] = v
	}
	cs.logger.Info(consumerModule, "Event received", details)
	return nil
}
