package service

import (
	"context"

	"chat-gateway-be/internal/pkg/logger"
	"chat-gateway-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventRelay forwards events off the process, e.g. to NATS JetStream.
type EventRelay interface {
	Publish(ctx context.Context, event events.Event) error
}

type IConsumerService interface {
	Consume(ctx context.Context) error
}

type consumerService struct {
	pubSub    *gochannel.GoChannel
	topicName string
	audit     logger.ILogger
	relay     EventRelay
	log       logger.ILogger
}

// NewConsumerService wires the audit consumer. relay may be nil.
func NewConsumerService(
	pubSub *gochannel.GoChannel,
	topicName string,
	audit logger.ILogger,
	relay EventRelay,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		pubSub:    pubSub,
		topicName: topicName,
		audit:     audit,
		relay:     relay,
		log:       log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.pubSub.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

// processMessage always acks: a bad or unrelayable event is logged, never
// redelivered.
func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	event, err := events.Unmarshal(msg.Payload)
	if err != nil {
		cs.log.Error("EVENTS", "Dropping undecodable event", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		return
	}

	cs.audit.Info("AUDIT", event.Type, map[string]interface{}{
		"message_id":  msg.UUID,
		"data":        event.Data,
		"occurred_at": event.OccurredAt,
	})

	if cs.relay == nil {
		return
	}
	if err := cs.relay.Publish(ctx, event); err != nil {
		cs.log.Warn("EVENTS", "Failed to relay event", map[string]interface{}{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}
