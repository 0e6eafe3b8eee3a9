package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/lane-checkin/internal/log"
)

// RoomCleanedHandler reacts to one housekeeping message.
type RoomCleanedHandler func(ctx context.Context, ev RoomCleanedEvent) error

// StartRoomCleanedConsumer connects to RabbitMQ, declares the room.cleaned
// queue (durable) and hands each message to handle. It runs a reconnect
// loop with exponential backoff and only returns once ctx is cancelled.
// A message whose handler fails is rejected without requeue to avoid
// tight redelivery loops.
func StartRoomCleanedConsumer(ctx context.Context, url string, handle RoomCleanedHandler) error {
	l := log.WithComponent("room-consumer")
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			l.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to dial broker")
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, handle)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.Warn().Err(err).Msg("consume loop ended; reconnecting")
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, handle RoomCleanedHandler) error {
	l := log.WithComponent("room-consumer")
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		l.Warn().Err(err).Msg("set QoS failed")
	}
	if _, err := ch.QueueDeclare(RoomCleanedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(RoomCleanedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := HandleRoomCleaned(ctx, d.Body, handle); err != nil {
				l.Warn().Err(err).Msg("handle message failed")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleRoomCleaned decodes one message body and dispatches it.
func HandleRoomCleaned(ctx context.Context, body []byte, handle RoomCleanedHandler) error {
	var ev RoomCleanedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.ResourceID == "" {
		return errors.New("missing resource_id")
	}
	if ev.ResourceType == "" {
		ev.ResourceType = "room"
	}
	return handle(ctx, ev)
}
