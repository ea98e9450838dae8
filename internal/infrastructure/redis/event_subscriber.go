package redis

import (
	"context"
	"encoding/json"

	"diamond-auction/internal/domain"
	"diamond-auction/pkg/logger"

	"github.com/go-redis/redis/v8"
)

type RedisEventSubscriber struct {
	client *redis.Client
	log    logger.Logger
}

func NewRedisEventSubscriber(client *redis.Client, log logger.Logger) *RedisEventSubscriber {
	return &RedisEventSubscriber{
		client: client,
		log:    log,
	}
}

func (r *RedisEventSubscriber) SubscribeToStateEvents(ctx context.Context, handler domain.StateEventHandler) error {
	return r.consume(ctx, StateEventsChannel, func(payload string) error {
		var event domain.StateEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return err
		}
		return handler(event)
	})
}

func (r *RedisEventSubscriber) SubscribeToNotifications(ctx context.Context, handler domain.NotificationHandler) error {
	return r.consume(ctx, NotificationsChannel, func(payload string) error {
		var n domain.Notification
		if err := json.Unmarshal([]byte(payload), &n); err != nil {
			return err
		}
		return handler(&n)
	})
}

func (r *RedisEventSubscriber) consume(ctx context.Context, channel string, handle func(payload string) error) error {
	pubsub := r.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reading messages.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()

	r.log.Info("Subscribed to channel", "channel", channel)

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := handle(msg.Payload); err != nil {
				r.log.Error("Failed to handle event", "channel", channel, "payload", msg.Payload, "error", err)
			}

		case <-ctx.Done():
			r.log.Info("Event subscriber stopped", "channel", channel)
			return ctx.Err()
		}
	}
}
