package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"diamond-auction/internal/domain"

	"github.com/go-redis/redis/v8"
)

const (
	StateEventsChannel   = "auction_events"
	NotificationsChannel = "auction_notifications"
)

// EventPublisherImpl relays committed state events to other instances.
type EventPublisherImpl struct {
	client *redis.Client
}

func NewEventPublisher(client *redis.Client) *EventPublisherImpl {
	return &EventPublisherImpl{client: client}
}

func (r *EventPublisherImpl) PublishStateEvent(ctx context.Context, event domain.StateEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, StateEventsChannel, data).Err(); err != nil {
		return fmt.Errorf("redis.EventPublisher.PublishStateEvent: %w", err)
	}
	return nil
}

// NotificationPublisher is the NotificationDispatcher that hands domain events
// to downstream consumers (Telegram delivery, analytics) over Redis pub/sub.
type NotificationPublisher struct {
	client *redis.Client
}

func NewNotificationPublisher(client *redis.Client) *NotificationPublisher {
	return &NotificationPublisher{client: client}
}

func (r *NotificationPublisher) Notify(ctx context.Context, n *domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, NotificationsChannel, data).Err(); err != nil {
		return fmt.Errorf("redis.NotificationPublisher.Notify: %w", err)
	}
	return nil
}
