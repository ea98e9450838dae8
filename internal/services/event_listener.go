package services

import (
	"context"
	"errors"

	"diamond-auction/internal/domain"
	"diamond-auction/pkg/logger"
)

// EventListener feeds state events and notifications relayed from other
// instances into this instance's hub and local notifier. Events this
// instance published itself come back too; the hub drops them by version.
type EventListener struct {
	hub      *BroadcastHub
	notifier domain.NotificationDispatcher
	log      logger.Logger
}

func NewEventListener(hub *BroadcastHub, notifier domain.NotificationDispatcher, log logger.Logger) *EventListener {
	return &EventListener{
		hub:      hub,
		notifier: notifier,
		log:      log,
	}
}

// Start blocks until ctx is cancelled or a subscription fails.
func (el *EventListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	el.log.Info("Starting event listener")

	errCh := make(chan error, 2)
	go func() {
		errCh <- subscriber.SubscribeToStateEvents(ctx, el.handleStateEvent)
	}()
	go func() {
		errCh <- subscriber.SubscribeToNotifications(ctx, el.handleNotification)
	}()

	err := <-errCh
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (el *EventListener) handleStateEvent(event domain.StateEvent) error {
	el.log.Debug("Relaying state event", "type", event.Type, "auction_id", event.AuctionID, "version", event.Version)
	el.hub.Publish(event)
	return nil
}

func (el *EventListener) handleNotification(n *domain.Notification) error {
	if el.notifier == nil {
		return nil
	}
	return el.notifier.Notify(context.Background(), n)
}
