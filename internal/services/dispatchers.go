package services

import (
	"context"
	"errors"

	"diamond-auction/internal/domain"
	"diamond-auction/pkg/logger"
)

// MultiDispatcher hands every notification to each dispatcher in turn. One
// failing dispatcher does not stop the others.
type MultiDispatcher struct {
	dispatchers []domain.NotificationDispatcher
}

func NewMultiDispatcher(dispatchers ...domain.NotificationDispatcher) *MultiDispatcher {
	return &MultiDispatcher{dispatchers: dispatchers}
}

func (m *MultiDispatcher) Notify(ctx context.Context, n *domain.Notification) error {
	var errs []error
	for _, d := range m.dispatchers {
		if err := d.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type LogDispatcher struct {
	log logger.Logger
}

func NewLogDispatcher(log logger.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Notify(ctx context.Context, n *domain.Notification) error {
	d.log.Info("Notification", "type", n.Type, "auction_id", n.AuctionID, "payload", n.Payload)
	return nil
}
