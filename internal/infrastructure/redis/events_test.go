package redis

import (
	"context"
	"testing"
	"time"

	"diamond-auction/internal/domain"
	"diamond-auction/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateEvents_RoundTripThroughPubSub(t *testing.T) {
	client, _ := newTestClient(t)
	sub := NewRedisEventSubscriber(client, logger.NewNop())
	pub := NewEventPublisher(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan domain.StateEvent, 64)
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = sub.SubscribeToStateEvents(ctx, func(e domain.StateEvent) error {
			got <- e
			return nil
		})
	}()
	<-ready

	sent := domain.StateEvent{Type: domain.StateBidAccepted, AuctionID: "a1", CurrentPrice: 150, BidCount: 1, Version: 1}
	// the subscription is asynchronous, so publish until it is observed
	require.Eventually(t, func() bool {
		if err := pub.PublishStateEvent(ctx, sent); err != nil {
			return false
		}
		select {
		case e := <-got:
			assert.Equal(t, sent.AuctionID, e.AuctionID)
			assert.Equal(t, int64(150), e.CurrentPrice)
			assert.Equal(t, int64(1), e.Version)
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotifications_RoundTripThroughPubSub(t *testing.T) {
	client, _ := newTestClient(t)
	sub := NewRedisEventSubscriber(client, logger.NewNop())
	pub := NewNotificationPublisher(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *domain.Notification, 64)
	go func() {
		_ = sub.SubscribeToNotifications(ctx, func(n *domain.Notification) error {
			got <- n
			return nil
		})
	}()

	sent := &domain.Notification{
		Type:      domain.NotifyAuctionEnded,
		AuctionID: "a1",
		Payload:   map[string]any{"winner_id": "alice"},
	}
	require.Eventually(t, func() bool {
		if err := pub.Notify(ctx, sent); err != nil {
			return false
		}
		select {
		case n := <-got:
			assert.Equal(t, domain.NotifyAuctionEnded, n.Type)
			assert.Equal(t, "alice", n.Payload["winner_id"])
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
