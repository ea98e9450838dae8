package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"diamond-auction/internal/clock"
	"diamond-auction/internal/domain"
	"diamond-auction/internal/infrastructure/memory"
	"diamond-auction/pkg/logger"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

const testAuctionID = "auction-1"

type recordingDispatcher struct {
	mu    sync.Mutex
	notes []*domain.Notification
	err   error
}

func (r *recordingDispatcher) Notify(ctx context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return r.err
}

func (r *recordingDispatcher) byType(t domain.NotificationType) []*domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Notification
	for _, n := range r.notes {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.StateEvent
	err    error
}

func (r *recordingPublisher) PublishStateEvent(ctx context.Context, event domain.StateEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingPublisher) snapshot() []domain.StateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StateEvent(nil), r.events...)
}

var errBoom = errors.New("boom")

type fixture struct {
	clock     *clock.Manual
	store     *memory.AuctionStore
	presence  *memory.PresenceTracker
	published *recordingPublisher
	notes     *recordingDispatcher
	bids      *BidService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	f := &fixture{
		clock:     clk,
		store:     memory.NewAuctionStore(clk),
		presence:  memory.NewPresenceTracker(clk),
		published: &recordingPublisher{},
		notes:     &recordingDispatcher{},
	}
	f.bids = f.bidService(f.store)
	return f
}

func (f *fixture) bidService(store domain.AuctionStore) *BidService {
	return NewBidService(store, []domain.EventPublisher{f.published}, f.notes, BidPolicy{
		MaxRetries: 5,
		Extension:  ExtensionPolicy{Window: 60 * time.Second, Duration: 120 * time.Second},
	}, f.clock, logger.NewNop())
}

// seed stores an auction starting at t0 and ending an hour later with
// start_price=100 and min_increment=50.
func (f *fixture) seed(t *testing.T, status domain.AuctionStatus, mutate ...func(a *domain.Auction)) *domain.Auction {
	t.Helper()
	a := &domain.Auction{
		ID:           testAuctionID,
		DiamondID:    "diamond-9",
		SellerID:     "seller",
		StartPrice:   100,
		CurrentPrice: 100,
		MinIncrement: 50,
		StartTime:    t0,
		EndTime:      t0.Add(time.Hour),
		Status:       status,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	for _, m := range mutate {
		m(a)
	}
	require.NoError(t, f.store.Create(context.Background(), a))
	return a
}

func (f *fixture) get(t *testing.T) *domain.Auction {
	t.Helper()
	a, err := f.store.Get(context.Background(), testAuctionID)
	require.NoError(t, err)
	return a
}

func amount(v int64) *int64 { return &v }
