package services

import (
	"context"
	"math"
	"testing"
	"time"

	"diamond-auction/internal/domain"
	"diamond-auction/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) manager(maxExtension time.Duration) *AuctionManager {
	return NewAuctionManager(f.store, f.presence, []domain.EventPublisher{f.published}, AuctionPolicy{
		MaxExtension:   maxExtension,
		RecentBids:     2,
		PresenceWindow: 30 * time.Second,
		MaxRetries:     3,
	}, f.clock, logger.NewNop())
}

func validParams() domain.CreateAuctionParams {
	return domain.CreateAuctionParams{
		DiamondID:    "diamond-9",
		SellerID:     "seller",
		StartTime:    t0.Add(time.Hour),
		EndTime:      t0.Add(2 * time.Hour),
		StartPrice:   1000,
		MinIncrement: 100,
	}
}

func TestCreateAuction_Validation(t *testing.T) {
	f := newFixture(t)
	am := f.manager(0)

	tests := []struct {
		name    string
		mutate  func(p *domain.CreateAuctionParams)
		wantErr error
	}{
		{"end before start", func(p *domain.CreateAuctionParams) { p.EndTime = p.StartTime.Add(-time.Minute) }, domain.ErrInvalidSchedule},
		{"end equals start", func(p *domain.CreateAuctionParams) { p.EndTime = p.StartTime }, domain.ErrInvalidSchedule},
		{"zero start price", func(p *domain.CreateAuctionParams) { p.StartPrice = 0 }, domain.ErrInvalidPrice},
		{"negative increment", func(p *domain.CreateAuctionParams) { p.MinIncrement = -5 }, domain.ErrInvalidPrice},
		{"negative reserve", func(p *domain.CreateAuctionParams) { p.ReservePrice = amount(-1) }, domain.ErrInvalidPrice},
		{"end within the start millisecond", func(p *domain.CreateAuctionParams) { p.EndTime = p.StartTime.Add(500 * time.Microsecond) }, domain.ErrInvalidSchedule},
		{"huge start price", func(p *domain.CreateAuctionParams) { p.StartPrice = math.MaxInt64 }, domain.ErrAmountTooLarge},
		{"huge increment", func(p *domain.CreateAuctionParams) { p.MinIncrement = math.MaxInt64 }, domain.ErrAmountTooLarge},
		{"huge reserve", func(p *domain.CreateAuctionParams) { p.ReservePrice = amount(domain.MaxAmount + 1) }, domain.ErrAmountTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			_, err := am.CreateAuction(context.Background(), p)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestCreateAuction_ScheduledInFuture(t *testing.T) {
	f := newFixture(t)
	am := f.manager(30 * time.Minute)

	a, err := am.CreateAuction(context.Background(), validParams())
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, domain.AuctionScheduled, a.Status)
	assert.Equal(t, int64(1000), a.CurrentPrice)
	assert.Equal(t, int64(0), a.Version)
	require.NotNil(t, a.MaxEndTime)
	assert.True(t, a.MaxEndTime.Equal(t0.Add(2*time.Hour+30*time.Minute)))

	stored, err := f.store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.DiamondID, stored.DiamondID)
}

func TestCreateAuction_ActiveWhenStartPassed(t *testing.T) {
	f := newFixture(t)
	am := f.manager(0)

	p := validParams()
	p.StartTime = t0.Add(-time.Minute)
	a, err := am.CreateAuction(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionActive, a.Status)
	assert.Nil(t, a.MaxEndTime)
}

func TestGetAuction_IncludesRecentBids(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.AuctionActive)
	am := f.manager(0)

	for _, bidder := range []string{"a", "b", "c"} {
		_, err := f.bids.PlaceBid(context.Background(), testAuctionID, bidder, nil)
		require.NoError(t, err)
	}

	view, err := am.GetAuction(context.Background(), testAuctionID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), view.Auction.CurrentPrice)
	require.Len(t, view.RecentBids, 2)
	assert.Equal(t, "c", view.RecentBids[0].BidderID)
	assert.Equal(t, "b", view.RecentBids[1].BidderID)

	_, err = am.GetAuction(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestCancelAuction(t *testing.T) {
	t.Run("seller cancels scheduled auction", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, domain.AuctionScheduled)

		require.NoError(t, f.manager(0).CancelAuction(context.Background(), testAuctionID, "seller"))
		assert.Equal(t, domain.AuctionCancelled, f.get(t).Status)

		events := f.published.snapshot()
		require.Len(t, events, 1)
		assert.Equal(t, "cancelled", events[0].Status)
		assert.Equal(t, int64(1), events[0].Version)
	})

	t.Run("someone else", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, domain.AuctionScheduled)

		err := f.manager(0).CancelAuction(context.Background(), testAuctionID, "alice")
		assert.ErrorIs(t, err, domain.ErrNotAuthorized)
		assert.Equal(t, domain.AuctionScheduled, f.get(t).Status)
	})

	t.Run("already active", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, domain.AuctionActive)

		err := f.manager(0).CancelAuction(context.Background(), testAuctionID, "seller")
		assert.ErrorIs(t, err, domain.ErrCannotCancel)
	})

	t.Run("has bids", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, domain.AuctionScheduled, func(a *domain.Auction) { a.BidCount = 1 })

		err := f.manager(0).CancelAuction(context.Background(), testAuctionID, "seller")
		assert.ErrorIs(t, err, domain.ErrCannotCancel)
		assert.Empty(t, f.published.snapshot())
	})

	t.Run("missing", func(t *testing.T) {
		f := newFixture(t)
		err := f.manager(0).CancelAuction(context.Background(), "missing", "seller")
		assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
	})
}

func TestHeartbeatAndPresence(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.AuctionActive)
	am := f.manager(0)
	ctx := context.Background()

	require.NoError(t, am.Heartbeat(ctx, testAuctionID, "v1"))
	require.NoError(t, am.Heartbeat(ctx, testAuctionID, "v1"))
	require.NoError(t, am.Heartbeat(ctx, testAuctionID, "v2"))

	count, err := am.Presence(ctx, testAuctionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceCount{TotalHeartbeats: 3, UniqueViewers: 2}, count)

	f.clock.Advance(20 * time.Second)
	require.NoError(t, am.Heartbeat(ctx, testAuctionID, "v2"))
	f.clock.Advance(20 * time.Second)

	count, err = am.Presence(ctx, testAuctionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count.UniqueViewers)
	assert.Equal(t, int64(4), count.TotalHeartbeats)

	assert.ErrorIs(t, am.Heartbeat(ctx, "missing", "v1"), domain.ErrAuctionNotFound)
	_, err = am.Presence(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
}
