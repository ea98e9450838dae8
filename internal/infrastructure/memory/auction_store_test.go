package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"diamond-auction/internal/clock"
	"diamond-auction/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func seedAuction(t *testing.T, s *AuctionStore, status domain.AuctionStatus) *domain.Auction {
	t.Helper()
	a := &domain.Auction{
		ID:           "auction-1",
		DiamondID:    "diamond-9",
		SellerID:     "seller",
		StartPrice:   100,
		CurrentPrice: 100,
		MinIncrement: 50,
		StartTime:    t0,
		EndTime:      t0.Add(time.Hour),
		Status:       status,
	}
	require.NoError(t, s.Create(context.Background(), a))
	return a
}

func TestAuctionStore_GetReturnsCopy(t *testing.T) {
	s := NewAuctionStore(clock.NewManual(t0))
	seedAuction(t, s, domain.AuctionActive)

	a, err := s.Get(context.Background(), "auction-1")
	require.NoError(t, err)
	a.CurrentPrice = 99999

	again, err := s.Get(context.Background(), "auction-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), again.CurrentPrice)
}

func TestAuctionStore_GetMissing(t *testing.T) {
	s := NewAuctionStore(clock.NewManual(t0))
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestAuctionStore_CreateDuplicate(t *testing.T) {
	s := NewAuctionStore(clock.NewManual(t0))
	seedAuction(t, s, domain.AuctionActive)
	err := s.Create(context.Background(), &domain.Auction{ID: "auction-1"})
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestAuctionStore_TryCommitBid(t *testing.T) {
	ctx := context.Background()
	s := NewAuctionStore(clock.NewManual(t0))
	seedAuction(t, s, domain.AuctionActive)

	v, err := s.TryCommitBid(ctx, "auction-1", 0, &domain.Bid{ID: "b1", AuctionID: "auction-1", BidderID: "alice", Amount: 150, PlacedAt: t0}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// stale version is rejected and leaves state untouched
	_, err = s.TryCommitBid(ctx, "auction-1", 0, &domain.Bid{ID: "b2", BidderID: "bob", Amount: 200}, time.Time{})
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	a, err := s.Get(ctx, "auction-1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), a.CurrentPrice)
	assert.Equal(t, int64(1), a.BidCount)
	assert.Equal(t, "alice", a.LastBidderID)
	assert.Equal(t, int64(1), a.Version)

	bids, err := s.RecentBids(ctx, "auction-1", 10)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, "b1", bids[0].ID)
}

func TestAuctionStore_ConcurrentCASSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewAuctionStore(clock.NewManual(t0))
	seedAuction(t, s, domain.AuctionActive)

	const workers = 32
	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TryCommitBid(ctx, "auction-1", 0, &domain.Bid{BidderID: "x", Amount: 150}, time.Time{}); err == nil {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)
	a, _ := s.Get(ctx, "auction-1")
	assert.Equal(t, int64(1), a.BidCount)
}

func TestAuctionStore_ExtendEndTime(t *testing.T) {
	ctx := context.Background()
	s := NewAuctionStore(clock.NewManual(t0))
	seed := seedAuction(t, s, domain.AuctionActive)

	_, err := s.ExtendEndTime(ctx, "auction-1", 0, seed.EndTime.Add(-time.Second))
	assert.ErrorIs(t, err, domain.ErrEndTimeRegression)

	_, err = s.ExtendEndTime(ctx, "auction-1", 0, seed.EndTime)
	assert.ErrorIs(t, err, domain.ErrEndTimeRegression)

	v, err := s.ExtendEndTime(ctx, "auction-1", 0, seed.EndTime.Add(2*time.Minute))
	require.NoError(t, err)

	a, _ := s.Get(ctx, "auction-1")
	assert.Equal(t, v, a.Version)
	assert.Equal(t, domain.AuctionExtended, a.Status)
	assert.Equal(t, seed.EndTime.Add(2*time.Minute), a.EndTime)
	assert.Equal(t, int64(1), a.ExtensionCount)
}

func TestAuctionStore_Cancel(t *testing.T) {
	ctx := context.Background()
	s := NewAuctionStore(clock.NewManual(t0))
	seedAuction(t, s, domain.AuctionScheduled)

	_, err := s.Cancel(ctx, "auction-1", 0)
	require.NoError(t, err)

	a, _ := s.Get(ctx, "auction-1")
	assert.Equal(t, domain.AuctionCancelled, a.Status)

	_, err = s.Cancel(ctx, "auction-1", a.Version)
	assert.ErrorIs(t, err, domain.ErrCannotCancel)
}

func TestAuctionStore_CancelWithBids(t *testing.T) {
	ctx := context.Background()
	s := NewAuctionStore(clock.NewManual(t0))
	seedAuction(t, s, domain.AuctionActive)

	v, err := s.TryCommitBid(ctx, "auction-1", 0, &domain.Bid{BidderID: "alice", Amount: 150}, time.Time{})
	require.NoError(t, err)

	_, err = s.Cancel(ctx, "auction-1", v)
	assert.ErrorIs(t, err, domain.ErrCannotCancel)
}

func TestAuctionStore_TransitionAndListNonTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewAuctionStore(clock.NewManual(t0))
	seedAuction(t, s, domain.AuctionActive)

	list, err := s.ListNonTerminal(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.Transition(ctx, "auction-1", 0, domain.AuctionScheduled)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.Transition(ctx, "auction-1", 0, domain.AuctionEnded)
	require.NoError(t, err)

	list, err = s.ListNonTerminal(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAuctionStore_RecentBidsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewAuctionStore(clock.NewManual(t0))
	seedAuction(t, s, domain.AuctionActive)

	for i, amount := range []int64{150, 200, 250} {
		_, err := s.TryCommitBid(ctx, "auction-1", int64(i), &domain.Bid{BidderID: "b", Amount: amount}, time.Time{})
		require.NoError(t, err)
	}

	bids, err := s.RecentBids(ctx, "auction-1", 2)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, int64(250), bids[0].Amount)
	assert.Equal(t, int64(200), bids[1].Amount)
}

func TestAuctionStore_TryCommitBidWithExtension(t *testing.T) {
	ctx := context.Background()
	s := NewAuctionStore(clock.NewManual(t0))
	seed := seedAuction(t, s, domain.AuctionActive)
	newEnd := seed.EndTime.Add(2 * time.Minute)

	v, err := s.TryCommitBid(ctx, "auction-1", 0, &domain.Bid{ID: "b1", BidderID: "alice", Amount: 150}, newEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "bid and extension share one version bump")

	a, err := s.Get(ctx, "auction-1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), a.CurrentPrice)
	assert.Equal(t, domain.AuctionExtended, a.Status)
	assert.True(t, a.EndTime.Equal(newEnd))
	assert.Equal(t, int64(1), a.ExtensionCount)
}

func TestAuctionStore_TryCommitBidExtensionRejectedLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := NewAuctionStore(clock.NewManual(t0))
	seed := seedAuction(t, s, domain.AuctionActive)

	_, err := s.TryCommitBid(ctx, "auction-1", 0, &domain.Bid{ID: "b1", BidderID: "alice", Amount: 150}, seed.EndTime)
	assert.ErrorIs(t, err, domain.ErrEndTimeRegression)

	_, err = s.Transition(ctx, "auction-1", 0, domain.AuctionEnded)
	require.NoError(t, err)
	_, err = s.TryCommitBid(ctx, "auction-1", 1, &domain.Bid{ID: "b2", BidderID: "alice", Amount: 150}, seed.EndTime.Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	a, err := s.Get(ctx, "auction-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.BidCount)
	assert.Equal(t, int64(100), a.CurrentPrice)
	bids, err := s.RecentBids(ctx, "auction-1", 0)
	require.NoError(t, err)
	assert.Empty(t, bids)
}

func TestAuctionStore_RecentBidsUnlimited(t *testing.T) {
	ctx := context.Background()
	s := NewAuctionStore(clock.NewManual(t0))
	seedAuction(t, s, domain.AuctionActive)

	for i, amount := range []int64{150, 200, 250} {
		_, err := s.TryCommitBid(ctx, "auction-1", int64(i), &domain.Bid{BidderID: "b", Amount: amount}, time.Time{})
		require.NoError(t, err)
	}

	bids, err := s.RecentBids(ctx, "auction-1", 0)
	require.NoError(t, err)
	assert.Len(t, bids, 3)
}
