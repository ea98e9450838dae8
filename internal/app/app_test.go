package app

import (
	"context"
	"testing"
	"time"

	"diamond-auction/internal/clock"
	"diamond-auction/internal/config"
	"diamond-auction/internal/domain"
	"diamond-auction/internal/infrastructure/leader"
	"diamond-auction/internal/infrastructure/memory"
	"diamond-auction/internal/infrastructure/redis"
	"diamond-auction/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Store:     config.StoreConfig{Driver: "memory", PresenceDriver: "memory"},
		Bidding:   config.BiddingConfig{MaxRetries: 5, ExtendWindow: time.Minute, ExtendDuration: 2 * time.Minute, MaxExtension: 30 * time.Minute, RecentBids: 20},
		Scheduler: config.SchedulerConfig{SweepInterval: time.Second},
		Presence:  config.PresenceConfig{TTL: 2 * time.Minute, Window: 30 * time.Second},
		Leader:    config.LeaderConfig{TTL: 30 * time.Second},
		Instance:  config.InstanceConfig{ID: "test-1"},
	}
}

func TestNew_MemoryWiring(t *testing.T) {
	a, err := New(context.Background(), testConfig(), logger.NewNop(), clock.NewManual(t0))
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memory.AuctionStore{}, a.Store)
	assert.IsType(t, &memory.PresenceTracker{}, a.Presence)
	assert.IsType(t, leader.LocalLeader{}, a.Leader)
	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Listener)
}

func TestNew_RedisWiring(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.Address = mr.Addr()
	cfg.Store.Driver = "redis"
	cfg.Store.PresenceDriver = "redis"
	cfg.Leader.Enabled = true

	a, err := New(context.Background(), cfg, logger.NewNop(), clock.NewManual(t0))
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &redis.AuctionStore{}, a.Store)
	assert.IsType(t, &redis.PresenceTracker{}, a.Presence)
	assert.IsType(t, &leader.RedisLeaderElection{}, a.Leader)
	assert.NotNil(t, a.Listener)
}

func TestNew_RedisUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.Redis.Address = "127.0.0.1:1"
	cfg.Store.Driver = "redis"

	_, err := New(context.Background(), cfg, logger.NewNop(), clock.NewManual(t0))
	assert.Error(t, err)
}

// The wired engine end to end: create, bid, sweep past the end.
func TestApp_BidAndEnd(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(t0)
	a, err := New(ctx, testConfig(), logger.NewNop(), clk)
	require.NoError(t, err)
	defer a.Close()

	auction, err := a.Auctions.CreateAuction(ctx, domain.CreateAuctionParams{
		DiamondID:    "d1",
		SellerID:     "seller",
		StartTime:    t0,
		EndTime:      t0.Add(time.Hour),
		StartPrice:   100,
		MinIncrement: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionActive, auction.Status)

	sub, err := a.Hub.Subscribe(ctx, auction.ID)
	require.NoError(t, err)
	defer sub.Close()
	snapshot := <-sub.Events()
	assert.Equal(t, domain.StateSnapshot, snapshot.Type)

	result, err := a.Bids.PlaceBid(ctx, auction.ID, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(150), result.AcceptedAmount)

	event := <-sub.Events()
	assert.Equal(t, domain.StateBidAccepted, event.Type)
	assert.Equal(t, int64(150), event.CurrentPrice)

	clk.Advance(time.Hour)
	res, err := a.Scheduler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ended)

	final := <-sub.Events()
	assert.Equal(t, "ended", final.Status)
	_, open := <-sub.Events()
	assert.False(t, open)
}
