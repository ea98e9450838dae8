package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"diamond-auction/internal/domain"

	"github.com/go-redis/redis/v8"
)

const presenceIndexKey = "presence:auctions"

// PresenceTracker stores watchers in a sorted set per auction scored by the
// last heartbeat in unix milliseconds.
type PresenceTracker struct {
	client *redis.Client
	clock  domain.Clock
}

func NewPresenceTracker(client *redis.Client, clock domain.Clock) *PresenceTracker {
	return &PresenceTracker{client: client, clock: clock}
}

func watchersKey(auctionID string) string {
	return fmt.Sprintf("presence:%s:watchers", auctionID)
}

func heartbeatsKey(auctionID string) string {
	return fmt.Sprintf("presence:%s:heartbeats", auctionID)
}

func (p *PresenceTracker) Heartbeat(ctx context.Context, auctionID, viewerID string) error {
	now := p.clock.Now().UnixMilli()
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, watchersKey(auctionID), &redis.Z{Score: float64(now), Member: viewerID})
		pipe.Incr(ctx, heartbeatsKey(auctionID))
		pipe.SAdd(ctx, presenceIndexKey, auctionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis.PresenceTracker.Heartbeat: %w", err)
	}
	return nil
}

func (p *PresenceTracker) CountActive(ctx context.Context, auctionID string, window time.Duration) (domain.PresenceCount, error) {
	from := strconv.FormatInt(p.clock.Now().Add(-window).UnixMilli(), 10)

	var unique *redis.IntCmd
	var total *redis.StringCmd
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		unique = pipe.ZCount(ctx, watchersKey(auctionID), from, "+inf")
		total = pipe.Get(ctx, heartbeatsKey(auctionID))
		return nil
	})
	if err != nil && err != redis.Nil {
		return domain.PresenceCount{}, fmt.Errorf("redis.PresenceTracker.CountActive: %w", err)
	}

	count := domain.PresenceCount{UniqueViewers: unique.Val()}
	if total.Err() == nil {
		count.TotalHeartbeats, _ = total.Int64()
	}
	return count, nil
}

func (p *PresenceTracker) Expire(ctx context.Context, ttl time.Duration) (int, error) {
	auctions, err := p.client.SMembers(ctx, presenceIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis.PresenceTracker.Expire: %w", err)
	}

	cutoff := "(" + strconv.FormatInt(p.clock.Now().Add(-ttl).UnixMilli(), 10)
	removed := 0
	for _, auctionID := range auctions {
		n, err := p.client.ZRemRangeByScore(ctx, watchersKey(auctionID), "-inf", cutoff).Result()
		if err != nil {
			return removed, fmt.Errorf("redis.PresenceTracker.Expire: %w", err)
		}
		removed += int(n)
	}
	return removed, nil
}
