package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"diamond-auction/internal/domain"

	"github.com/go-redis/redis/v8"
)

const openAuctionsKey = "auctions:open"

// Script result codes shared by every mutation script.
const (
	codeNotFound          = -1
	codeVersionConflict   = -2
	codeEndTimeRegression = -3
	codeInvalidTransition = -4
	codeCannotCancel      = -5
)

// Times are stored as unix milliseconds so Lua can compare them as numbers
// without losing precision.
var createScript = redis.NewScript(`
    if redis.call('EXISTS', KEYS[1]) == 1 then
        return -2
    end
    redis.call('HSET', KEYS[1], unpack(ARGV, 2))
    redis.call('SADD', KEYS[2], ARGV[1])
    return 0
`)

// ARGV[6] is the extended end time, 0 when the bid does not extend.
var commitBidScript = redis.NewScript(`
    if redis.call('EXISTS', KEYS[1]) == 0 then
        return -1
    end
    local version = tonumber(redis.call('HGET', KEYS[1], 'version'))
    if version ~= tonumber(ARGV[1]) then
        return -2
    end
    local extend_to = tonumber(ARGV[6])
    if extend_to > 0 then
        local end_time = tonumber(redis.call('HGET', KEYS[1], 'end_time'))
        if extend_to <= end_time then
            return -3
        end
        local status = redis.call('HGET', KEYS[1], 'status')
        if status ~= ARGV[7] and status ~= ARGV[8] then
            return -4
        end
        redis.call('HSET', KEYS[1], 'end_time', ARGV[6], 'status', ARGV[8])
        redis.call('HINCRBY', KEYS[1], 'extension_count', 1)
    end
    redis.call('HSET', KEYS[1],
        'current_price', ARGV[2],
        'last_bidder_id', ARGV[3],
        'updated_at', ARGV[5])
    redis.call('HINCRBY', KEYS[1], 'bid_count', 1)
    redis.call('RPUSH', KEYS[2], ARGV[4])
    return redis.call('HINCRBY', KEYS[1], 'version', 1)
`)

var extendScript = redis.NewScript(`
    if redis.call('EXISTS', KEYS[1]) == 0 then
        return -1
    end
    local version = tonumber(redis.call('HGET', KEYS[1], 'version'))
    if version ~= tonumber(ARGV[1]) then
        return -2
    end
    local end_time = tonumber(redis.call('HGET', KEYS[1], 'end_time'))
    if tonumber(ARGV[2]) <= end_time then
        return -3
    end
    local status = redis.call('HGET', KEYS[1], 'status')
    if status ~= ARGV[4] and status ~= ARGV[5] then
        return -4
    end
    redis.call('HSET', KEYS[1], 'end_time', ARGV[2], 'status', ARGV[5], 'updated_at', ARGV[3])
    redis.call('HINCRBY', KEYS[1], 'extension_count', 1)
    return redis.call('HINCRBY', KEYS[1], 'version', 1)
`)

var cancelScript = redis.NewScript(`
    if redis.call('EXISTS', KEYS[1]) == 0 then
        return -1
    end
    local version = tonumber(redis.call('HGET', KEYS[1], 'version'))
    if version ~= tonumber(ARGV[1]) then
        return -2
    end
    local bid_count = tonumber(redis.call('HGET', KEYS[1], 'bid_count'))
    local status = redis.call('HGET', KEYS[1], 'status')
    if bid_count > 0 or status ~= ARGV[3] then
        return -5
    end
    redis.call('HSET', KEYS[1], 'status', ARGV[4], 'updated_at', ARGV[2])
    redis.call('SREM', KEYS[2], ARGV[5])
    return redis.call('HINCRBY', KEYS[1], 'version', 1)
`)

// ARGV[6..] lists the statuses the auction may currently be in.
var transitionScript = redis.NewScript(`
    if redis.call('EXISTS', KEYS[1]) == 0 then
        return -1
    end
    local version = tonumber(redis.call('HGET', KEYS[1], 'version'))
    if version ~= tonumber(ARGV[1]) then
        return -2
    end
    local status = redis.call('HGET', KEYS[1], 'status')
    local allowed = false
    for i = 6, #ARGV do
        if status == ARGV[i] then
            allowed = true
        end
    end
    if not allowed then
        return -4
    end
    redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
    if ARGV[4] == '1' then
        redis.call('SREM', KEYS[2], ARGV[5])
    end
    return redis.call('HINCRBY', KEYS[1], 'version', 1)
`)

// AuctionStore keeps each auction in a Redis hash and runs every mutation as
// a Lua script so the version check and the write are one atomic step.
type AuctionStore struct {
	client *redis.Client
	clock  domain.Clock
}

func NewAuctionStore(client *redis.Client, clock domain.Clock) *AuctionStore {
	return &AuctionStore{client: client, clock: clock}
}

func auctionKey(auctionID string) string {
	return fmt.Sprintf("auction:%s", auctionID)
}

func bidsKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:bids", auctionID)
}

func (r *AuctionStore) Create(ctx context.Context, auction *domain.Auction) error {
	args := append([]interface{}{auction.ID}, encodeAuction(auction)...)
	code, err := createScript.Run(ctx, r.client, []string{auctionKey(auction.ID), openAuctionsKey}, args...).Int64()
	if err != nil {
		return fmt.Errorf("redis.AuctionStore.Create: %w", err)
	}
	return codeToError(code)
}

func (r *AuctionStore) Get(ctx context.Context, auctionID string) (*domain.Auction, error) {
	fields, err := r.client.HGetAll(ctx, auctionKey(auctionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.AuctionStore.Get: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrAuctionNotFound
	}
	return decodeAuction(fields)
}

func (r *AuctionStore) TryCommitBid(ctx context.Context, auctionID string, expectedVersion int64, bid *domain.Bid, extendTo time.Time) (int64, error) {
	data, err := json.Marshal(bid)
	if err != nil {
		return 0, err
	}
	var extendMillis int64
	if !extendTo.IsZero() {
		extendMillis = extendTo.UnixMilli()
	}
	return r.run(ctx, commitBidScript, []string{auctionKey(auctionID), bidsKey(auctionID)},
		expectedVersion,
		bid.Amount,
		bid.BidderID,
		string(data),
		r.clock.Now().UnixMilli(),
		extendMillis,
		int(domain.AuctionActive),
		int(domain.AuctionExtended))
}

func (r *AuctionStore) ExtendEndTime(ctx context.Context, auctionID string, expectedVersion int64, newEndTime time.Time) (int64, error) {
	return r.run(ctx, extendScript, []string{auctionKey(auctionID)},
		expectedVersion,
		newEndTime.UnixMilli(),
		r.clock.Now().UnixMilli(),
		int(domain.AuctionActive),
		int(domain.AuctionExtended))
}

func (r *AuctionStore) Cancel(ctx context.Context, auctionID string, expectedVersion int64) (int64, error) {
	return r.run(ctx, cancelScript, []string{auctionKey(auctionID), openAuctionsKey},
		expectedVersion,
		r.clock.Now().UnixMilli(),
		int(domain.AuctionScheduled),
		int(domain.AuctionCancelled),
		auctionID)
}

func (r *AuctionStore) Transition(ctx context.Context, auctionID string, expectedVersion int64, to domain.AuctionStatus) (int64, error) {
	terminal := "0"
	if to.IsTerminal() {
		terminal = "1"
	}
	args := []interface{}{expectedVersion, int(to), r.clock.Now().UnixMilli(), terminal, auctionID}
	for s := domain.AuctionScheduled; s <= domain.AuctionCancelled; s++ {
		if s.CanTransitionTo(to) {
			args = append(args, int(s))
		}
	}
	return r.run(ctx, transitionScript, []string{auctionKey(auctionID), openAuctionsKey}, args...)
}

func (r *AuctionStore) ListNonTerminal(ctx context.Context) ([]*domain.Auction, error) {
	ids, err := r.client.SMembers(ctx, openAuctionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.AuctionStore.ListNonTerminal: %w", err)
	}

	var auctions []*domain.Auction
	for _, id := range ids {
		a, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrAuctionNotFound) {
				continue
			}
			return nil, err
		}
		if !a.Status.IsTerminal() {
			auctions = append(auctions, a)
		}
	}
	return auctions, nil
}

func (r *AuctionStore) RecentBids(ctx context.Context, auctionID string, limit int) ([]*domain.Bid, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := r.client.LRange(ctx, bidsKey(auctionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.AuctionStore.RecentBids: %w", err)
	}

	bids := make([]*domain.Bid, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var b domain.Bid
		if err := json.Unmarshal([]byte(raw[i]), &b); err != nil {
			return nil, fmt.Errorf("redis.AuctionStore.RecentBids: decode bid: %w", err)
		}
		bids = append(bids, &b)
	}
	return bids, nil
}

func (r *AuctionStore) run(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (int64, error) {
	code, err := script.Run(ctx, r.client, keys, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis.AuctionStore: %w", err)
	}
	if code < 0 {
		return 0, codeToError(code)
	}
	return code, nil
}

func codeToError(code int64) error {
	switch code {
	case codeNotFound:
		return domain.ErrAuctionNotFound
	case codeVersionConflict:
		return domain.ErrVersionConflict
	case codeEndTimeRegression:
		return domain.ErrEndTimeRegression
	case codeInvalidTransition:
		return domain.ErrInvalidTransition
	case codeCannotCancel:
		return domain.ErrCannotCancel
	case 0:
		return nil
	default:
		return fmt.Errorf("unexpected script result %d", code)
	}
}

func encodeAuction(a *domain.Auction) []interface{} {
	reserve := ""
	if a.ReservePrice != nil {
		reserve = strconv.FormatInt(*a.ReservePrice, 10)
	}
	maxEnd := ""
	if a.MaxEndTime != nil {
		maxEnd = strconv.FormatInt(a.MaxEndTime.UnixMilli(), 10)
	}
	return []interface{}{
		"id", a.ID,
		"diamond_id", a.DiamondID,
		"seller_id", a.SellerID,
		"start_price", a.StartPrice,
		"current_price", a.CurrentPrice,
		"min_increment", a.MinIncrement,
		"reserve_price", reserve,
		"start_time", a.StartTime.UnixMilli(),
		"end_time", a.EndTime.UnixMilli(),
		"max_end_time", maxEnd,
		"status", int(a.Status),
		"bid_count", a.BidCount,
		"last_bidder_id", a.LastBidderID,
		"extension_count", a.ExtensionCount,
		"version", a.Version,
		"created_at", a.CreatedAt.UnixMilli(),
		"updated_at", a.UpdatedAt.UnixMilli(),
	}
}

func decodeAuction(f map[string]string) (*domain.Auction, error) {
	d := fieldDecoder{fields: f}
	a := &domain.Auction{
		ID:             f["id"],
		DiamondID:      f["diamond_id"],
		SellerID:       f["seller_id"],
		StartPrice:     d.int("start_price"),
		CurrentPrice:   d.int("current_price"),
		MinIncrement:   d.int("min_increment"),
		StartTime:      d.time("start_time"),
		EndTime:        d.time("end_time"),
		Status:         domain.AuctionStatus(d.int("status")),
		BidCount:       d.int("bid_count"),
		LastBidderID:   f["last_bidder_id"],
		ExtensionCount: d.int("extension_count"),
		Version:        d.int("version"),
		CreatedAt:      d.time("created_at"),
		UpdatedAt:      d.time("updated_at"),
	}
	if f["reserve_price"] != "" {
		v := d.int("reserve_price")
		a.ReservePrice = &v
	}
	if f["max_end_time"] != "" {
		v := d.time("max_end_time")
		a.MaxEndTime = &v
	}
	if d.err != nil {
		return nil, fmt.Errorf("redis.AuctionStore: decode auction %s: %w", a.ID, d.err)
	}
	return a, nil
}

type fieldDecoder struct {
	fields map[string]string
	err    error
}

func (d *fieldDecoder) int(name string) int64 {
	v, err := strconv.ParseInt(d.fields[name], 10, 64)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("field %s: %w", name, err)
	}
	return v
}

func (d *fieldDecoder) time(name string) time.Time {
	return time.UnixMilli(d.int(name)).UTC()
}
