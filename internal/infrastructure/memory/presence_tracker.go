package memory

import (
	"context"
	"sync"
	"time"

	"diamond-auction/internal/domain"
)

// PresenceTracker counts viewers per auction. Each auction has its own room
// so heartbeats for different auctions never share a lock.
type PresenceTracker struct {
	rooms sync.Map // auctionID -> *presenceRoom
	clock domain.Clock
}

type presenceRoom struct {
	mu         sync.Mutex
	watchers   map[string]*domain.Watcher
	heartbeats int64
}

func NewPresenceTracker(clock domain.Clock) *PresenceTracker {
	return &PresenceTracker{clock: clock}
}

func (p *PresenceTracker) Heartbeat(ctx context.Context, auctionID, viewerID string) error {
	v, _ := p.rooms.LoadOrStore(auctionID, &presenceRoom{watchers: make(map[string]*domain.Watcher)})
	room := v.(*presenceRoom)

	now := p.clock.Now()
	room.mu.Lock()
	defer room.mu.Unlock()
	room.heartbeats++
	if w, ok := room.watchers[viewerID]; ok {
		w.LastSeenAt = now
		return nil
	}
	room.watchers[viewerID] = &domain.Watcher{AuctionID: auctionID, ViewerID: viewerID, LastSeenAt: now}
	return nil
}

func (p *PresenceTracker) CountActive(ctx context.Context, auctionID string, window time.Duration) (domain.PresenceCount, error) {
	v, ok := p.rooms.Load(auctionID)
	if !ok {
		return domain.PresenceCount{}, nil
	}
	room := v.(*presenceRoom)

	cutoff := p.clock.Now().Add(-window)
	room.mu.Lock()
	defer room.mu.Unlock()

	count := domain.PresenceCount{TotalHeartbeats: room.heartbeats}
	for _, w := range room.watchers {
		if !w.LastSeenAt.Before(cutoff) {
			count.UniqueViewers++
		}
	}
	return count, nil
}

// Expire drops watchers not seen within ttl and returns how many were removed.
func (p *PresenceTracker) Expire(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := p.clock.Now().Add(-ttl)
	removed := 0
	p.rooms.Range(func(_, value any) bool {
		room := value.(*presenceRoom)
		room.mu.Lock()
		for id, w := range room.watchers {
			if w.LastSeenAt.Before(cutoff) {
				delete(room.watchers, id)
				removed++
			}
		}
		room.mu.Unlock()
		return true
	})
	return removed, nil
}
