package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"diamond-auction/internal/domain"
)

// AuctionStore keeps auctions in process memory. Each auction carries its own
// mutex, so the compare-and-swap of one auction never contends with another.
type AuctionStore struct {
	records sync.Map // auctionID -> *record
	clock   domain.Clock
}

type record struct {
	mu      sync.Mutex
	auction *domain.Auction
	bids    []*domain.Bid
}

func NewAuctionStore(clock domain.Clock) *AuctionStore {
	return &AuctionStore{clock: clock}
}

func (s *AuctionStore) Create(ctx context.Context, auction *domain.Auction) error {
	rec := &record{auction: auction.Clone()}
	if _, loaded := s.records.LoadOrStore(auction.ID, rec); loaded {
		return domain.ErrVersionConflict
	}
	return nil
}

func (s *AuctionStore) Get(ctx context.Context, auctionID string) (*domain.Auction, error) {
	rec, err := s.load(auctionID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.auction.Clone(), nil
}

func (s *AuctionStore) TryCommitBid(ctx context.Context, auctionID string, expectedVersion int64, bid *domain.Bid, extendTo time.Time) (int64, error) {
	return s.mutate(auctionID, expectedVersion, func(rec *record) error {
		a := rec.auction
		if !extendTo.IsZero() {
			if err := extend(a, extendTo); err != nil {
				return err
			}
		}
		a.CurrentPrice = bid.Amount
		a.LastBidderID = bid.BidderID
		a.BidCount++
		stored := *bid
		rec.bids = append(rec.bids, &stored)
		return nil
	})
}

func (s *AuctionStore) ExtendEndTime(ctx context.Context, auctionID string, expectedVersion int64, newEndTime time.Time) (int64, error) {
	return s.mutate(auctionID, expectedVersion, func(rec *record) error {
		return extend(rec.auction, newEndTime)
	})
}

func extend(a *domain.Auction, newEndTime time.Time) error {
	if !newEndTime.After(a.EndTime) {
		return domain.ErrEndTimeRegression
	}
	if !a.Status.CanTransitionTo(domain.AuctionExtended) {
		return domain.ErrInvalidTransition
	}
	a.EndTime = newEndTime
	a.Status = domain.AuctionExtended
	a.ExtensionCount++
	return nil
}

func (s *AuctionStore) Cancel(ctx context.Context, auctionID string, expectedVersion int64) (int64, error) {
	return s.mutate(auctionID, expectedVersion, func(rec *record) error {
		a := rec.auction
		if a.BidCount > 0 || a.Status != domain.AuctionScheduled {
			return domain.ErrCannotCancel
		}
		a.Status = domain.AuctionCancelled
		return nil
	})
}

func (s *AuctionStore) Transition(ctx context.Context, auctionID string, expectedVersion int64, to domain.AuctionStatus) (int64, error) {
	return s.mutate(auctionID, expectedVersion, func(rec *record) error {
		if !rec.auction.Status.CanTransitionTo(to) {
			return domain.ErrInvalidTransition
		}
		rec.auction.Status = to
		return nil
	})
}

func (s *AuctionStore) ListNonTerminal(ctx context.Context) ([]*domain.Auction, error) {
	var auctions []*domain.Auction
	s.records.Range(func(_, value any) bool {
		rec := value.(*record)
		rec.mu.Lock()
		if !rec.auction.Status.IsTerminal() {
			auctions = append(auctions, rec.auction.Clone())
		}
		rec.mu.Unlock()
		return true
	})
	sort.Slice(auctions, func(i, j int) bool { return auctions[i].EndTime.Before(auctions[j].EndTime) })
	return auctions, nil
}

// RecentBids returns up to limit bids, newest first.
func (s *AuctionStore) RecentBids(ctx context.Context, auctionID string, limit int) ([]*domain.Bid, error) {
	rec, err := s.load(auctionID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	n := len(rec.bids)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*domain.Bid, 0, n)
	for i := len(rec.bids) - 1; i >= 0 && len(out) < n; i-- {
		b := *rec.bids[i]
		out = append(out, &b)
	}
	return out, nil
}

func (s *AuctionStore) load(auctionID string) (*record, error) {
	v, ok := s.records.Load(auctionID)
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	return v.(*record), nil
}

// mutate applies fn under the record lock only when the stored version
// matches. fn works on a copy; the copy is installed only if fn succeeds.
func (s *AuctionStore) mutate(auctionID string, expectedVersion int64, fn func(rec *record) error) (int64, error) {
	rec, err := s.load(auctionID)
	if err != nil {
		return 0, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.auction.Version != expectedVersion {
		return 0, domain.ErrVersionConflict
	}

	original := rec.auction
	originalBids := rec.bids
	rec.auction = original.Clone()
	if err := fn(rec); err != nil {
		rec.auction = original
		rec.bids = originalBids
		return 0, err
	}
	rec.auction.Version++
	rec.auction.UpdatedAt = s.clock.Now()
	return rec.auction.Version, nil
}
