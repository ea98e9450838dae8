package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"diamond-auction/internal/domain"
	"diamond-auction/pkg/logger"
	"diamond-auction/pkg/utils"
)

type BidPolicy struct {
	MaxRetries   int
	RetryBackoff time.Duration
	Extension    ExtensionPolicy
}

// BidService admits bids and commits them through the store's
// compare-and-swap. Losing a race is retried against a fresh snapshot; the
// caller only sees ErrConcurrentUpdateConflict once the retry bound is spent.
type BidService struct {
	store      domain.AuctionStore
	publishers []domain.EventPublisher
	notifier   domain.NotificationDispatcher
	validator  BidValidator
	policy     BidPolicy
	clock      domain.Clock
	log        logger.Logger
}

func NewBidService(
	store domain.AuctionStore,
	publishers []domain.EventPublisher,
	notifier domain.NotificationDispatcher,
	policy BidPolicy,
	clock domain.Clock,
	log logger.Logger,
) *BidService {
	return &BidService{
		store:      store,
		publishers: publishers,
		notifier:   notifier,
		policy:     policy,
		clock:      clock,
		log:        log,
	}
}

func (s *BidService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount *int64) (*domain.BidResult, error) {
	for attempt := 0; ; attempt++ {
		auction, err := s.store.Get(ctx, auctionID)
		if err != nil {
			return nil, err
		}

		now := s.clock.Now()
		accepted, err := s.validator.Admit(auction, bidderID, amount, now)
		if err != nil {
			s.log.Debug("Bid rejected", "auction_id", auctionID, "bidder_id", bidderID, "reason", err)
			return nil, err
		}

		bid := &domain.Bid{
			ID:        utils.GenerateID("bid"),
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    accepted,
			PlacedAt:  now,
		}
		extendTo := s.extension(auction, now)

		version, err := s.store.TryCommitBid(ctx, auctionID, auction.Version, bid, extendTo)
		if err == nil {
			return s.afterCommit(ctx, auction, bid, version, extendTo), nil
		}
		// Regression or an illegal transition can only come from a snapshot
		// that moved underneath us; the next read sorts it out.
		if !errors.Is(err, domain.ErrVersionConflict) &&
			!errors.Is(err, domain.ErrEndTimeRegression) &&
			!errors.Is(err, domain.ErrInvalidTransition) {
			s.log.Error("Failed to commit bid", "auction_id", auctionID, "error", err)
			return nil, fmt.Errorf("commit bid: %w", err)
		}

		if attempt >= s.policy.MaxRetries {
			s.log.Warn("Bid retries exhausted", "auction_id", auctionID, "bidder_id", bidderID, "attempts", attempt+1)
			return nil, domain.ErrConcurrentUpdateConflict
		}
		if err := s.backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// extension returns the end time a bid admitted at now should move the
// auction to, or the zero time when the anti-sniping rule does not apply.
// The extension commits together with the bid, so the scheduler can never
// close the auction between the two.
func (s *BidService) extension(auction *domain.Auction, now time.Time) time.Time {
	newEnd, ok, err := s.policy.Extension.Evaluate(auction, now)
	if errors.Is(err, domain.ErrExtensionCapReached) {
		s.log.Info("Extension cap reached", "auction_id", auction.ID, "max_end_time", auction.MaxEndTime)
		return time.Time{}
	}
	if !ok {
		return time.Time{}
	}
	return newEnd
}

// afterCommit publishes the accepted bid and emits notifications. Nothing
// here can undo the commit.
func (s *BidService) afterCommit(ctx context.Context, before *domain.Auction, bid *domain.Bid, version int64, extendTo time.Time) *domain.BidResult {
	committed := before.Clone()
	committed.CurrentPrice = bid.Amount
	committed.LastBidderID = bid.BidderID
	committed.BidCount++
	committed.Version = version
	extended := !extendTo.IsZero()
	if extended {
		committed.EndTime = extendTo
		committed.Status = domain.AuctionExtended
		committed.ExtensionCount++
	}

	s.publish(ctx, domain.NewStateEvent(domain.StateBidAccepted, committed, bid.PlacedAt))

	s.log.Info("Bid accepted", "auction_id", bid.AuctionID, "bidder_id", bid.BidderID,
		"amount", bid.Amount, "bid_count", committed.BidCount, "version", version)

	s.notify(ctx, &domain.Notification{
		Type:      domain.NotifyBidPlaced,
		AuctionID: bid.AuctionID,
		Payload: map[string]any{
			"bid_id":             bid.ID,
			"bidder_id":          bid.BidderID,
			"amount":             bid.Amount,
			"bid_count":          committed.BidCount,
			"previous_bidder_id": before.LastBidderID,
		},
		Timestamp: bid.PlacedAt,
	})

	if extended {
		s.log.Info("Auction extended", "auction_id", bid.AuctionID, "new_end_time", extendTo)
		s.notify(ctx, &domain.Notification{
			Type:      domain.NotifyAuctionExtended,
			AuctionID: bid.AuctionID,
			Payload: map[string]any{
				"previous_end_time": before.EndTime,
				"new_end_time":      extendTo,
				"extension_count":   committed.ExtensionCount,
			},
			Timestamp: bid.PlacedAt,
		})
	}

	return &domain.BidResult{
		AuctionID:      bid.AuctionID,
		AcceptedAmount: bid.Amount,
		BidCount:       committed.BidCount,
		Version:        version,
		EndTime:        committed.EndTime,
		Extended:       extended,
	}
}

// maxRetryBackoff caps the exponential backoff between commit attempts.
const maxRetryBackoff = 2 * time.Second

// retryDelay is the ceiling of the jittered wait before the given retry:
// RetryBackoff doubled per attempt, never above maxRetryBackoff.
func (s *BidService) retryDelay(attempt int) time.Duration {
	d := s.policy.RetryBackoff
	for i := 0; i < attempt && d < maxRetryBackoff; i++ {
		d *= 2
	}
	return min(d, maxRetryBackoff)
}

func (s *BidService) backoff(ctx context.Context, attempt int) error {
	if s.policy.RetryBackoff <= 0 {
		return ctx.Err()
	}
	base := s.retryDelay(attempt)
	wait := base/2 + rand.N(base/2+1)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *BidService) publish(ctx context.Context, event domain.StateEvent) {
	for _, p := range s.publishers {
		if err := p.PublishStateEvent(ctx, event); err != nil {
			s.log.Error("Failed to publish state event", "auction_id", event.AuctionID,
				"type", event.Type, "version", event.Version, "error", err)
		}
	}
}

func (s *BidService) notify(ctx context.Context, n *domain.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Error("Failed to dispatch notification", "auction_id", n.AuctionID, "type", n.Type, "error", err)
	}
}
