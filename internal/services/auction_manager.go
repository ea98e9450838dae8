package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"diamond-auction/internal/domain"
	"diamond-auction/pkg/logger"
	"diamond-auction/pkg/utils"
)

type AuctionPolicy struct {
	// MaxExtension caps how far anti-sniping may push the end time past the
	// original end. Zero means uncapped.
	MaxExtension   time.Duration
	RecentBids     int
	PresenceWindow time.Duration
	MaxRetries     int
}

type AuctionManager struct {
	store      domain.AuctionStore
	presence   domain.PresenceTracker
	publishers []domain.EventPublisher
	policy     AuctionPolicy
	clock      domain.Clock
	log        logger.Logger
}

func NewAuctionManager(
	store domain.AuctionStore,
	presence domain.PresenceTracker,
	publishers []domain.EventPublisher,
	policy AuctionPolicy,
	clock domain.Clock,
	log logger.Logger,
) *AuctionManager {
	return &AuctionManager{
		store:      store,
		presence:   presence,
		publishers: publishers,
		policy:     policy,
		clock:      clock,
		log:        log,
	}
}

// CreateAuction stores a new auction. Auctions whose start time has already
// passed open immediately instead of waiting for the next sweep.
func (am *AuctionManager) CreateAuction(ctx context.Context, params domain.CreateAuctionParams) (*domain.Auction, error) {
	// stores keep millisecond precision
	params.StartTime = params.StartTime.UTC().Truncate(time.Millisecond)
	params.EndTime = params.EndTime.UTC().Truncate(time.Millisecond)
	if err := params.Validate(); err != nil {
		return nil, err
	}

	now := am.clock.Now()
	auction := &domain.Auction{
		ID:           utils.GenerateID("auction"),
		DiamondID:    params.DiamondID,
		SellerID:     params.SellerID,
		StartPrice:   params.StartPrice,
		CurrentPrice: params.StartPrice,
		MinIncrement: params.MinIncrement,
		ReservePrice: params.ReservePrice,
		StartTime:    params.StartTime,
		EndTime:      params.EndTime,
		Status:       domain.AuctionScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !now.Before(auction.StartTime) {
		auction.Status = domain.AuctionActive
	}
	if am.policy.MaxExtension > 0 {
		maxEnd := auction.EndTime.Add(am.policy.MaxExtension)
		auction.MaxEndTime = &maxEnd
	}

	if err := am.store.Create(ctx, auction); err != nil {
		am.log.Error("Failed to create auction", "error", err)
		return nil, fmt.Errorf("create auction: %w", err)
	}

	am.log.Info("Auction created", "auction_id", auction.ID, "diamond_id", auction.DiamondID,
		"status", auction.Status.String(), "start_time", auction.StartTime, "end_time", auction.EndTime)
	return auction, nil
}

func (am *AuctionManager) GetAuction(ctx context.Context, auctionID string) (*domain.AuctionView, error) {
	auction, err := am.store.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	bids, err := am.store.RecentBids(ctx, auctionID, am.policy.RecentBids)
	if err != nil {
		return nil, fmt.Errorf("recent bids: %w", err)
	}
	return &domain.AuctionView{Auction: auction, RecentBids: bids}, nil
}

// CancelAuction withdraws a scheduled auction. Only the seller may cancel,
// and only before any bid has been accepted.
func (am *AuctionManager) CancelAuction(ctx context.Context, auctionID, callerID string) error {
	for attempt := 0; attempt <= am.policy.MaxRetries; attempt++ {
		auction, err := am.store.Get(ctx, auctionID)
		if err != nil {
			return err
		}
		if auction.SellerID != callerID {
			return domain.ErrNotAuthorized
		}
		if auction.BidCount > 0 || auction.Status != domain.AuctionScheduled {
			return domain.ErrCannotCancel
		}

		version, err := am.store.Cancel(ctx, auctionID, auction.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		auction.Status = domain.AuctionCancelled
		auction.Version = version
		am.publish(ctx, domain.NewStateEvent(domain.StateStatus, auction, am.clock.Now()))
		am.log.Info("Auction cancelled", "auction_id", auctionID, "seller_id", callerID)
		return nil
	}
	return domain.ErrConcurrentUpdateConflict
}

// Heartbeat records a viewer for an existing auction.
func (am *AuctionManager) Heartbeat(ctx context.Context, auctionID, viewerID string) error {
	if _, err := am.store.Get(ctx, auctionID); err != nil {
		return err
	}
	return am.presence.Heartbeat(ctx, auctionID, viewerID)
}

func (am *AuctionManager) Presence(ctx context.Context, auctionID string) (domain.PresenceCount, error) {
	if _, err := am.store.Get(ctx, auctionID); err != nil {
		return domain.PresenceCount{}, err
	}
	return am.presence.CountActive(ctx, auctionID, am.policy.PresenceWindow)
}

func (am *AuctionManager) publish(ctx context.Context, event domain.StateEvent) {
	for _, p := range am.publishers {
		if err := p.PublishStateEvent(ctx, event); err != nil {
			am.log.Error("Failed to publish state event", "auction_id", event.AuctionID, "error", err)
		}
	}
}
