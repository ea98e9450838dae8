package services

import (
	"context"
	"encoding/json"
	"fmt"

	"diamond-auction/internal/domain"
	"diamond-auction/pkg/logger"
)

// AnalyticsService records bid and end-of-auction notifications relayed over
// the notification channel.
type AnalyticsService struct {
	subscriber domain.EventSubscriber
	bidRepo    domain.BidEventRepository
	log        logger.Logger
}

func NewAnalyticsService(subscriber domain.EventSubscriber, bidRepo domain.BidEventRepository, log logger.Logger) *AnalyticsService {
	return &AnalyticsService{
		subscriber: subscriber,
		bidRepo:    bidRepo,
		log:        log,
	}
}

func (as *AnalyticsService) Start(ctx context.Context) error {
	as.log.Info("Starting analytics service")
	return as.subscriber.SubscribeToNotifications(ctx, func(n *domain.Notification) error {
		return as.Record(ctx, n)
	})
}

// Record stores n if it is a bid or an auction end; other types are ignored.
func (as *AnalyticsService) Record(ctx context.Context, n *domain.Notification) error {
	var event *domain.BidEvent
	switch n.Type {
	case domain.NotifyBidPlaced:
		event = &domain.BidEvent{
			Type:      n.Type,
			AuctionID: n.AuctionID,
			UserID:    payloadString(n.Payload, "bidder_id"),
			Amount:    payloadInt(n.Payload, "amount"),
			Timestamp: n.Timestamp,
		}
	case domain.NotifyAuctionEnded:
		event = &domain.BidEvent{
			Type:      n.Type,
			AuctionID: n.AuctionID,
			UserID:    payloadString(n.Payload, "winner_id"),
			Amount:    payloadInt(n.Payload, "final_price"),
			Timestamp: n.Timestamp,
		}
	default:
		return nil
	}

	as.log.Info("Storing bid event", "type", event.Type, "auction_id", event.AuctionID,
		"user_id", event.UserID, "amount", event.Amount)
	if err := as.bidRepo.SaveBidEvent(ctx, event); err != nil {
		return fmt.Errorf("save bid event: %w", err)
	}
	return nil
}

// History returns the recorded bids of an auction, oldest first.
func (as *AnalyticsService) History(ctx context.Context, auctionID string) ([]*domain.BidEvent, error) {
	events, err := as.bidRepo.GetBidHistory(ctx, auctionID)
	if err != nil {
		as.log.Error("Failed to load bid history", "auction_id", auctionID, "error", err)
		return nil, fmt.Errorf("bid history: %w", err)
	}
	if events == nil {
		events = []*domain.BidEvent{}
	}
	return events, nil
}

func payloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

// payloadInt reads an integer that may have been through a JSON round trip.
func payloadInt(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}
