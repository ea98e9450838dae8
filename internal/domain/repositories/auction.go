package repositories

import (
	"context"

	"diamond-auction/internal/domain"
)

// AuctionReader is the read-only slice of the store used by transport
// handlers that must not mutate auctions.
type AuctionReader interface {
	Get(ctx context.Context, auctionID string) (*domain.Auction, error)
	RecentBids(ctx context.Context, auctionID string, limit int) ([]*domain.Bid, error)
}
