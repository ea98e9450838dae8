package services

import (
	"time"

	"diamond-auction/internal/domain"
)

// BidValidator holds the admission rules a bid must pass before the store is
// asked to commit it. None of these failures are worth retrying.
type BidValidator struct{}

// Admit returns the amount to commit for a bid against the given snapshot.
// A nil requested amount means "the minimum acceptable bid". Amounts above
// domain.MaxAmount are refused so the price can never wrap.
func (v BidValidator) Admit(auction *domain.Auction, bidderID string, requested *int64, now time.Time) (int64, error) {
	if bidderID == auction.SellerID {
		return 0, domain.ErrSelfBidNotAllowed
	}
	if !auction.AcceptsBids(now) {
		return 0, domain.ErrAuctionNotActive
	}

	minimum := auction.MinAcceptableBid()
	if minimum > domain.MaxAmount {
		return 0, domain.ErrAmountTooLarge
	}
	if requested == nil {
		return minimum, nil
	}
	if *requested > domain.MaxAmount {
		return 0, domain.ErrAmountTooLarge
	}
	if !v.ValidateIncrement(auction, *requested) {
		return 0, domain.ErrBidTooLow
	}
	return *requested, nil
}

// ValidateIncrement reports whether amount clears the current price by at
// least the auction's increment.
func (BidValidator) ValidateIncrement(auction *domain.Auction, amount int64) bool {
	return amount >= auction.MinAcceptableBid()
}
