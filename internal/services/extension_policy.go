package services

import (
	"time"

	"diamond-auction/internal/domain"
)

// ExtensionPolicy is the anti-sniping rule: a bid landing within Window of
// the end pushes the end to now+Duration, never past the auction's MaxEndTime.
type ExtensionPolicy struct {
	Window   time.Duration
	Duration time.Duration
}

// Evaluate returns the end time a bid accepted at now should produce. ok is
// false when no extension applies. ErrExtensionCapReached is returned when
// one would apply but the cap forbids it.
func (p ExtensionPolicy) Evaluate(auction *domain.Auction, now time.Time) (newEnd time.Time, ok bool, err error) {
	if p.Window <= 0 || p.Duration <= 0 || !auction.Status.IsOpen() {
		return time.Time{}, false, nil
	}

	remaining := auction.EndTime.Sub(now)
	if remaining < 0 || remaining > p.Window {
		return time.Time{}, false, nil
	}

	// stores keep millisecond precision
	candidate := now.Add(p.Duration).Truncate(time.Millisecond)
	if !candidate.After(auction.EndTime) {
		// already extended far enough by a concurrent bid
		return time.Time{}, false, nil
	}
	if auction.MaxEndTime != nil && candidate.After(*auction.MaxEndTime) {
		return time.Time{}, false, domain.ErrExtensionCapReached
	}
	return candidate, true, nil
}
