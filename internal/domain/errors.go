package domain

import "errors"

// Validation errors are client mistakes and are never retried.
var (
	ErrInvalidSchedule   = errors.New("end time must be after start time")
	ErrInvalidPrice      = errors.New("start price and min increment must be positive")
	ErrBidTooLow         = errors.New("bid is below current price plus min increment")
	ErrSelfBidNotAllowed = errors.New("seller cannot bid on own auction")
	ErrAuctionNotActive  = errors.New("auction is not accepting bids")
	ErrAmountTooLarge    = errors.New("amount exceeds the maximum supported value")
)

// Contention errors.
var (
	// ErrVersionConflict is the store-level compare-and-swap miss.
	ErrVersionConflict = errors.New("auction version conflict")

	// ErrConcurrentUpdateConflict surfaces when bid retries are exhausted.
	ErrConcurrentUpdateConflict = errors.New("concurrent update conflict")
)

// Authorization errors.
var (
	ErrNotAuthorized = errors.New("caller is not the seller")
	ErrCannotCancel  = errors.New("auction cannot be cancelled")
)

var (
	ErrAuctionNotFound     = errors.New("auction not found")
	ErrEndTimeRegression   = errors.New("end time may only increase")
	ErrInvalidTransition   = errors.New("invalid auction status transition")
	ErrExtensionCapReached = errors.New("extension would exceed max end time")
)

func IsValidation(err error) bool {
	return anyIs(err, ErrInvalidSchedule, ErrInvalidPrice, ErrBidTooLow, ErrSelfBidNotAllowed, ErrAuctionNotActive, ErrAmountTooLarge)
}

func IsAuthorization(err error) bool {
	return anyIs(err, ErrNotAuthorized, ErrCannotCancel)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrAuctionNotFound)
}

// IsConflict covers both the raw CAS miss and the exhausted-retry error.
func IsConflict(err error) bool {
	return anyIs(err, ErrVersionConflict, ErrConcurrentUpdateConflict)
}

func anyIs(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var errorCodes = map[error]string{
	ErrInvalidSchedule:          "invalid_schedule",
	ErrInvalidPrice:             "invalid_price",
	ErrBidTooLow:                "bid_too_low",
	ErrSelfBidNotAllowed:        "self_bid_not_allowed",
	ErrAuctionNotActive:         "auction_not_active",
	ErrAmountTooLarge:           "amount_too_large",
	ErrVersionConflict:          "concurrent_update_conflict",
	ErrConcurrentUpdateConflict: "concurrent_update_conflict",
	ErrNotAuthorized:            "not_authorized",
	ErrCannotCancel:             "cannot_cancel",
	ErrAuctionNotFound:          "auction_not_found",
}

// ErrorCode is the stable client-facing name for err, "internal" if unknown.
func ErrorCode(err error) string {
	for target, code := range errorCodes {
		if errors.Is(err, target) {
			return code
		}
	}
	return "internal"
}
