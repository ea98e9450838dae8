package domain

import (
	"encoding/json"
	"time"
)

// MaxAmount bounds every monetary field, in minor units. It keeps
// CurrentPrice+MinIncrement well inside int64.
const MaxAmount int64 = 1_000_000_000_000_000

type Auction struct {
	ID             string
	DiamondID      string
	SellerID       string
	StartPrice     int64
	CurrentPrice   int64
	MinIncrement   int64
	ReservePrice   *int64
	StartTime      time.Time
	EndTime        time.Time
	MaxEndTime     *time.Time
	Status         AuctionStatus
	BidCount       int64
	LastBidderID   string
	ExtensionCount int64
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy so callers never share pointer fields with the store.
func (a *Auction) Clone() *Auction {
	c := *a
	if a.ReservePrice != nil {
		v := *a.ReservePrice
		c.ReservePrice = &v
	}
	if a.MaxEndTime != nil {
		v := *a.MaxEndTime
		c.MaxEndTime = &v
	}
	return &c
}

// MinAcceptableBid is the lowest amount the next bid may carry.
func (a *Auction) MinAcceptableBid() int64 {
	return a.CurrentPrice + a.MinIncrement
}

func (a *Auction) AcceptsBids(now time.Time) bool {
	return a.Status.IsOpen() && !now.After(a.EndTime)
}

// ReserveMet reports whether the current price clears the reserve. Auctions
// without bids never meet a reserve.
func (a *Auction) ReserveMet() bool {
	if a.BidCount == 0 {
		return false
	}
	if a.ReservePrice == nil {
		return true
	}
	return a.CurrentPrice >= *a.ReservePrice
}

type AuctionStatus int

const (
	AuctionScheduled AuctionStatus = iota
	AuctionActive
	AuctionExtended
	AuctionEnded
	AuctionCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionScheduled:
		return "scheduled"
	case AuctionActive:
		return "active"
	case AuctionExtended:
		return "extended"
	case AuctionEnded:
		return "ended"
	case AuctionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s AuctionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// IsOpen reports whether bids may be admitted in this status.
func (s AuctionStatus) IsOpen() bool {
	return s == AuctionActive || s == AuctionExtended
}

func (s AuctionStatus) IsTerminal() bool {
	return s == AuctionEnded || s == AuctionCancelled
}

// CanTransitionTo encodes the lifecycle state machine.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case AuctionScheduled:
		return next == AuctionActive || next == AuctionCancelled
	case AuctionActive:
		return next == AuctionExtended || next == AuctionEnded
	case AuctionExtended:
		return next == AuctionExtended || next == AuctionEnded
	default:
		return false
	}
}

type Bid struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auction_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	PlacedAt  time.Time `json:"placed_at"`
}

type Watcher struct {
	AuctionID  string
	ViewerID   string
	LastSeenAt time.Time
}

type PresenceCount struct {
	TotalHeartbeats int64 `json:"total_heartbeats"`
	UniqueViewers   int64 `json:"unique_viewers"`
}

type CreateAuctionParams struct {
	DiamondID    string
	SellerID     string
	StartTime    time.Time
	EndTime      time.Time
	StartPrice   int64
	MinIncrement int64
	ReservePrice *int64
}

// Validate checks the schedule and monetary fields of a new auction.
func (p CreateAuctionParams) Validate() error {
	if !p.EndTime.After(p.StartTime) {
		return ErrInvalidSchedule
	}
	if p.StartPrice <= 0 || p.MinIncrement <= 0 {
		return ErrInvalidPrice
	}
	if p.ReservePrice != nil && *p.ReservePrice < 0 {
		return ErrInvalidPrice
	}
	if p.StartPrice > MaxAmount || p.MinIncrement > MaxAmount ||
		(p.ReservePrice != nil && *p.ReservePrice > MaxAmount) {
		return ErrAmountTooLarge
	}
	return nil
}

type BidResult struct {
	AuctionID      string    `json:"auction_id"`
	AcceptedAmount int64     `json:"accepted_amount"`
	BidCount       int64     `json:"bid_count"`
	Version        int64     `json:"version"`
	EndTime        time.Time `json:"end_time"`
	Extended       bool      `json:"extended"`
}

// AuctionView is the read model returned by GetAuction.
type AuctionView struct {
	Auction    *Auction
	RecentBids []*Bid
}

type StateEventType string

const (
	StateSnapshot    StateEventType = "snapshot"
	StateBidAccepted StateEventType = "bid_accepted"
	StateStatus      StateEventType = "status_changed"
)

// StateEvent is the payload fanned out to auction subscribers. It always
// carries the full price state so a subscriber can resync from any event.
type StateEvent struct {
	Type         StateEventType `json:"type"`
	AuctionID    string         `json:"auction_id"`
	CurrentPrice int64          `json:"current_price"`
	BidCount     int64          `json:"bid_count"`
	EndTime      time.Time      `json:"end_time"`
	LastBidderID string         `json:"last_bidder_id,omitempty"`
	Status       string         `json:"status"`
	Version      int64          `json:"version"`
	EventTime    time.Time      `json:"event_time"`
}

func NewStateEvent(t StateEventType, a *Auction, at time.Time) StateEvent {
	return StateEvent{
		Type:         t,
		AuctionID:    a.ID,
		CurrentPrice: a.CurrentPrice,
		BidCount:     a.BidCount,
		EndTime:      a.EndTime,
		LastBidderID: a.LastBidderID,
		Status:       a.Status.String(),
		Version:      a.Version,
		EventTime:    at,
	}
}

type NotificationType string

const (
	NotifyBidPlaced       NotificationType = "bid_placed"
	NotifyAuctionExtended NotificationType = "auction_extended"
	NotifyAuctionEnded    NotificationType = "auction_ended"
)

type Notification struct {
	Type      NotificationType `json:"type"`
	AuctionID string           `json:"auction_id"`
	Payload   map[string]any   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
}

// BidEvent is the analytics record persisted by the analytics service.
type BidEvent struct {
	Type      NotificationType `json:"type"`
	AuctionID string           `json:"auction_id"`
	UserID    string           `json:"user_id"`
	Amount    int64            `json:"amount"`
	Timestamp time.Time        `json:"timestamp"`
}
