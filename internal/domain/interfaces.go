package domain

import (
	"context"
	"time"
)

// AuctionStore is the single synchronization point of the engine. Every
// mutation is a compare-and-swap on Version and returns ErrVersionConflict
// on mismatch without applying any part of the change.
//
// TryCommitBid applies a bid and, when extendTo is non-zero, the anti-sniping
// extension in the same swap. The extension obeys the ExtendEndTime rules.
type AuctionStore interface {
	Create(ctx context.Context, auction *Auction) error
	Get(ctx context.Context, auctionID string) (*Auction, error)
	TryCommitBid(ctx context.Context, auctionID string, expectedVersion int64, bid *Bid, extendTo time.Time) (int64, error)
	ExtendEndTime(ctx context.Context, auctionID string, expectedVersion int64, newEndTime time.Time) (int64, error)
	Cancel(ctx context.Context, auctionID string, expectedVersion int64) (int64, error)
	Transition(ctx context.Context, auctionID string, expectedVersion int64, to AuctionStatus) (int64, error)
	ListNonTerminal(ctx context.Context) ([]*Auction, error)
	RecentBids(ctx context.Context, auctionID string, limit int) ([]*Bid, error)
}

type PresenceTracker interface {
	Heartbeat(ctx context.Context, auctionID, viewerID string) error
	CountActive(ctx context.Context, auctionID string, window time.Duration) (PresenceCount, error)
	Expire(ctx context.Context, ttl time.Duration) (int, error)
}

// NotificationDispatcher delivers domain events to users. Formatting and
// delivery belong to the implementation.
type NotificationDispatcher interface {
	Notify(ctx context.Context, n *Notification) error
}

// Event interfaces
type EventPublisher interface {
	PublishStateEvent(ctx context.Context, event StateEvent) error
}

type EventSubscriber interface {
	SubscribeToStateEvents(ctx context.Context, handler StateEventHandler) error
	SubscribeToNotifications(ctx context.Context, handler NotificationHandler) error
}

type StateEventHandler func(event StateEvent) error

type NotificationHandler func(n *Notification) error

type BidEventRepository interface {
	SaveBidEvent(ctx context.Context, event *BidEvent) error
	GetBidHistory(ctx context.Context, auctionID string) ([]*BidEvent, error)
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

type Clock interface {
	Now() time.Time
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	UserID() string
	AuctionID() string
}

type ConnectionManager interface {
	RegisterConnection(userID, auctionID string, conn WebSocketConnection) error
	UnregisterConnection(userID, auctionID string, conn WebSocketConnection) error
	GetConnectionsForAuction(auctionID string) []WebSocketConnection
	GetConnectionsForUser(userID string) []WebSocketConnection
	BroadcastToAuction(auctionID string, message interface{}) error
	NotifyUser(userID string, message interface{}) error
	CloseAndUnregisterConnections(auctionID string) error
}
