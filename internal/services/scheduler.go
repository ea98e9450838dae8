package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"diamond-auction/internal/domain"
	"diamond-auction/pkg/logger"

	"github.com/robfig/cron/v3"
)

type SchedulerConfig struct {
	InstanceID    string
	SweepInterval time.Duration
	PresenceTTL   time.Duration
}

// SweepResult counts what a single sweep did.
type SweepResult struct {
	Started int
	Ended   int
	Failed  int
	Expired int
}

// LifecycleScheduler moves auctions through their lifecycle as time passes.
// The status change is a CAS on the auction, so when several replicas sweep
// at once exactly one of them wins each transition and emits its event.
type LifecycleScheduler struct {
	cron       *cron.Cron
	store      domain.AuctionStore
	presence   domain.PresenceTracker
	leader     domain.LeaderElection
	notifier   domain.NotificationDispatcher
	publishers []domain.EventPublisher
	clock      domain.Clock
	cfg        SchedulerConfig
	log        logger.Logger

	sweepMu sync.Mutex
}

func NewLifecycleScheduler(
	store domain.AuctionStore,
	presence domain.PresenceTracker,
	leader domain.LeaderElection,
	notifier domain.NotificationDispatcher,
	publishers []domain.EventPublisher,
	clock domain.Clock,
	cfg SchedulerConfig,
	log logger.Logger,
) *LifecycleScheduler {
	return &LifecycleScheduler{
		cron:       cron.New(),
		store:      store,
		presence:   presence,
		leader:     leader,
		notifier:   notifier,
		publishers: publishers,
		clock:      clock,
		cfg:        cfg,
		log:        log,
	}
}

func (s *LifecycleScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting lifecycle scheduler", "interval", s.cfg.SweepInterval.String())

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.SweepInterval), func() {
		s.tick(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *LifecycleScheduler) Stop() error {
	s.log.Info("Stopping lifecycle scheduler")
	<-s.cron.Stop().Done()
	return s.leader.ReleaseLeadership(context.Background(), s.cfg.InstanceID)
}

func (s *LifecycleScheduler) tick(ctx context.Context) {
	leader, err := s.ensureLeader(ctx)
	if err != nil {
		s.log.Error("Leader check failed", "error", err)
		return
	}
	if !leader {
		return
	}

	result, err := s.Sweep(ctx)
	if err != nil {
		s.log.Error("Sweep failed", "error", err)
		return
	}
	if result.Started+result.Ended+result.Failed > 0 {
		s.log.Info("Sweep finished", "started", result.Started, "ended", result.Ended, "failed", result.Failed)
	}
}

func (s *LifecycleScheduler) ensureLeader(ctx context.Context) (bool, error) {
	ok, err := s.leader.IsLeader(ctx, s.cfg.InstanceID)
	if err != nil || ok {
		return ok, err
	}
	return s.leader.BecomeLeader(ctx, s.cfg.InstanceID)
}

// Sweep processes every non-terminal auction once. A failure on one auction
// is logged and left for the next sweep; the rest are still processed.
// Running it again on the same state is a no-op.
func (s *LifecycleScheduler) Sweep(ctx context.Context) (SweepResult, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	var result SweepResult
	auctions, err := s.store.ListNonTerminal(ctx)
	if err != nil {
		return result, fmt.Errorf("list auctions: %w", err)
	}

	now := s.clock.Now()
	for _, auction := range auctions {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		started, ended, err := s.advance(ctx, auction, now)
		if err != nil {
			result.Failed++
			s.log.Error("Failed to advance auction", "auction_id", auction.ID, "status", auction.Status.String(), "error", err)
			continue
		}
		if started {
			result.Started++
		}
		if ended {
			result.Ended++
		}
	}

	if s.presence != nil && s.cfg.PresenceTTL > 0 {
		expired, err := s.presence.Expire(ctx, s.cfg.PresenceTTL)
		if err != nil {
			s.log.Warn("Failed to expire presence", "error", err)
		}
		result.Expired = expired
	}
	return result, nil
}

func (s *LifecycleScheduler) advance(ctx context.Context, auction *domain.Auction, now time.Time) (bool, bool, error) {
	switch {
	case auction.Status == domain.AuctionScheduled && !now.Before(auction.StartTime):
		version, err := s.store.Transition(ctx, auction.ID, auction.Version, domain.AuctionActive)
		if lostRace(err) {
			return false, false, nil
		}
		if err != nil {
			return false, false, err
		}
		auction.Status = domain.AuctionActive
		auction.Version = version
		s.publish(ctx, domain.NewStateEvent(domain.StateStatus, auction, now))
		s.log.Info("Auction started", "auction_id", auction.ID)
		// an auction whose end already passed is closed on the next sweep
		return true, false, nil

	case auction.Status.IsOpen() && !now.Before(auction.EndTime):
		version, err := s.store.Transition(ctx, auction.ID, auction.Version, domain.AuctionEnded)
		if lostRace(err) {
			// a late bid or extension got in first; re-evaluated next sweep
			return false, false, nil
		}
		if err != nil {
			return false, false, err
		}
		auction.Status = domain.AuctionEnded
		auction.Version = version
		s.publish(ctx, domain.NewStateEvent(domain.StateStatus, auction, now))
		s.notifyEnded(ctx, auction, now)
		return false, true, nil
	}
	return false, false, nil
}

func (s *LifecycleScheduler) notifyEnded(ctx context.Context, auction *domain.Auction, now time.Time) {
	s.log.Info("Auction ended", "auction_id", auction.ID, "winner_id", auction.LastBidderID,
		"final_price", auction.CurrentPrice, "bid_count", auction.BidCount)

	if s.notifier == nil {
		return
	}
	err := s.notifier.Notify(ctx, &domain.Notification{
		Type:      domain.NotifyAuctionEnded,
		AuctionID: auction.ID,
		Payload: map[string]any{
			"winner_id":   auction.LastBidderID,
			"final_price": auction.CurrentPrice,
			"bid_count":   auction.BidCount,
			"reserve_met": auction.ReserveMet(),
			"seller_id":   auction.SellerID,
		},
		Timestamp: now,
	})
	if err != nil {
		s.log.Error("Failed to dispatch auction ended", "auction_id", auction.ID, "error", err)
	}
}

func (s *LifecycleScheduler) publish(ctx context.Context, event domain.StateEvent) {
	for _, p := range s.publishers {
		if err := p.PublishStateEvent(ctx, event); err != nil {
			s.log.Error("Failed to publish state event", "auction_id", event.AuctionID, "error", err)
		}
	}
}

func lostRace(err error) bool {
	return errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrInvalidTransition)
}
