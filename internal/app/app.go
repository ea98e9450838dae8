package app

import (
	"context"
	"database/sql"
	"fmt"

	"diamond-auction/internal/clock"
	"diamond-auction/internal/config"
	"diamond-auction/internal/domain"
	"diamond-auction/internal/infrastructure/leader"
	"diamond-auction/internal/infrastructure/memory"
	"diamond-auction/internal/infrastructure/mysql"
	"diamond-auction/internal/infrastructure/redis"
	"diamond-auction/internal/infrastructure/websocket"
	"diamond-auction/internal/services"
	"diamond-auction/pkg/logger"
	"diamond-auction/pkg/utils"

	redisClient "github.com/go-redis/redis/v8"
)

// App holds the wired engine shared by the service binaries.
type App struct {
	Config *config.Config
	Log    logger.Logger
	Clock  domain.Clock

	Redis *redisClient.Client
	DB    *sql.DB

	Store      domain.AuctionStore
	Presence   domain.PresenceTracker
	Leader     domain.LeaderElection
	Subscriber domain.EventSubscriber

	Hub         *services.BroadcastHub
	ConnManager *websocket.ConnectionManager
	WSNotifier  *websocket.WebSocketNotifier
	Notifier    domain.NotificationDispatcher
	Bids        *services.BidService
	Auctions    *services.AuctionManager
	Scheduler   *services.LifecycleScheduler
	Listener    *services.EventListener
}

// New connects the configured backends and builds the services on top of
// them. Redis is only dialled when something is configured to use it.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, clk domain.Clock) (*App, error) {
	if clk == nil {
		clk = clock.System{}
	}
	a := &App{Config: cfg, Log: log, Clock: clk}

	if needsRedis(cfg) {
		rdb, err := utils.InitializeRedis(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		a.Redis = rdb
		log.Info("Connected to Redis", "address", cfg.Redis.Address)
	}

	if cfg.Store.Driver == "mysql" {
		db, err := utils.InitializeMysql(ctx, cfg, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.DB = db
		if err := mysql.Migrate(ctx, db); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("Connected to MySQL")
	}

	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Config

	switch cfg.Store.Driver {
	case "memory":
		a.Store = memory.NewAuctionStore(a.Clock)
	case "redis":
		a.Store = redis.NewAuctionStore(a.Redis, a.Clock)
	case "mysql":
		a.Store = mysql.NewAuctionStore(a.DB, a.Clock)
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	switch cfg.Store.PresenceDriver {
	case "memory":
		a.Presence = memory.NewPresenceTracker(a.Clock)
	case "redis":
		a.Presence = redis.NewPresenceTracker(a.Redis, a.Clock)
	default:
		return fmt.Errorf("unknown presence driver %q", cfg.Store.PresenceDriver)
	}

	if cfg.Leader.Enabled {
		a.Leader = leader.NewRedisLeaderElection(a.Redis, cfg.Leader.TTL)
	} else {
		a.Leader = leader.LocalLeader{}
	}

	a.Hub = services.NewBroadcastHub(a.Store, a.Clock, 0, a.Log)
	a.ConnManager = websocket.NewConnectionManager(a.Log)
	a.WSNotifier = websocket.NewWebSocketNotifier(a.ConnManager)

	publishers := []domain.EventPublisher{a.Hub}
	if a.Redis != nil {
		// other instances learn about our commits, and we about theirs,
		// through the relay; the websocket notifier is fed by the listener
		publishers = append(publishers, redis.NewEventPublisher(a.Redis))
		a.Notifier = services.NewMultiDispatcher(redis.NewNotificationPublisher(a.Redis), services.NewLogDispatcher(a.Log))
		a.Subscriber = redis.NewRedisEventSubscriber(a.Redis, a.Log)
		a.Listener = services.NewEventListener(a.Hub, a.WSNotifier, a.Log)
	} else {
		a.Notifier = services.NewMultiDispatcher(a.WSNotifier, services.NewLogDispatcher(a.Log))
	}

	a.Bids = services.NewBidService(a.Store, publishers, a.Notifier, services.BidPolicy{
		MaxRetries:   cfg.Bidding.MaxRetries,
		RetryBackoff: cfg.Bidding.RetryBackoff,
		Extension: services.ExtensionPolicy{
			Window:   cfg.Bidding.ExtendWindow,
			Duration: cfg.Bidding.ExtendDuration,
		},
	}, a.Clock, a.Log)

	a.Auctions = services.NewAuctionManager(a.Store, a.Presence, publishers, services.AuctionPolicy{
		MaxExtension:   cfg.Bidding.MaxExtension,
		RecentBids:     cfg.Bidding.RecentBids,
		PresenceWindow: cfg.Presence.Window,
		MaxRetries:     cfg.Bidding.MaxRetries,
	}, a.Clock, a.Log)

	a.Scheduler = services.NewLifecycleScheduler(a.Store, a.Presence, a.Leader, a.Notifier, publishers, a.Clock,
		services.SchedulerConfig{
			InstanceID:    cfg.Instance.ID,
			SweepInterval: cfg.Scheduler.SweepInterval,
			PresenceTTL:   cfg.Presence.TTL,
		}, a.Log)

	return nil
}

// StartListener runs the cross-instance relay in the background when Redis is
// configured.
func (a *App) StartListener(ctx context.Context) {
	if a.Listener == nil {
		return
	}
	go func() {
		if err := a.Listener.Start(ctx, a.Subscriber); err != nil {
			a.Log.Error("Event listener stopped", "error", err)
		}
	}()
}

func (a *App) Close() {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Log.Error("Failed to close MySQL connection", "error", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Error("Failed to close Redis connection", "error", err)
		}
	}
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Store.Driver == "redis" || cfg.Store.PresenceDriver == "redis" || cfg.Leader.Enabled
}
