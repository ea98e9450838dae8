package leader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const leaderKey = "auction_scheduler_leader"

var releaseScript = redis.NewScript(`
    if redis.call("GET", KEYS[1]) == ARGV[1] then
        return redis.call("DEL", KEYS[1])
    else
        return 0
    end
`)

var renewScript = redis.NewScript(`
    if redis.call("GET", KEYS[1]) == ARGV[1] then
        return redis.call("PEXPIRE", KEYS[1], ARGV[2])
    else
        return 0
    end
`)

// RedisLeaderElection elects the single instance that runs the lifecycle
// sweep. Leadership is a TTL'd key renewed at a third of its TTL.
type RedisLeaderElection struct {
	client *redis.Client
	ttl    time.Duration

	mu      sync.Mutex
	renewal context.CancelFunc
}

func NewRedisLeaderElection(client *redis.Client, ttl time.Duration) *RedisLeaderElection {
	return &RedisLeaderElection{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisLeaderElection) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	result, err := r.client.SetNX(ctx, leaderKey, instanceID, r.ttl).Result()
	if err != nil {
		return false, err
	}

	if result {
		r.startRenewal(instanceID)
	}

	return result, nil
}

func (r *RedisLeaderElection) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	currentLeader, err := r.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}

	return currentLeader == instanceID, nil
}

func (r *RedisLeaderElection) ReleaseLeadership(ctx context.Context, instanceID string) error {
	r.stopRenewal()
	return releaseScript.Run(ctx, r.client, []string{leaderKey}, instanceID).Err()
}

func (r *RedisLeaderElection) startRenewal(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.renewal != nil {
		r.renewal()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.renewal = cancel
	go r.maintainLeadership(ctx, instanceID)
}

func (r *RedisLeaderElection) stopRenewal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.renewal != nil {
		r.renewal()
		r.renewal = nil
	}
}

func (r *RedisLeaderElection) maintainLeadership(ctx context.Context, instanceID string) {
	ticker := time.NewTicker(r.ttl / 3) // Refresh at 1/3 of TTL
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		renewCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		result, err := renewScript.Run(renewCtx, r.client, []string{leaderKey},
			instanceID, r.ttl.Milliseconds()).Int64()
		cancel()

		if err != nil || result == 0 {
			// Lost leadership, stop heartbeat
			return
		}
	}
}

// LocalLeader is used when a single instance runs the scheduler.
type LocalLeader struct{}

func (LocalLeader) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	return true, nil
}

func (LocalLeader) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	return true, nil
}

func (LocalLeader) ReleaseLeadership(ctx context.Context, instanceID string) error {
	return nil
}
