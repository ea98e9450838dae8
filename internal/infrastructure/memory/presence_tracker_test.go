package memory

import (
	"context"
	"testing"
	"time"

	"diamond-auction/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceTracker_CountsUniqueViewersInWindow(t *testing.T) {
	ctx := context.Background()
	c := clock.NewManual(t0)
	p := NewPresenceTracker(c)

	require.NoError(t, p.Heartbeat(ctx, "a1", "v1"))
	require.NoError(t, p.Heartbeat(ctx, "a1", "v1"))
	require.NoError(t, p.Heartbeat(ctx, "a1", "v2"))
	require.NoError(t, p.Heartbeat(ctx, "a2", "v3"))

	count, err := p.CountActive(ctx, "a1", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count.TotalHeartbeats)
	assert.Equal(t, int64(2), count.UniqueViewers)

	c.Advance(20 * time.Second)
	require.NoError(t, p.Heartbeat(ctx, "a1", "v2"))
	c.Advance(20 * time.Second)

	count, err = p.CountActive(ctx, "a1", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count.TotalHeartbeats)
	assert.Equal(t, int64(1), count.UniqueViewers, "v1 fell out of the window")
}

func TestPresenceTracker_UnknownAuction(t *testing.T) {
	p := NewPresenceTracker(clock.NewManual(t0))
	count, err := p.CountActive(context.Background(), "missing", time.Minute)
	require.NoError(t, err)
	assert.Zero(t, count.UniqueViewers)
}

func TestPresenceTracker_Expire(t *testing.T) {
	ctx := context.Background()
	c := clock.NewManual(t0)
	p := NewPresenceTracker(c)

	require.NoError(t, p.Heartbeat(ctx, "a1", "old"))
	c.Advance(3 * time.Minute)
	require.NoError(t, p.Heartbeat(ctx, "a1", "fresh"))

	removed, err := p.Expire(ctx, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	count, err := p.CountActive(ctx, "a1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count.UniqueViewers)
}
