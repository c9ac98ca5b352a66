package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/models"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, time.Hour), mr
}

func TestCooldownExpires(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	c, err := s.ActiveCooldown(ctx, "u1", "tesla")
	require.NoError(t, err)
	assert.Nil(t, c)

	require.NoError(t, s.SetCooldown(ctx, "u1", "tesla", 30*time.Second, "rate limited"))

	c, err = s.ActiveCooldown(ctx, "u1", "tesla")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "rate limited", c.Reason)

	other, err := s.ActiveCooldown(ctx, "u2", "tesla")
	require.NoError(t, err)
	assert.Nil(t, other)

	mr.FastForward(31 * time.Second)
	c, err = s.ActiveCooldown(ctx, "u1", "tesla")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestZeroCooldownIsIgnored(t *testing.T) {
	s, mr := newStore(t)
	require.NoError(t, s.SetCooldown(context.Background(), "u1", "tesla", 0, "x"))
	assert.Empty(t, mr.Keys())
}

func TestLastResult(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.LastResult(ctx, "u1")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	in := &models.SyncResult{RunID: "r1", UserID: "u1", Totals: models.Totals{PendingSolarWh: 2000}}
	require.NoError(t, s.SaveResult(ctx, in))

	out, err := s.LastResult(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "r1", out.RunID)
	assert.Equal(t, 2000.0, out.Totals.PendingSolarWh)
}
