package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/models"
)

// Cooldown records why a provider is paused for a user.
type Cooldown struct {
	Provider string    `json:"provider"`
	Reason   string    `json:"reason"`
	Until    time.Time `json:"until"`
}

// Store keeps short-lived sync state: provider cooldowns after a 429 and the last
// result per user.
type Store struct {
	client    *redis.Client
	resultTTL time.Duration
}

// NewStore returns redis-backed store.
func NewStore(client *redis.Client, resultTTL time.Duration) *Store {
	return &Store{client: client, resultTTL: resultTTL}
}

func cooldownKey(userID, provider string) string {
	return fmt.Sprintf("sync:cooldown:%s:%s", userID, provider)
}

func resultKey(userID string) string {
	return fmt.Sprintf("sync:last:%s", userID)
}

// SetCooldown pauses provider for userID during d.
func (s *Store) SetCooldown(ctx context.Context, userID, provider string, d time.Duration, reason string) error {
	if d <= 0 {
		return nil
	}
	data, err := json.Marshal(Cooldown{Provider: provider, Reason: reason, Until: time.Now().Add(d).UTC()})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, cooldownKey(userID, provider), data, d).Err()
}

// ActiveCooldown returns the cooldown for (userID, provider) if one is still running.
func (s *Store) ActiveCooldown(ctx context.Context, userID, provider string) (*Cooldown, error) {
	raw, err := s.client.Get(ctx, cooldownKey(userID, provider)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c Cooldown
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveResult caches the latest run result for userID.
func (s *Store) SaveResult(ctx context.Context, result *models.SyncResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, resultKey(result.UserID), data, s.resultTTL).Err()
}

// LastResult returns errs.ErrNotFound when no run was cached.
func (s *Store) LastResult(ctx context.Context, userID string) (*models.SyncResult, error) {
	raw, err := s.client.Get(ctx, resultKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var res models.SyncResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, err
	}
	return &res, nil
}
