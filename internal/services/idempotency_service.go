package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/flowpay/ledger-backend/internal/models"
)

// IdempotencyStore records provider event ids that have already been
// accepted, so redelivered webhooks short-circuit before any handler runs.
// Postgres is the source of truth: the (provider, event_id) primary key
// makes the check-and-set atomic across instances and restarts. Redis, when
// available, is only a read-side shortcut for hot duplicates.
type IdempotencyStore struct {
	db       *sql.DB
	redis    *redis.Client
	cacheTTL time.Duration
}

func NewIdempotencyStore(db *sql.DB, redisClient *redis.Client, cacheTTL time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		db:       db,
		redis:    redisClient,
		cacheTTL: cacheTTL,
	}
}

// MarkIfNew atomically records (provider, eventID) and reports whether it
// was new. A false return with nil error means a duplicate delivery.
func (s *IdempotencyStore) MarkIfNew(ctx context.Context, provider models.Provider, eventID string) (bool, error) {
	if s.redis != nil {
		seen, err := s.redis.Exists(ctx, s.cacheKey(provider, eventID)).Result()
		if err == nil && seen > 0 {
			return false, nil
		}
		// Cache miss or Redis error falls through to the durable check.
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_dedup (provider, event_id, seen_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING`,
		string(provider), eventID, time.Now())
	if err != nil {
		return false, fmt.Errorf("idempotency check failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("idempotency check failed: %w", err)
	}

	if rows == 0 {
		s.cacheSeen(ctx, provider, eventID)
		return false, nil
	}

	s.cacheSeen(ctx, provider, eventID)
	return true, nil
}

func (s *IdempotencyStore) cacheSeen(ctx context.Context, provider models.Provider, eventID string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, s.cacheKey(provider, eventID), "1", s.cacheTTL).Err(); err != nil {
		log.Printf("[WEBHOOK] Failed to cache dedup key for %s/%s: %v", provider, eventID, err)
	}
}

func (s *IdempotencyStore) cacheKey(provider models.Provider, eventID string) string {
	return "webhook_dedup:" + string(provider) + ":" + eventID
}
