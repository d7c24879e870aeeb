package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// stateCacheTTL bounds how long a state entry can outlive its session.
// Entries are refreshed on every mutation and dropped on terminal
// transitions, so the TTL only matters after a crash.
const stateCacheTTL = 12 * time.Hour

// StateCache serves the hot timing state of a session without a
// database round trip. Writes are best-effort: a cache failure
// degrades to the database fallback, never to an error.
type StateCache interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*model.SessionState, error)
	Put(ctx context.Context, st *model.SessionState)
	Drop(ctx context.Context, sessionID uuid.UUID)
}

// RedisStateCache implements StateCache on the shared Redis instance.
type RedisStateCache struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisStateCache creates a new RedisStateCache.
func NewRedisStateCache(rdb *redis.Client, log zerolog.Logger) *RedisStateCache {
	return &RedisStateCache{
		rdb: rdb,
		log: log.With().Str("component", "state_cache").Logger(),
	}
}

// Get reads the cached state. Returns ErrNotFound on a cache miss so
// the caller falls back to the database and heals the entry.
func (c *RedisStateCache) Get(ctx context.Context, sessionID uuid.UUID) (*model.SessionState, error) {
	raw, err := c.rdb.Get(ctx, config.CacheKey.SessionStateKey(sessionID.String())).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("State cache read failed")
		}
		return nil, ErrNotFound
	}

	var st model.SessionState
	if err := json.Unmarshal(raw, &st); err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("State cache entry corrupt, dropping")
		c.Drop(ctx, sessionID)
		return nil, ErrNotFound
	}
	return &st, nil
}

// Put writes the state entry. Best-effort.
func (c *RedisStateCache) Put(ctx context.Context, st *model.SessionState) {
	raw, err := json.Marshal(st)
	if err != nil {
		c.log.Error().Err(err).Str("session_id", st.SessionID.String()).Msg("State cache marshal failed")
		return
	}
	if err := c.rdb.Set(ctx, config.CacheKey.SessionStateKey(st.SessionID.String()), raw, stateCacheTTL).Err(); err != nil {
		c.log.Warn().Err(err).Str("session_id", st.SessionID.String()).Msg("State cache write failed")
	}
}

// Drop removes the entry. Called on terminal transitions.
func (c *RedisStateCache) Drop(ctx context.Context, sessionID uuid.UUID) {
	if err := c.rdb.Del(ctx, config.CacheKey.SessionStateKey(sessionID.String())).Err(); err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("State cache delete failed")
	}
}
