// Package store is the optional Redis-backed persistence layer: it lets a
// restarted process resume file transfers (by recalling a parts-manager
// bitmask) and skip a cold DC health probe (by recalling a session's
// minimal resumption snapshot), without requiring Redis for in-process
// use. The Store interface keeps go-redis out of call sites.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists opaque transfer bitmasks and session resumption
// snapshots. The in-memory default (MemoryStore, used when no Redis URL
// is configured) keeps saved values for the life of the process only, so
// callers can treat store as always-present.
type Store interface {
	// SaveBitmask persists transferID's parts-manager bitmask.
	SaveBitmask(ctx context.Context, transferID string, bitmask string) error
	// LoadBitmask returns a previously saved bitmask, or ("", false) on miss.
	LoadBitmask(ctx context.Context, transferID string) (string, bool, error)

	// SaveSession persists a session resumption snapshot.
	SaveSession(ctx context.Context, clientID int64, snap SessionSnapshot) error
	// LoadSession returns a previously saved snapshot, or (zero, false) on miss.
	LoadSession(ctx context.Context, clientID int64) (SessionSnapshot, bool, error)

	Close() error
}

// SessionSnapshot is the minimal state needed to skip a cold DC health
// probe on restart: which DC a client was last talking to, whether that
// connection was ready, and when it was last used.
type SessionSnapshot struct {
	DCID     int32     `json:"dc_id"`
	Ready    bool      `json:"ready"`
	LastUsed time.Time `json:"last_used"`
}

const keyPrefix = "coreadmind:"

func bitmaskKey(transferID string) string { return keyPrefix + "bitmask:" + transferID }
func sessionKey(clientID int64) string    { return fmt.Sprintf("%ssession:%d", keyPrefix, clientID) }

// RedisStore is the Redis-backed Store implementation.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore parses url and returns a Store with the given key TTL;
// ttl <= 0 means keys never expire.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opt), ttl: ttl}, nil
}

// Ping verifies connectivity with a short bounded timeout.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) SaveBitmask(ctx context.Context, transferID string, bitmask string) error {
	return s.client.Set(ctx, bitmaskKey(transferID), bitmask, s.ttl).Err()
}

func (s *RedisStore) LoadBitmask(ctx context.Context, transferID string) (string, bool, error) {
	v, err := s.client.Get(ctx, bitmaskKey(transferID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, clientID int64, snap SessionSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey(clientID), b, s.ttl).Err()
}

func (s *RedisStore) LoadSession(ctx context.Context, clientID int64) (SessionSnapshot, bool, error) {
	v, err := s.client.Get(ctx, sessionKey(clientID)).Bytes()
	if err == redis.Nil {
		return SessionSnapshot{}, false, nil
	}
	if err != nil {
		return SessionSnapshot{}, false, err
	}
	var snap SessionSnapshot
	if err := json.Unmarshal(v, &snap); err != nil {
		return SessionSnapshot{}, false, err
	}
	return snap, true, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
