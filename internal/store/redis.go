package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vacaplan-dev/vacaplan/internal/booking"
	"github.com/vacaplan-dev/vacaplan/internal/event"
)

const defaultRedisPrefix = "vacaplan:"

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all keys (default "vacaplan:").
	Prefix string
	// TTL bounds how long session records live without activity
	// (0 = never expire; the retention purge still applies).
	TTL time.Duration
	// PoolSize is the connection pool size (default 10).
	PoolSize int
}

// RedisStore persists sessions, transactions and audit trails in Redis,
// suitable for multi-node deployments.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisStoreFromClient wraps an existing client. Useful for tests with
// miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) sessionKey(id string) string     { return s.prefix + "session:" + id }
func (s *RedisStore) auditKey(id string) string       { return s.prefix + "audit:" + id }
func (s *RedisStore) txKey(id string) string          { return s.prefix + "tx:" + id }
func (s *RedisStore) sessionTxKey(id string) string   { return s.prefix + "session-tx:" + id }
func (s *RedisStore) updatedIndexKey() string         { return s.prefix + "sessions:by-updated" }
func (s *RedisStore) statusIndexKey(st Status) string { return s.prefix + "sessions:status:" + string(st) }

func (s *RedisStore) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveSession writes the full session snapshot in one pipeline so a
// concurrent load observes either the old or the new record.
func (s *RedisStore) SaveSession(ctx context.Context, sess *Session) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	prev, err := s.LoadSession(ctx, sess.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(sess.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.updatedIndexKey(), redis.Z{
		Score:  float64(sess.UpdatedAt.Unix()),
		Member: sess.ID,
	})
	if prev != nil && prev.Status != sess.Status {
		pipe.SRem(ctx, s.statusIndexKey(prev.Status), sess.ID)
	}
	pipe.SAdd(ctx, s.statusIndexKey(sess.Status), sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadSession(ctx context.Context, id string) (*Session, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	prev, err := s.LoadSession(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	pipe.Del(ctx, s.auditKey(id))
	pipe.ZRem(ctx, s.updatedIndexKey(), id)
	if prev != nil {
		pipe.SRem(ctx, s.statusIndexKey(prev.Status), id)
	}
	txIDs, lrErr := s.client.SMembers(ctx, s.sessionTxKey(id)).Result()
	if lrErr == nil {
		for _, txID := range txIDs {
			pipe.Del(ctx, s.txKey(txID))
		}
	}
	pipe.Del(ctx, s.sessionTxKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) ListSessions(ctx context.Context, status Status) ([]string, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if status != "" {
		ids, err := s.client.SMembers(ctx, s.statusIndexKey(status)).Result()
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		return ids, nil
	}
	ids, err := s.client.ZRange(ctx, s.updatedIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) SaveTransaction(ctx context.Context, tx *booking.Transaction) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.txKey(tx.ID), data, s.ttl)
	pipe.SAdd(ctx, s.sessionTxKey(tx.SessionID), tx.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadTransaction(ctx context.Context, id string) (*booking.Transaction, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.txKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	var tx booking.Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return &tx, nil
}

func (s *RedisStore) AppendAudit(ctx context.Context, sessionID string, ev event.Event) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.auditKey(sessionID), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.auditKey(sessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadAudit(ctx context.Context, sessionID string) ([]event.Event, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	raw, err := s.client.LRange(ctx, s.auditKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load audit: %w", err)
	}
	events := make([]event.Event, 0, len(raw))
	for _, item := range raw {
		var ev event.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// PurgeBefore removes sessions last updated before cutoff, using the
// updated-at sorted set as the scan index.
func (s *RedisStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	ids, err := s.client.ZRangeByScore(ctx, s.updatedIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff.Unix()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("purge scan: %w", err)
	}
	for _, id := range ids {
		if err := s.DeleteSession(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
