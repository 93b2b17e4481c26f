package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/harun/printdesk/internal/observability"
)

// DefaultRedisPrefix namespaces session keys
const DefaultRedisPrefix = "printdesk:session:"

// RedisStore keeps sessions as JSON values with a ZSET index scored by
// last update time.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix for sessions
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore connects to redis
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(conversationID string) string {
	return s.prefix + conversationID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, conversationID string) (Session, bool, error) {
	val, err := s.client.Get(ctx, s.key(conversationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, false, nil
		}
		return Session{}, false, fmt.Errorf("failed to get session from redis: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return Session{}, false, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return sess, true, nil
}

// Set implements Store
func (s *RedisStore) Set(ctx context.Context, conversationID string, sess Session) error {
	if err := validateSet(conversationID, sess); err != nil {
		return err
	}
	sess.ConversationID = conversationID

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(conversationID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(sess.UpdatedAt.Unix()),
		Member: conversationID,
	})
	count := pipe.ZCard(ctx, s.indexKey())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session to redis: %w", err)
	}

	observability.SetActiveSessions(int(count.Val()))
	return nil
}

// Delete implements Store
func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(conversationID))
	pipe.ZRem(ctx, s.indexKey(), conversationID)
	count := pipe.ZCard(ctx, s.indexKey())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session from redis: %w", err)
	}

	observability.SetActiveSessions(int(count.Val()))
	return nil
}

// List implements Store, ordered by last update. Index entries whose value
// has disappeared are pruned.
func (s *RedisStore) List(ctx context.Context) ([]Session, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return []Session{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	out := make([]Session, 0, len(ids))
	var stale []interface{}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var sess Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session %s: %w", ids[i], err)
		}
		out = append(out, sess)
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune session index: %w", err)
		}
	}

	return out, nil
}

// Close closes the redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
