package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares values between clients on different machines. Every
// write is followed by a PUBLISH on "<namespace>:changes" tagged with the
// writer's origin so the writer can ignore its own announcements.
type RedisStore struct {
	client     *redis.Client
	namespace  string
	origin     string
	logger     *slog.Logger
	ownsClient bool

	mu   sync.Mutex
	subs []*redis.PubSub
}

var _ Backend = (*RedisStore)(nil)

type changeMessage struct {
	Origin  string `json:"origin"`
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Present bool   `json:"present"`
}

// NewRedisStore wraps client. The caller keeps ownership of client.
func NewRedisStore(client *redis.Client, namespace string, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = "paperdrop"
	}
	return &RedisStore{
		client:    client,
		namespace: namespace,
		origin:    uuid.NewString(),
		logger:    logger,
	}
}

func (s *RedisStore) redisKey(key string) string {
	return s.namespace + ":" + key
}

func (s *RedisStore) channel() string {
	return s.namespace + ":changes"
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	v, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s from redis: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	old, had, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("writing %s to redis: %w", key, err)
	}
	if had && old == value {
		return nil
	}
	return s.publish(ctx, changeMessage{Key: key, Value: value, Present: true})
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	n, err := s.client.Del(ctx, s.redisKey(key)).Result()
	if err != nil {
		return fmt.Errorf("deleting %s from redis: %w", key, err)
	}
	if n == 0 {
		return nil
	}
	return s.publish(ctx, changeMessage{Key: key})
}

func (s *RedisStore) publish(ctx context.Context, msg changeMessage) error {
	msg.Origin = s.origin
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling change: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel(), data).Err(); err != nil {
		return fmt.Errorf("publishing change: %w", err)
	}
	return nil
}

// Watch subscribes to the change channel. The subscription is confirmed
// before Watch returns, so writes made afterwards are never missed.
func (s *RedisStore) Watch(ctx context.Context, fn func(Change)) (func(), error) {
	sub := s.client.Subscribe(ctx, s.channel())
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", s.channel(), err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	go func() {
		for m := range sub.Channel() {
			var msg changeMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				s.logger.Warn("Ignoring malformed change message", "error", err)
				continue
			}
			if msg.Origin == s.origin {
				continue
			}
			fn(Change{Key: msg.Key, Value: msg.Value, Present: msg.Present})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := sub.Close(); err != nil {
				s.logger.Debug("Closing subscription", "error", err)
			}
		})
	}, nil
}

// Close ends every subscription and, when the store created the client
// itself, closes the client too.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}
