package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "blossom:convo:"

// RedisStore keeps each identity's log as a Redis list of JSON entries,
// bounded via LTRIM after every push.
type RedisStore struct {
	client *redis.Client
	max    int
}

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

func NewRedisStore(cfg RedisConfig, maxMessages int) (*RedisStore, error) {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, max: maxMessages}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(identity string) string {
	return redisKeyPrefix + SanitizeIdentity(identity)
}

func (s *RedisStore) Load(ctx context.Context, identity string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > s.max {
		limit = s.max
	}
	raw, err := s.client.LRange(ctx, s.key(identity), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", identity, err)
	}
	out := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode conversation %s: %w", identity, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStore) Append(ctx context.Context, identity string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]any, 0, len(entries))
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		values = append(values, string(b))
	}
	key := s.key(identity)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-s.max), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append conversation %s: %w", identity, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, identity string) error {
	if err := s.client.Del(ctx, s.key(identity)).Err(); err != nil {
		return fmt.Errorf("clear conversation %s: %w", identity, err)
	}
	return nil
}
