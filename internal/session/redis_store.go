package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zeli-parts/partsbot/internal/models"
)

const (
	conversationKeyPattern  = "partsbot:conversation:%s"
	conversationScanPattern = "partsbot:conversation:*"
	scanBatchCount          = 100
)

// RedisStore persists conversations as JSON values. Keys carry an expiry of
// twice the session TTL as a backstop; the Sweeper is what normally purges
// them, so expiry hooks still run.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
	expiry time.Duration
}

// NewRedisStore initializes a Redis-backed Store.
func NewRedisStore(client *redis.Client, log *slog.Logger, ttl time.Duration) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, log: log, expiry: 2 * ttl}
}

func (s *RedisStore) Get(ctx context.Context, customer string) (*models.Conversation, error) {
	data, err := s.client.Get(ctx, conversationKey(customer)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		s.log.Error("RedisStore.Get: redis get failed", "customer", customer, "error", err)
		return nil, err
	}

	var conv models.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		s.log.Error("RedisStore.Get: decode failed", "customer", customer, "error", err)
		return nil, fmt.Errorf("decode conversation %s: %w", customer, err)
	}
	return &conv, nil
}

func (s *RedisStore) Put(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.Customer == "" {
		return errors.New("session: conversation without customer")
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conv.Customer, err)
	}
	if err := s.client.Set(ctx, conversationKey(conv.Customer), data, s.expiry).Err(); err != nil {
		s.log.Error("RedisStore.Put: redis set failed", "customer", conv.Customer, "error", err)
		return err
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, customer string) error {
	if err := s.client.Del(ctx, conversationKey(customer)).Err(); err != nil {
		s.log.Error("RedisStore.Delete: redis del failed", "customer", customer, "error", err)
		return err
	}
	return nil
}

// List scans every conversation key. Undecodable values are skipped.
func (s *RedisStore) List(ctx context.Context) ([]*models.Conversation, error) {
	var (
		cursor uint64
		result []*models.Conversation
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, conversationScanPattern, scanBatchCount).Result()
		if err != nil {
			s.log.Error("RedisStore.List: scan failed", "error", err)
			return nil, err
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return nil, err
			}
			var conv models.Conversation
			if err := json.Unmarshal(data, &conv); err != nil {
				s.log.Warn("RedisStore.List: skipping undecodable conversation", "key", key, "error", err)
				continue
			}
			result = append(result, &conv)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return result, nil
}

func conversationKey(customer string) string {
	return fmt.Sprintf(conversationKeyPattern, customer)
}
