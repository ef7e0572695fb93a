package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"landledger/internal/ledger"
)

// RedisStore shares pending handles across engine instances, so a retry can
// land on any replica and still re-poll instead of resubmitting.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (ledger.PendingTx, bool, error) {
	raw, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ledger.PendingTx{}, false, nil
		}
		return ledger.PendingTx{}, false, fmt.Errorf("get pending tx: %w", err)
	}
	var tx ledger.PendingTx
	if err := json.Unmarshal(raw, &tx); err != nil {
		return ledger.PendingTx{}, false, fmt.Errorf("decode pending tx: %w", err)
	}
	return tx, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, tx ledger.PendingTx) error {
	raw, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode pending tx: %w", err)
	}
	if err := s.client.Set(ctx, s.redisKey(key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("put pending tx: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("delete pending tx: %w", err)
	}
	return nil
}

func (s *RedisStore) redisKey(key string) string {
	return "landledger:pending:" + key
}
