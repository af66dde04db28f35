package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	redis "github.com/redis/go-redis/v9"

	"price-aggregator/models"
)

// RedisStore keeps marketplace definitions in one Redis hash, keyed by name.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Save(ctx context.Context, def models.Marketplace) error {
	if s.key == "" {
		return errors.New("marketplace hash key is not configured")
	}
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal marketplace: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, def.Name, data).Err(); err != nil {
		return fmt.Errorf("redis HSET %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, name string) (bool, error) {
	n, err := s.client.HDel(ctx, s.key, name).Result()
	if err != nil {
		return false, fmt.Errorf("redis HDEL %s: %w", s.key, err)
	}
	return n > 0, nil
}

// LoadAll returns every stored definition sorted by name. Malformed entries
// are skipped.
func (s *RedisStore) LoadAll(ctx context.Context) ([]models.Marketplace, error) {
	if s.key == "" {
		return nil, errors.New("marketplace hash key is not configured")
	}
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %s: %w", s.key, err)
	}

	defs := make([]models.Marketplace, 0, len(fields))
	for name, raw := range fields {
		var def models.Marketplace
		if err := json.Unmarshal([]byte(raw), &def); err != nil || def.Name != name {
			continue
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
