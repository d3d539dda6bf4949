package taskstatus

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore shares task status between replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore constructs a store writing keys under prefix.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("taskstatus: nil redis client")
	}
	if prefix == "" {
		prefix = "plantwatch:task:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

func (s *RedisStore) Set(ctx context.Context, status Status) error {
	if status.Name == "" {
		return errors.New("taskstatus: empty name")
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.prefix+status.Name, payload, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), status.Name)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, name string) (*Status, error) {
	raw, err := s.client.Get(ctx, s.prefix+name).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// List returns live statuses and prunes expired names from the index.
func (s *RedisStore) List(ctx context.Context) ([]Status, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []Status{}, nil
	}
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = s.prefix + name
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(values))
	var stale []interface{}
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, names[i])
			continue
		}
		var status Status
		if err := json.Unmarshal([]byte(raw), &status); err != nil {
			continue
		}
		out = append(out, status)
	}
	if len(stale) > 0 {
		_ = s.client.SRem(ctx, s.indexKey(), stale...).Err()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
