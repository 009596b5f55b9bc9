package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps namespaces in a shared Redis instance so several service
// processes can serve the same snapshot. Keys are flattened to
// "namespace:key"; sets use the native Redis set type.
type RedisStore struct {
	rules  Rules
	client *redis.Client
}

// NewRedisStore wraps an already-connected client. The caller owns client
// configuration; Close closes the client.
func NewRedisStore(client *redis.Client, rules Rules) *RedisStore {
	return &RedisStore{rules: rules, client: client}
}

// NewRedisClient builds a client from address, password and database number.
func NewRedisClient(address, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
}

func redisKey(namespace, key string) string {
	return namespace + ":" + key
}

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *RedisStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, redisKey(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	rule := s.rules.For(namespace)
	full := redisKey(namespace, key)
	switch rule.Policy {
	case FixedTTL:
		// Keep an already-running clock; start one only for fresh keys.
		if err := s.client.Set(ctx, full, value, redis.KeepTTL).Err(); err != nil {
			return wrapUnavailable(err)
		}
		ttl, err := s.client.TTL(ctx, full).Result()
		if err != nil {
			return wrapUnavailable(err)
		}
		if ttl < 0 {
			if err := s.client.Expire(ctx, full, rule.TTL).Err(); err != nil {
				return wrapUnavailable(err)
			}
		}
		return nil
	case RefreshOnWrite:
		if err := s.client.Set(ctx, full, value, rule.TTL).Err(); err != nil {
			return wrapUnavailable(err)
		}
		return nil
	default:
		if err := s.client.Set(ctx, full, value, 0).Err(); err != nil {
			return wrapUnavailable(err)
		}
		return nil
	}
}

func (s *RedisStore) SetWithTTL(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKey(namespace, key), value, ttl).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	if err := s.client.Del(ctx, redisKey(namespace, key)).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (s *RedisStore) AddToSet(ctx context.Context, namespace, setKey, member string) error {
	rule := s.rules.For(namespace)
	full := redisKey(namespace, setKey)
	if err := s.client.SAdd(ctx, full, member).Err(); err != nil {
		return wrapUnavailable(err)
	}
	switch rule.Policy {
	case RefreshOnWrite:
		if err := s.client.Expire(ctx, full, rule.TTL).Err(); err != nil {
			return wrapUnavailable(err)
		}
	case FixedTTL:
		ttl, err := s.client.TTL(ctx, full).Result()
		if err != nil {
			return wrapUnavailable(err)
		}
		if ttl < 0 {
			if err := s.client.Expire(ctx, full, rule.TTL).Err(); err != nil {
				return wrapUnavailable(err)
			}
		}
	}
	return nil
}

func (s *RedisStore) RemoveFromSet(ctx context.Context, namespace, setKey, member string) error {
	if err := s.client.SRem(ctx, redisKey(namespace, setKey), member).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (s *RedisStore) SetMembers(ctx context.Context, namespace, setKey string) ([]string, error) {
	members, err := s.client.SMembers(ctx, redisKey(namespace, setKey)).Result()
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	sort.Strings(members)
	return members, nil
}

func (s *RedisStore) HasMember(ctx context.Context, namespace, setKey, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, redisKey(namespace, setKey), member).Result()
	if err != nil {
		return false, wrapUnavailable(err)
	}
	return ok, nil
}

func (s *RedisStore) ClearNamespace(ctx context.Context, namespace string) error {
	var cursor uint64
	pattern := namespace + ":*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return wrapUnavailable(err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return wrapUnavailable(err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
