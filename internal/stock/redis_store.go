package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis key layout:
//   <prefix>locations          SET  of known location refs
//   <prefix>pool               HASH product -> qty (unallocated pool)
//   <prefix>loc:<location>     HASH product -> qty
const (
	keyLocations = "locations"
	keyPool      = "pool"
	keyLocation  = "loc:"
)

// reserveScript decrements availability by min(have, want) in one step.
// Returns -2 for an unknown location and -1 for an unknown product.
var reserveScript = redis.NewScript(`
if ARGV[3] ~= "" and redis.call('SISMEMBER', KEYS[2], ARGV[3]) == 0 then
  return -2
end
local have = redis.call('HGET', KEYS[1], ARGV[1])
if not have then
  return -1
end
have = tonumber(have)
local want = tonumber(ARGV[2])
local n = want
if have < want then
  n = have
end
if n > 0 then
  redis.call('HINCRBY', KEYS[1], ARGV[1], -n)
end
return n
`)

// RedisStore keeps stock levels in Redis hashes so several reservation
// processes can share one stock view.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store using keys under prefix (e.g. "depot:stock:").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisStoreFromURL parses a redis:// URL, pings the server and returns a store.
func NewRedisStoreFromURL(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStore(client, prefix), nil
}

func (s *RedisStore) hashKey(locationRef string) string {
	if locationRef == PoolLocation {
		return s.prefix + keyPool
	}
	return s.prefix + keyLocation + locationRef
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Available(ctx context.Context, productRef, locationRef string) (int, error) {
	if locationRef != PoolLocation {
		known, err := s.client.SIsMember(ctx, s.prefix+keyLocations, locationRef).Result()
		if err != nil {
			return 0, fmt.Errorf("stock lookup failed: %w", err)
		}
		if !known {
			return 0, fmt.Errorf("%w: %q", ErrUnknownLocation, locationRef)
		}
	}

	raw, err := s.client.HGet(ctx, s.hashKey(locationRef), productRef).Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownProduct, productRef)
	}
	if err != nil {
		return 0, fmt.Errorf("stock lookup failed: %w", err)
	}
	qty, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("stock level for %q is not a number: %w", productRef, err)
	}
	return qty, nil
}

func (s *RedisStore) Reserve(ctx context.Context, productRef, locationRef string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}

	keys := []string{s.hashKey(locationRef), s.prefix + keyLocations}
	n, err := reserveScript.Run(ctx, s.client, keys, productRef, qty, locationRef).Int()
	if err != nil {
		return 0, fmt.Errorf("stock reserve failed: %w", err)
	}

	switch n {
	case -2:
		return 0, fmt.Errorf("%w: %q", ErrUnknownLocation, locationRef)
	case -1:
		return 0, fmt.Errorf("%w: %q", ErrUnknownProduct, productRef)
	}
	return n, nil
}

func (s *RedisStore) Put(ctx context.Context, productRef, locationRef string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if locationRef != PoolLocation {
			pipe.SAdd(ctx, s.prefix+keyLocations, locationRef)
		}
		pipe.HIncrBy(ctx, s.hashKey(locationRef), productRef, int64(qty))
		return nil
	})
	if err != nil {
		return fmt.Errorf("stock put failed: %w", err)
	}
	return nil
}

// AddLocation registers a location with no stock.
func (s *RedisStore) AddLocation(ctx context.Context, locationRef string) error {
	if locationRef == PoolLocation {
		return nil
	}
	return s.client.SAdd(ctx, s.prefix+keyLocations, locationRef).Err()
}
