package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"ragstore/internal/domain"
)

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis is a Cache backed by a Redis server. Vectors are stored as packed
// little-endian float64 values.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis creates a Redis cache and verifies the connection with a PING.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{rdb: rdb, ttl: cfg.TTL}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (domain.Vector, bool, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := decodeVector(b)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, v domain.Vector) error {
	return r.rdb.Set(ctx, key, encodeVector(v), r.ttl).Err()
}

// Close releases the connection pool.
func (r *Redis) Close() error { return r.rdb.Close() }

func encodeVector(v domain.Vector) []byte {
	b := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(f))
	}
	return b
}

func decodeVector(b []byte) (domain.Vector, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("cached vector has %d bytes, not a multiple of 8", len(b))
	}
	v := make(domain.Vector, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v, nil
}
