package cache

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type redis struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedis returns a Redis-backed cache client.
func NewRedis(cfg Config) (Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &redis{rdb: rdb, prefix: cfg.Prefix}, nil
}

func (r *redis) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (r *redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *redis) Delete(ctx context.Context, key string) error {
	err := r.rdb.Del(ctx, r.prefix+key).Err()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	return err
}

func (r *redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }
func (r *redis) Close() error                   { return r.rdb.Close() }
