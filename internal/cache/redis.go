package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps a go-redis client to satisfy the Cache interface, giving
// several relay instances a shared view of channel and filter state.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an already-configured *redis.Client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *Redis) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) Delete(ctx context.Context, key string) (bool, error) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Incr returns false when the key does not yet exist, leaving the
// create-with-1 behaviour to the caller.
func (r *Redis) Incr(ctx context.Context, key string) (int64, bool, error) {
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	if exists == 0 {
		return 0, false, nil
	}
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (r *Redis) Gets(ctx context.Context, key string) ([]byte, string, bool, error) {
	var val []byte
	var found bool

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		v, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		val = v
		found = true
		return nil
	}, key)
	if err != nil {
		return nil, "", false, err
	}
	if !found {
		return nil, "", false, nil
	}
	// go-redis has no exposed CAS token; the value itself, read inside a
	// WATCH transaction, stands in as the comparand for CAS below.
	return val, string(val), true, nil
}

// CAS re-reads key inside a WATCH/MULTI transaction and only commits the
// write if the value observed still matches token, mirroring the
// gets/cas contract the original blacklist set reconciliation relies on.
func (r *Redis) CAS(ctx context.Context, key string, value []byte, token string, ttl time.Duration) error {
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if string(cur) != token {
			return ErrCASConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, ttl)
			return nil
		})
		return err
	}, key)
	return err
}
