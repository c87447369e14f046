package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key this service writes.
const DefaultRedisPrefix = "jobmate:ingestion:"

var _ Store = (*Redis)(nil)

// Redis is a Store on top of a go-redis client. Expiry is reported through
// keyspace notifications, see Watch.
type Redis struct {
	rdb    *redis.Client
	prefix string

	mu      sync.RWMutex
	onEvict func(string)
}

// NewRedis wraps rdb. An empty prefix selects DefaultRedisPrefix.
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	if err := r.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *Redis) OnEvict(fn func(key string)) {
	r.mu.Lock()
	r.onEvict = fn
	r.mu.Unlock()
}

// EnableExpiryEvents turns on expired-key notifications. Managed Redis
// offerings often forbid CONFIG SET; callers should log and carry on.
func (r *Redis) EnableExpiryEvents(ctx context.Context) error {
	if err := r.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		return fmt.Errorf("enable keyspace events: %w", err)
	}
	return nil
}

// Keys lists the live keys under the prefix, with the prefix stripped.
func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	var out []string
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		if key, ok := strings.CutPrefix(iter.Val(), r.prefix); ok {
			out = append(out, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s*: %w", r.prefix, err)
	}
	return out, nil
}

// Watch subscribes to expired-key events for the client's database and
// forwards keys under this store's prefix to the OnEvict function. It
// blocks until ctx is cancelled.
func (r *Redis) Watch(ctx context.Context) error {
	channel := fmt.Sprintf("__keyevent@%d__:expired", r.rdb.Options().DB)
	sub := r.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	slog.Info("cache expiry watch started", "channel", channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			key, ours := strings.CutPrefix(msg.Payload, r.prefix)
			if !ours {
				continue
			}
			r.mu.RLock()
			fn := r.onEvict
			r.mu.RUnlock()
			if fn != nil {
				fn(key)
			}
		}
	}
}
