package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces registry keys in a shared Redis.
const DefaultRedisPrefix = "popdeploy:registry"

// RedisConfig configures a RedisRegistry.
type RedisConfig struct {
	// URL is a redis:// URL.
	URL    string
	Prefix string
	// MaxRetries bounds optimistic-lock retries per write (default 10).
	MaxRetries int
}

// RedisRegistry stores the current record of each key as a JSON string and
// its history as a list, newest first. Writes use WATCH/MULTI so concurrent
// writers never lose an update.
type RedisRegistry struct {
	client     *redis.Client
	prefix     string
	maxRetries int
	now        func() time.Time
}

// NewRedisRegistry connects to Redis.
func NewRedisRegistry(ctx context.Context, cfg RedisConfig) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisRegistryFromClient(client, cfg.Prefix, cfg.MaxRetries), nil
}

// NewRedisRegistryFromClient wraps an existing client.
func NewRedisRegistryFromClient(client *redis.Client, prefix string, maxRetries int) *RedisRegistry {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return &RedisRegistry{
		client:     client,
		prefix:     prefix,
		maxRetries: maxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *RedisRegistry) currentKey(key string) string { return r.prefix + ":current:" + key }
func (r *RedisRegistry) historyKey(key string) string { return r.prefix + ":history:" + key }
func (r *RedisRegistry) indexKey() string             { return r.prefix + ":keys" }

func (r *RedisRegistry) Lookup(ctx context.Context, network, contractName string) (*Record, error) {
	key := Key(network, contractName)
	raw, err := r.client.Get(ctx, r.currentKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(network, contractName)
	}
	if err != nil {
		return nil, fmt.Errorf("Lookup: %w", err)
	}
	return decodeRecord(key, raw)
}

func (r *RedisRegistry) Record(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return r.update(ctx, rec.Network, rec.ContractName, func(e *Entry, now time.Time) (bool, *Record, error) {
		changed, superseded := e.apply(rec, now)
		return changed, superseded, nil
	})
}

func (r *RedisRegistry) MarkConfirmed(ctx context.Context, network, contractName string, blockNumber uint64) error {
	return r.update(ctx, network, contractName, func(e *Entry, now time.Time) (bool, *Record, error) {
		if e.Current == nil {
			return false, nil, notFound(network, contractName)
		}
		changed, err := e.confirm(blockNumber, now)
		return changed, nil, err
	})
}

func (r *RedisRegistry) MarkFailed(ctx context.Context, network, contractName, reason string) error {
	return r.update(ctx, network, contractName, func(e *Entry, now time.Time) (bool, *Record, error) {
		if e.Current == nil {
			return false, nil, notFound(network, contractName)
		}
		changed, err := e.fail(reason, now)
		return changed, nil, err
	})
}

type redisUpdateFunc func(e *Entry, now time.Time) (changed bool, superseded *Record, err error)

// update runs fn against the current record under WATCH and writes the result
// in a MULTI block, retrying when another writer got there first.
func (r *RedisRegistry) update(ctx context.Context, network, contractName string, fn redisUpdateFunc) error {
	key := Key(network, contractName)
	curKey := r.currentKey(key)

	txf := func(tx *redis.Tx) error {
		e := &Entry{}
		raw, err := tx.Get(ctx, curKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			cur, err := decodeRecord(key, raw)
			if err != nil {
				return err
			}
			e.Current = cur
		}

		changed, superseded, err := fn(e, r.now())
		if err != nil || !changed {
			return err
		}

		current, err := json.Marshal(e.Current)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		var previous []byte
		if superseded != nil {
			if previous, err = json.Marshal(superseded); err != nil {
				return fmt.Errorf("marshal record: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, curKey, current, 0)
			if previous != nil {
				pipe.LPush(ctx, r.historyKey(key), previous)
			}
			pipe.SAdd(ctx, r.indexKey(), key)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, curKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrConflict, key)
}

func (r *RedisRegistry) History(ctx context.Context, network, contractName string) ([]*Record, error) {
	if _, err := r.Lookup(ctx, network, contractName); err != nil {
		return nil, err
	}

	key := Key(network, contractName)
	items, err := r.client.LRange(ctx, r.historyKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}

	history := make([]*Record, 0, len(items))
	for _, item := range items {
		rec, err := decodeRecord(key, []byte(item))
		if err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	return history, nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]*Record, error) {
	keys, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	redisKeys := make([]string, len(keys))
	for i, key := range keys {
		redisKeys[i] = r.currentKey(key)
	}
	values, err := r.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}

	var (
		records []*Record
		errs    []error
	)
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord(keys[i], []byte(s))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	return records, errors.Join(errs...)
}

// Close closes the Redis connection.
func (r *RedisRegistry) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

var _ Registry = (*RedisRegistry)(nil)
