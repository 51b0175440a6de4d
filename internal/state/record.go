package state

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	gateerrors "github.com/ducminhle1904/risk-gate/internal/errors"
)

var (
	// ErrRecordMissing is returned by a Store when the key has never been initialized.
	ErrRecordMissing = stderrors.New("state record missing")
	// ErrVersionConflict is returned by CompareAndSwap when another writer won.
	ErrVersionConflict = stderrors.New("state record version conflict")
)

const maxUpdateAttempts = 5

// Store is the versioned key-value surface shared by the kill switch and the
// circuit breaker. A read never creates a record.
type Store interface {
	Load(ctx context.Context, key string) (data []byte, version int64, err error)
	Create(ctx context.Context, key string, data []byte) (bool, error)
	Save(ctx context.Context, key string, data []byte) (int64, error)
	CompareAndSwap(ctx context.Context, key string, data []byte, expected int64) (int64, error)
}

var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'version', 1)
return 1
`)

	saveScript = redis.NewScript(`
local v = redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'data', ARGV[1])
return v
`)

	casScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -2
end
local current = tonumber(redis.call('HGET', KEYS[1], 'version') or '0')
if current ~= tonumber(ARGV[2]) then
  return -1
end
local v = redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'data', ARGV[1])
return v
`)
)

// RedisStore keeps each record as a hash with "data" and "version" fields.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Store backed by Redis.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, int64, error) {
	values, err := s.client.HMGet(ctx, key, "data", "version").Result()
	if err != nil {
		return nil, 0, err
	}
	if len(values) != 2 || values[0] == nil {
		return nil, 0, ErrRecordMissing
	}

	data, ok := values[0].(string)
	if !ok {
		return nil, 0, fmt.Errorf("unexpected data type %T for %s", values[0], key)
	}

	var version int64
	if raw, ok := values[1].(string); ok {
		version, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("corrupt version for %s: %w", key, err)
		}
	}
	return []byte(data), version, nil
}

func (s *RedisStore) Create(ctx context.Context, key string, data []byte) (bool, error) {
	created, err := createScript.Run(ctx, s.client, []string{key}, string(data)).Int64()
	if err != nil {
		return false, err
	}
	return created == 1, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, data []byte) (int64, error) {
	return saveScript.Run(ctx, s.client, []string{key}, string(data)).Int64()
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, data []byte, expected int64) (int64, error) {
	version, err := casScript.Run(ctx, s.client, []string{key}, string(data), expected).Int64()
	if err != nil {
		return 0, err
	}
	switch version {
	case -2:
		return 0, ErrRecordMissing
	case -1:
		return 0, ErrVersionConflict
	}
	return version, nil
}

// Record is a typed, fail-closed view over one versioned key. A missing key
// surfaces as a state-unavailable error, never as the zero value of T.
type Record[T any] struct {
	store     Store
	key       string
	component string
}

// NewRecord binds a typed record to a key.
func NewRecord[T any](store Store, key, component string) *Record[T] {
	return &Record[T]{store: store, key: key, component: component}
}

// Key returns the store key of the record.
func (r *Record[T]) Key() string {
	return r.key
}

// Load reads and decodes the record.
func (r *Record[T]) Load(ctx context.Context) (T, int64, error) {
	var value T

	data, version, err := r.store.Load(ctx, r.key)
	if err != nil {
		return value, 0, r.classify(err, "Load")
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, 0, gateerrors.NewStateUnavailable(r.component, "Load", fmt.Errorf("decode %s: %w", r.key, err))
	}
	return value, version, nil
}

// Initialize writes initial only if the record does not exist yet.
func (r *Record[T]) Initialize(ctx context.Context, initial T) (bool, error) {
	data, err := json.Marshal(initial)
	if err != nil {
		return false, gateerrors.Wrap(err, gateerrors.ErrorCategoryValidation, r.component, "Initialize")
	}
	created, err := r.store.Create(ctx, r.key, data)
	if err != nil {
		return false, r.classify(err, "Initialize")
	}
	return created, nil
}

// Update applies fn to the current value and writes the result with
// compare-and-swap, retrying when a concurrent writer got there first. When fn
// reports no change nothing is written. A missing record is an error.
func (r *Record[T]) Update(ctx context.Context, fn func(current T) (next T, changed bool, err error)) (T, error) {
	return r.mutate(ctx, "Update", false, func(current T, _ bool) (T, bool, error) {
		return fn(current)
	})
}

// Upsert is Update for writers that must succeed on a record that was never
// initialized. fn sees the zero value and exists=false in that case.
func (r *Record[T]) Upsert(ctx context.Context, fn func(current T, exists bool) (next T, changed bool, err error)) (T, error) {
	return r.mutate(ctx, "Upsert", true, fn)
}

func (r *Record[T]) mutate(ctx context.Context, operation string, create bool, fn func(T, bool) (T, bool, error)) (T, error) {
	var zero T

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, version, err := r.Load(ctx)
		exists := true
		if err != nil {
			if !create || !stderrors.Is(err, ErrRecordMissing) {
				return zero, err
			}
			current, exists = zero, false
		}

		next, changed, err := fn(current, exists)
		if err != nil {
			return zero, err
		}
		if !changed {
			return current, nil
		}

		data, err := json.Marshal(next)
		if err != nil {
			return zero, gateerrors.Wrap(err, gateerrors.ErrorCategoryValidation, r.component, operation)
		}

		if !exists {
			created, err := r.store.Create(ctx, r.key, data)
			if err != nil {
				return zero, r.classify(err, operation)
			}
			if created {
				return next, nil
			}
			continue
		}

		_, err = r.store.CompareAndSwap(ctx, r.key, data, version)
		if stderrors.Is(err, ErrVersionConflict) || (create && stderrors.Is(err, ErrRecordMissing)) {
			continue
		}
		if err != nil {
			return zero, r.classify(err, operation)
		}
		return next, nil
	}

	return zero, gateerrors.NewStateUnavailable(r.component, operation,
		fmt.Errorf("%s: %w after %d attempts", r.key, ErrVersionConflict, maxUpdateAttempts))
}

func (r *Record[T]) classify(err error, operation string) error {
	if stderrors.Is(err, ErrRecordMissing) {
		return gateerrors.NewStateUnavailable(r.component, operation, fmt.Errorf("%s: %w", r.key, err))
	}
	return gateerrors.Classify(err, r.component, operation)
}
