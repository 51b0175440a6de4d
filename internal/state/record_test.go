package state

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateerrors "github.com/ducminhle1904/risk-gate/internal/errors"
)

type flag struct {
	On     bool   `json:"on"`
	Reason string `json:"reason"`
}

func newTestStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisStore(client)
}

func TestRecord_LoadMissingIsStateUnavailable(t *testing.T) {
	_, store := newTestStore(t)
	rec := NewRecord[flag](store, "gate:flag", "test")

	_, _, err := rec.Load(context.Background())

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, gateerrors.ErrStateUnavailable))
	assert.True(t, stderrors.Is(err, ErrRecordMissing))
}

func TestRecord_InitializeOnlyOnce(t *testing.T) {
	_, store := newTestStore(t)
	rec := NewRecord[flag](store, "gate:flag", "test")
	ctx := context.Background()

	created, err := rec.Initialize(ctx, flag{On: false, Reason: "first"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = rec.Initialize(ctx, flag{On: true, Reason: "second"})
	require.NoError(t, err)
	assert.False(t, created)

	value, version, err := rec.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", value.Reason)
	assert.Equal(t, int64(1), version)
}

func TestRecord_UpdateBumpsVersion(t *testing.T) {
	_, store := newTestStore(t)
	rec := NewRecord[flag](store, "gate:flag", "test")
	ctx := context.Background()
	_, err := rec.Initialize(ctx, flag{})
	require.NoError(t, err)

	next, err := rec.Update(ctx, func(cur flag) (flag, bool, error) {
		cur.On = true
		return cur, true, nil
	})
	require.NoError(t, err)
	assert.True(t, next.On)

	_, version, err := rec.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	// No change, no write.
	_, err = rec.Update(ctx, func(cur flag) (flag, bool, error) { return cur, false, nil })
	require.NoError(t, err)
	_, version, err = rec.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestRecord_UpdateOnMissingRecordFails(t *testing.T) {
	_, store := newTestStore(t)
	rec := NewRecord[flag](store, "gate:flag", "test")

	_, err := rec.Update(context.Background(), func(cur flag) (flag, bool, error) {
		return cur, true, nil
	})
	assert.True(t, stderrors.Is(err, gateerrors.ErrStateUnavailable))
}

func TestRecord_ConcurrentUpdatesAreNotLost(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()
	counter := NewRecord[map[string]int](store, "gate:counter", "test")
	_, err := counter.Initialize(ctx, map[string]int{"n": 0})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := counter.Update(ctx, func(cur map[string]int) (map[string]int, bool, error) {
				cur["n"]++
				return cur, true, nil
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	value, _, err := counter.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, succeeded, value["n"])
}

func TestRedisStore_CompareAndSwapConflict(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CompareAndSwap(ctx, "gate:none", []byte(`{}`), 1)
	assert.ErrorIs(t, err, ErrRecordMissing)

	_, err = store.Create(ctx, "gate:x", []byte(`{}`))
	require.NoError(t, err)

	_, err = store.CompareAndSwap(ctx, "gate:x", []byte(`{"on":true}`), 7)
	assert.ErrorIs(t, err, ErrVersionConflict)

	version, err := store.CompareAndSwap(ctx, "gate:x", []byte(`{"on":true}`), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestRecord_StoreDownIsStateUnavailable(t *testing.T) {
	mr, store := newTestStore(t)
	rec := NewRecord[flag](store, "gate:flag", "test")
	mr.Close()

	_, _, err := rec.Load(context.Background())
	require.Error(t, err)
	assert.True(t, gateerrors.CategoryOf(err) == gateerrors.ErrorCategoryStateUnavailable ||
		gateerrors.CategoryOf(err) == gateerrors.ErrorCategoryTimeout)
}

func TestRecord_UpsertCreatesMissingRecord(t *testing.T) {
	_, store := newTestStore(t)
	rec := NewRecord[flag](store, "gate:flag", "test")
	ctx := context.Background()

	var sawExisting []bool
	upsert := func(reason string) {
		_, err := rec.Upsert(ctx, func(cur flag, exists bool) (flag, bool, error) {
			sawExisting = append(sawExisting, exists)
			return flag{On: true, Reason: reason}, true, nil
		})
		require.NoError(t, err)
	}

	upsert("first")
	upsert("second")

	value, version, err := rec.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, flag{On: true, Reason: "second"}, value)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, []bool{false, true}, sawExisting)
}
