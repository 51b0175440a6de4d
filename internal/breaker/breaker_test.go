package breaker

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/risk-gate/internal/audit"
	"github.com/ducminhle1904/risk-gate/internal/confirm"
	gateerrors "github.com/ducminhle1904/risk-gate/internal/errors"
	"github.com/ducminhle1904/risk-gate/internal/logger"
	"github.com/ducminhle1904/risk-gate/internal/state"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memorySink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (m *memorySink) Append(_ context.Context, rec audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

type fixture struct {
	breaker *Breaker
	mr      *miniredis.Miniredis
	clock   *fakeClock
	hook    *test.Hook
	sink    *memorySink
	store   state.Store
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log, hook := test.NewNullLogger()
	sink := &memorySink{}
	clock := &fakeClock{now: time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)}
	store := state.NewRedisStore(client)
	b := New(store, config, audit.Reporter{Log: log, Sink: sink}, clock.Now)
	return &fixture{breaker: b, mr: mr, clock: clock, hook: hook, sink: sink, store: store}
}

func (f *fixture) init(t *testing.T) {
	t.Helper()
	created, err := f.breaker.Initialize(context.Background())
	require.NoError(t, err)
	require.True(t, created)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(9).String())

	parsed, err := ParseState("half_open")
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, parsed)

	_, err = ParseState("ajar")
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	f := newFixture(t, Config{})
	cfg := f.breaker.Config()

	assert.Equal(t, 3.0, cfg.LossThresholdPct)
	assert.Equal(t, 0.05, cfg.VolatilityThreshold)
	assert.Equal(t, 5*time.Minute, cfg.CoolDown)
	assert.Equal(t, 3, cfg.HealthyEvaluations)
	assert.Equal(t, DefaultKey, cfg.Key)
}

func TestGetState_MissingRecordFailsClosed(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.breaker.GetState(ctx)
	assert.True(t, stderrors.Is(err, gateerrors.ErrStateUnavailable))

	f.init(t)
	st, err := f.breaker.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, st)

	f.mr.Del(DefaultKey)
	st, err = f.breaker.GetState(ctx)
	assert.True(t, stderrors.Is(err, gateerrors.ErrStateUnavailable))
	assert.NotEqual(t, StateClosed, st)
}

func TestTrip_ManualStaysOpenUntilReset(t *testing.T) {
	f := newFixture(t, Config{CoolDown: time.Minute})
	f.init(t)
	ctx := context.Background()

	require.NoError(t, f.breaker.Trip(ctx, "exchange incident", "alice"))

	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, logger.SeverityCritical, entry.Data[logger.SeverityField])
	assert.Equal(t, "alice", entry.Data["operator"])

	f.clock.Advance(time.Hour)
	st, err := f.breaker.Evaluate(ctx, Observation{})
	require.NoError(t, err)
	assert.Equal(t, StateOpen, st)

	err = f.breaker.Reset(ctx, confirm.Token{}, "alice")
	assert.True(t, stderrors.Is(err, gateerrors.ErrConfirmation))

	token, err := Confirm("RESET BREAKER")
	require.NoError(t, err)
	require.NoError(t, f.breaker.Reset(ctx, token, "bob"))

	rec, err := f.breaker.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, rec.State)
	assert.Equal(t, "bob", rec.Operator)
	assert.False(t, rec.Manual)

	require.Len(t, f.sink.records, 2)
	assert.Equal(t, "trip", f.sink.records[0].Action)
	assert.Equal(t, "reset", f.sink.records[1].Action)
}

func TestReset_RejectsKillSwitchToken(t *testing.T) {
	f := newFixture(t, Config{})
	f.init(t)
	ctx := context.Background()
	require.NoError(t, f.breaker.Trip(ctx, "halt", "alice"))

	token, err := confirm.Check("kill_switch.disengage", "RESUME TRADING", "RESUME TRADING")
	require.NoError(t, err)

	err = f.breaker.Reset(ctx, token, "alice")
	assert.True(t, stderrors.Is(err, gateerrors.ErrConfirmation))
}

func TestEvaluate_Lifecycle(t *testing.T) {
	f := newFixture(t, Config{CoolDown: time.Minute, HealthyEvaluations: 2})
	f.init(t)
	ctx := context.Background()

	st, err := f.breaker.Evaluate(ctx, Observation{LossPct: 1.0, Volatility: 0.01})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, st)
	assert.Empty(t, f.sink.records)

	st, err = f.breaker.Evaluate(ctx, Observation{LossPct: 3.5})
	require.NoError(t, err)
	assert.Equal(t, StateOpen, st)

	// still cooling down
	f.clock.Advance(30 * time.Second)
	st, err = f.breaker.Evaluate(ctx, Observation{})
	require.NoError(t, err)
	assert.Equal(t, StateOpen, st)

	// probation, and the healthy sample counts
	f.clock.Advance(31 * time.Second)
	st, err = f.breaker.Evaluate(ctx, Observation{})
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, st)

	rec, err := f.breaker.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.HealthyStreak)

	st, err = f.breaker.Evaluate(ctx, Observation{})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, st)

	actions := make([]string, 0, len(f.sink.records))
	for _, r := range f.sink.records {
		actions = append(actions, r.Action)
	}
	assert.Equal(t, []string{"trip", "probation", "recover"}, actions)
}

func TestEvaluate_BreachDuringProbationReopens(t *testing.T) {
	f := newFixture(t, Config{CoolDown: time.Minute, HealthyEvaluations: 3})
	f.init(t)
	ctx := context.Background()

	_, err := f.breaker.Evaluate(ctx, Observation{Volatility: 0.2})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	st, err := f.breaker.Evaluate(ctx, Observation{})
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, st)

	st, err = f.breaker.Evaluate(ctx, Observation{LossPct: 10})
	require.NoError(t, err)
	assert.Equal(t, StateOpen, st)

	rec, err := f.breaker.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), rec.TrippedAt)
	assert.Equal(t, 0, rec.HealthyStreak)
}

func TestEvaluate_MissingRecordFailsClosed(t *testing.T) {
	f := newFixture(t, Config{})

	st, err := f.breaker.Evaluate(context.Background(), Observation{})
	assert.True(t, stderrors.Is(err, gateerrors.ErrStateUnavailable))
	assert.Equal(t, StateOpen, st)
}

func TestEvaluate_ConcurrentEvaluatorsTripOnce(t *testing.T) {
	f := newFixture(t, Config{})
	f.init(t)
	ctx := context.Background()

	// a second instance sharing the same store
	other := New(f.store, Config{}, audit.Reporter{Sink: f.sink}, f.clock.Now)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(b *Breaker) {
			defer wg.Done()
			_, _ = b.Evaluate(ctx, Observation{LossPct: 5})
		}([]*Breaker{f.breaker, other}[i%2])
	}
	wg.Wait()

	st, err := f.breaker.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, st)

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	assert.Len(t, f.sink.records, 1)
}
