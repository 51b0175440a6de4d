package positions

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/risk-gate/internal/exchange/bybit"
	"github.com/ducminhle1904/risk-gate/internal/safety"
)

type stubSource struct {
	positions []bybit.Position
	err       error
	calls     int
}

func (s *stubSource) GetPositions(context.Context, string) ([]bybit.Position, error) {
	s.calls++
	return s.positions, s.err
}

type mapTarget struct {
	mu        sync.Mutex
	confirmed map[string]int64
}

func (m *mapTarget) SetConfirmed(_ context.Context, symbol string, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmed == nil {
		m.confirmed = make(map[string]int64)
	}
	m.confirmed[symbol] = qty
	return nil
}

func TestSyncOnce_NetsSidesAndZeroesFlatSymbols(t *testing.T) {
	source := &stubSource{positions: []bybit.Position{
		{Symbol: "BTCUSDT", Side: "Buy", Size: decimal.RequireFromString("0.250")},
		{Symbol: "BTCUSDT", Side: "Sell", Size: decimal.RequireFromString("0.100")},
		{Symbol: "ETHUSDT", Side: "Sell", Size: decimal.RequireFromString("1.5")},
	}}
	target := &mapTarget{}
	s := NewSyncer(source, target, Options{Symbols: []string{"solusdt"}, Precision: 3})

	written, err := s.SyncOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, written)
	assert.Equal(t, map[string]int64{"BTCUSDT": 150, "ETHUSDT": -1500, "SOLUSDT": 0}, target.confirmed)
	assert.NoError(t, s.Healthy(context.Background()))
}

func TestSyncOnce_SkipsUnrepresentablePositions(t *testing.T) {
	source := &stubSource{positions: []bybit.Position{
		{Symbol: "BTCUSDT", Side: "Buy", Size: decimal.RequireFromString("0.0005")},
		{Symbol: "ETHUSDT", Side: "Buy", Size: decimal.NewFromInt(2)},
	}}
	target := &mapTarget{}
	log, hook := test.NewNullLogger()
	s := NewSyncer(source, target, Options{Precision: 3, Log: log})

	written, err := s.SyncOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.Equal(t, map[string]int64{"ETHUSDT": 2000}, target.confirmed)
	assert.Equal(t, "BTCUSDT", hook.LastEntry().Data["symbol"])
}

func TestSyncOnce_BreakerStopsCallingFailingExchange(t *testing.T) {
	source := &stubSource{err: stderrors.New("connection reset")}
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := NewSyncer(source, &mapTarget{}, Options{
		Breaker: safety.CallBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute},
		Clock:   func() time.Time { return now },
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.SyncOnce(ctx)
		require.Error(t, err)
	}
	assert.Equal(t, 2, source.calls)
	assert.Equal(t, safety.CircuitOpen, s.BreakerStats().State)

	_, err := s.SyncOnce(ctx)
	require.ErrorIs(t, err, safety.ErrCircuitOpen)
	assert.Equal(t, 2, source.calls)
	assert.Error(t, s.Healthy(ctx))
}

func TestHealthy_BeforeFirstSync(t *testing.T) {
	s := NewSyncer(&stubSource{}, &mapTarget{}, Options{})
	assert.Error(t, s.Healthy(context.Background()))
}

func TestLedger_AccumulatesCommittedDeltas(t *testing.T) {
	log, hook := test.NewNullLogger()
	l := NewLedger(log)
	ctx := context.Background()

	require.NoError(t, l.ApplyCommitted(ctx, "BTCUSDT", 5))
	require.NoError(t, l.ApplyCommitted(ctx, "BTCUSDT", -2))
	require.NoError(t, l.ApplyCommitted(ctx, "ETHUSDT", 7))

	assert.Equal(t, map[string]int64{"BTCUSDT": 3, "ETHUSDT": 7}, l.Totals())
	assert.EqualValues(t, 3, hook.Entries[1].Data["committed_total"])
}
