package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/risk-gate/internal/freshness"
	"github.com/ducminhle1904/risk-gate/internal/killswitch"
	"github.com/ducminhle1904/risk-gate/internal/orderid"
	"github.com/ducminhle1904/risk-gate/pkg/types"
)

func setup(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Setenv("RISKGATE_REDIS_ADDR", mr.Addr())
	return mr
}

func riskctl(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	args = append([]string{"-env", filepath.Join(t.TempDir(), "none.env")}, args...)
	err := run(args, strings.NewReader(stdin), &out)
	return out.String(), err
}

func TestKillSwitchLifecycle(t *testing.T) {
	setup(t)

	out, err := riskctl(t, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "kill switch record created: true")

	_, err = riskctl(t, "", "engage", "-operator", "alice")
	require.Error(t, err, "engaging needs a reason")

	_, err = riskctl(t, "", "engage", "-reason", "exchange outage", "-operator", "alice")
	require.NoError(t, err)

	out, err = riskctl(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "exchange outage")
	assert.Contains(t, out, "alice")

	_, err = riskctl(t, "resume trading\n", "disengage", "-operator", "bob")
	require.Error(t, err, "phrase is case sensitive")

	out, err = riskctl(t, killswitch.ResumePhrase+"\n", "disengage", "-operator", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "trading resumed")
}

func TestBreakerTripAndReset(t *testing.T) {
	setup(t)

	_, err := riskctl(t, "", "trip", "-reason", "drawdown")
	require.NoError(t, err)

	out, err := riskctl(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "OPEN")

	_, err = riskctl(t, killswitch.ResumePhrase+"\n", "reset")
	require.Error(t, err, "the kill switch phrase does not reset the breaker")

	out, err = riskctl(t, "RESET BREAKER\n", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "CLOSED")
}

func TestStatus_MissingRecordsShownAsHalted(t *testing.T) {
	setup(t)

	out, err := riskctl(t, "", "status")

	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "UNREADABLE"))
}

func TestReservations(t *testing.T) {
	mr := setup(t)
	mr.Set("riskgate:resv:{BTCUSDT}:long", "7")
	mr.Set("riskgate:resv:{BTCUSDT}:confirmed", "3")

	out, err := riskctl(t, "", "reservations")

	require.NoError(t, err)
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "10")

	out, err = riskctl(t, "", "reclaim", "btcusdt")
	require.NoError(t, err)
	assert.Contains(t, out, "BTCUSDT: reclaimed 0")
}

func TestOrderID(t *testing.T) {
	out, err := riskctl(t, "", "orderid", "-symbol", "BTCUSDT", "-side", "buy", "-qty", "0.5",
		"-type", "limit", "-tif", "gtc", "-limit", "61000", "-strategy", "dca-1", "-date", "2024-03-01")
	require.NoError(t, err)

	want, err := orderid.GenerateFor(types.OrderCandidate{
		Symbol:      "BTCUSDT",
		Side:        types.OrderSideBuy,
		Quantity:    decimal.RequireFromString("0.5"),
		Type:        types.OrderTypeLimit,
		TimeInForce: types.TimeInForceGTC,
		LimitPrice:  decimal.NewNullDecimal(decimal.NewFromInt(61000)),
		StrategyID:  "dca-1",
	}, "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, string(want)+"\n", out)

	_, err = riskctl(t, "", "orderid", "-symbol", "BTCUSDT", "-qty", "1", "-type", "limit", "-strategy", "s")
	assert.Error(t, err, "limit order without a limit price")
}

func TestFreshness(t *testing.T) {
	now := time.Now().UTC()
	var csv strings.Builder
	csv.WriteString("symbol,timestamp,price\n")
	for i := 0; i < 9; i++ {
		fmt.Fprintf(&csv, "SYM%d,%s,1\n", i, now.Add(-time.Minute).Format(time.RFC3339))
	}
	fmt.Fprintf(&csv, "SYM9,%s,1\n", now.Add(-time.Hour).Format(time.RFC3339))
	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte(csv.String()), 0o600))

	out, err := riskctl(t, "", "freshness", "-mode", "per_symbol", "-threshold", "10m", "-min-fresh", "0.9", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Stale SYM9")

	_, err = riskctl(t, "", "freshness", "-mode", "per_symbol", "-threshold", "10m", "-min-fresh", "0.95", path)
	assert.ErrorIs(t, err, freshness.ErrStaleData)
}

func TestUsage(t *testing.T) {
	out, err := riskctl(t, "")
	require.Error(t, err)
	assert.Contains(t, out, "usage: riskctl")

	_, err = riskctl(t, "", "explode")
	assert.Error(t, err)
}
