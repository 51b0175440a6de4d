package killswitch

import (
	"context"
	stderrors "errors"
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

type memorySink struct{ records []audit.Record }

func (m *memorySink) Append(_ context.Context, rec audit.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func newSwitch(t *testing.T) (*Switch, *miniredis.Miniredis, *test.Hook, *memorySink) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log, hook := test.NewNullLogger()
	sink := &memorySink{}
	clock := func() time.Time { return time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC) }
	ks := New(state.NewRedisStore(client), Options{
		Reporter: audit.Reporter{Log: log, Sink: sink},
		Clock:    clock,
	})
	return ks, mr, hook, sink
}

func TestIsEngaged_MissingRecordFailsClosed(t *testing.T) {
	ks, _, _, _ := newSwitch(t)

	engaged, err := ks.IsEngaged(context.Background())

	require.Error(t, err)
	assert.True(t, engaged)
	assert.True(t, stderrors.Is(err, gateerrors.ErrStateUnavailable))
}

func TestIsEngaged_DeletedRecordFailsClosed(t *testing.T) {
	ks, mr, _, _ := newSwitch(t)
	ctx := context.Background()

	created, err := ks.Initialize(ctx)
	require.NoError(t, err)
	require.True(t, created)

	engaged, err := ks.IsEngaged(ctx)
	require.NoError(t, err)
	assert.False(t, engaged)

	mr.Del(DefaultKey)

	_, err = ks.IsEngaged(ctx)
	assert.True(t, stderrors.Is(err, gateerrors.ErrStateUnavailable))
}

func TestIsEngaged_StoreDownFailsClosed(t *testing.T) {
	ks, mr, _, _ := newSwitch(t)
	ctx := context.Background()
	_, err := ks.Initialize(ctx)
	require.NoError(t, err)

	mr.Close()

	engaged, err := ks.IsEngaged(ctx)
	require.Error(t, err)
	assert.True(t, engaged)
	assert.True(t, gateerrors.CategoryOf(err) == gateerrors.ErrorCategoryStateUnavailable ||
		gateerrors.CategoryOf(err) == gateerrors.ErrorCategoryTimeout)
}

func TestInitialize_DoesNotOverwrite(t *testing.T) {
	ks, _, _, _ := newSwitch(t)
	ctx := context.Background()

	require.NoError(t, ks.Engage(ctx, "bad fills", "alice"))

	created, err := ks.Initialize(ctx)
	require.NoError(t, err)
	assert.False(t, created)

	engaged, err := ks.IsEngaged(ctx)
	require.NoError(t, err)
	assert.True(t, engaged)
}

func TestEngage_LogsCriticalAndAudits(t *testing.T) {
	ks, _, hook, sink := newSwitch(t)
	ctx := context.Background()
	_, err := ks.Initialize(ctx)
	require.NoError(t, err)

	require.NoError(t, ks.Engage(ctx, "runaway strategy", "alice"))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, logger.SeverityCritical, entry.Data[logger.SeverityField])
	assert.Equal(t, "alice", entry.Data["operator"])
	assert.Equal(t, "runaway strategy", entry.Data["reason"])

	require.Len(t, sink.records, 1)
	assert.Equal(t, audit.KindKillSwitch, sink.records[0].Kind)
	assert.Equal(t, "engage", sink.records[0].Action)

	st, err := ks.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Engaged)
	assert.Equal(t, "alice", st.Operator)
}

func TestEngage_IsIdempotent(t *testing.T) {
	ks, _, _, sink := newSwitch(t)
	ctx := context.Background()
	_, err := ks.Initialize(ctx)
	require.NoError(t, err)

	require.NoError(t, ks.Engage(ctx, "first", "alice"))
	first, err := ks.Status(ctx)
	require.NoError(t, err)

	require.NoError(t, ks.Engage(ctx, "second", "bob"))
	second, err := ks.Status(ctx)
	require.NoError(t, err)

	assert.True(t, second.Engaged)
	assert.Equal(t, "second", second.Reason)
	assert.Equal(t, "bob", second.Operator)
	assert.Equal(t, first.EngagedAt, second.EngagedAt)
	require.Len(t, sink.records, 2)
	assert.Equal(t, "re-engage", sink.records[1].Action)
}

func TestEngage_CreatesMissingRecord(t *testing.T) {
	ks, _, _, _ := newSwitch(t)
	ctx := context.Background()

	require.NoError(t, ks.Engage(ctx, "store was wiped", "alice"))

	engaged, err := ks.IsEngaged(ctx)
	require.NoError(t, err)
	assert.True(t, engaged)
}

func TestEngage_RequiresReasonAndOperator(t *testing.T) {
	ks, _, _, _ := newSwitch(t)

	err := ks.Engage(context.Background(), "", "alice")
	assert.True(t, stderrors.Is(err, gateerrors.ErrValidation))

	err = ks.Engage(context.Background(), "reason", "  ")
	assert.True(t, stderrors.Is(err, gateerrors.ErrValidation))
}

func TestDisengage(t *testing.T) {
	ctx := context.Background()

	t.Run("zero token is rejected", func(t *testing.T) {
		ks, _, _, _ := newSwitch(t)
		require.NoError(t, ks.Engage(ctx, "halt", "alice"))

		err := ks.Disengage(ctx, confirm.Token{}, "alice")
		assert.True(t, stderrors.Is(err, gateerrors.ErrConfirmation))

		engaged, err := ks.IsEngaged(ctx)
		require.NoError(t, err)
		assert.True(t, engaged)
	})

	t.Run("token for another action is rejected", func(t *testing.T) {
		ks, _, _, _ := newSwitch(t)
		require.NoError(t, ks.Engage(ctx, "halt", "alice"))

		token, err := confirm.Check("breaker.reset", "RESET BREAKER", "RESET BREAKER")
		require.NoError(t, err)

		err = ks.Disengage(ctx, token, "alice")
		assert.True(t, stderrors.Is(err, gateerrors.ErrConfirmation))
	})

	t.Run("wrong phrase mints nothing", func(t *testing.T) {
		_, err := Confirm("resume trading")
		assert.True(t, stderrors.Is(err, gateerrors.ErrConfirmation))
	})

	t.Run("confirmed resume", func(t *testing.T) {
		ks, _, hook, sink := newSwitch(t)
		require.NoError(t, ks.Engage(ctx, "halt", "alice"))

		token, err := Confirm(" RESUME TRADING ")
		require.NoError(t, err)
		require.NoError(t, ks.Disengage(ctx, token, "bob"))

		engaged, err := ks.IsEngaged(ctx)
		require.NoError(t, err)
		assert.False(t, engaged)

		assert.Equal(t, "bob", hook.LastEntry().Data["operator"])
		require.Len(t, sink.records, 2)
		assert.Equal(t, "disengage", sink.records[1].Action)
	})

	t.Run("already disengaged is a no-op", func(t *testing.T) {
		ks, _, _, sink := newSwitch(t)
		_, err := ks.Initialize(ctx)
		require.NoError(t, err)

		token, err := Confirm(ResumePhrase)
		require.NoError(t, err)
		require.NoError(t, ks.Disengage(ctx, token, "bob"))
		assert.Empty(t, sink.records)
	})

	t.Run("missing record fails closed", func(t *testing.T) {
		ks, _, _, _ := newSwitch(t)
		token, err := Confirm(ResumePhrase)
		require.NoError(t, err)

		err = ks.Disengage(ctx, token, "bob")
		assert.True(t, stderrors.Is(err, gateerrors.ErrStateUnavailable))
	})
}
