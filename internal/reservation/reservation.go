// Package reservation implements atomic per-symbol position reservations in
// Redis. Every state change runs as one server-side script so concurrent gate
// instances cannot jointly exceed a symbol's limit.
package reservation

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	gateerrors "github.com/ducminhle1904/risk-gate/internal/errors"
	"github.com/ducminhle1904/risk-gate/internal/logger"
	"github.com/ducminhle1904/risk-gate/internal/monitoring"
)

const (
	component = "reservation"

	DefaultPrefix  = "riskgate:"
	DefaultTTL     = 60 * time.Second
	DefaultTimeout = 5 * time.Millisecond
)

var (
	// ErrTokenNotFound is returned by Commit for a token that was already
	// released, committed or reclaimed.
	ErrTokenNotFound = stderrors.New("reservation token not found")
	// ErrTokenExpired is returned by Commit when the token outlived its TTL.
	// Its delta has been reclaimed.
	ErrTokenExpired = stderrors.New("reservation token expired")
)

// PositionSink receives exposure that became confirmed position on commit.
type PositionSink interface {
	ApplyCommitted(ctx context.Context, symbol string, delta int64) error
}

// Token is the handle of one pending reservation. Possession is ownership.
type Token struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Delta     int64     `json:"delta"`
	ExpiresAt time.Time `json:"expires_at"`
}

// String encodes the token as SYMBOL:ID.
func (t Token) String() string {
	return t.Symbol + ":" + t.ID
}

// ParseToken decodes a token produced by Token.String. Delta and expiry are
// not part of the encoding; the store is authoritative for both.
func ParseToken(s string) (Token, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return Token{}, gateerrors.NewValidationError(component, "ParseToken", "token must be SYMBOL:ID")
	}
	id := s[i+1:]
	if _, err := uuid.Parse(id); err != nil {
		return Token{}, gateerrors.NewValidationError(component, "ParseToken", "malformed token id")
	}
	return Token{Symbol: s[:i], ID: id}, nil
}

// Options configures a Reserver.
type Options struct {
	Prefix  string
	TTL     time.Duration
	Timeout time.Duration // per Reserve call
	Sink    PositionSink
	Log     logrus.FieldLogger
	Clock   func() time.Time
}

// Reserver reserves, commits and releases exposure.
type Reserver struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	sink    PositionSink
	log     logrus.FieldLogger
	now     func() time.Time
}

// New creates a Reserver.
func New(client redis.UniversalClient, opts Options) *Reserver {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Reserver{
		client:  client,
		prefix:  opts.Prefix,
		ttl:     opts.TTL,
		timeout: opts.Timeout,
		sink:    opts.Sink,
		log:     logger.OrDiscard(opts.Log).WithField("component", component),
		now:     opts.Clock,
	}
}

// Preload loads the scripts so the first Reserve is a single EVALSHA.
func (r *Reserver) Preload(ctx context.Context) error {
	for _, script := range allScripts {
		if err := script.Load(ctx, r.client).Err(); err != nil {
			return gateerrors.Classify(err, component, "Preload")
		}
	}
	return nil
}

type symbolKeys [5]string

const (
	keyLong = iota
	keyShort
	keyTokens
	keyExpiry
	keyConfirmed
)

func (r *Reserver) keys(symbol string) symbolKeys {
	base := r.prefix + "resv:{" + symbol + "}:"
	return symbolKeys{base + "long", base + "short", base + "tokens", base + "expiry", base + "confirmed"}
}

func normalizeSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || strings.ContainsAny(symbol, "{}: \t") {
		return "", fmt.Errorf("invalid symbol %q", symbol)
	}
	return symbol, nil
}

// Reserve atomically adds delta to the pending buys (delta > 0) or pending
// sells (delta < 0) of symbol. A buy is rejected when confirmed + long + delta
// would exceed limit, a sell when confirmed - short + delta would fall below
// -limit. A sell against a long position above the limit is accepted.
//
// When the outcome is unknown (timeout or store error) the returned token
// still carries the id the script may have recorded, and the caller should
// Release it.
func (r *Reserver) Reserve(ctx context.Context, symbol string, delta, limit int64) (Token, error) {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return Token{}, gateerrors.NewValidationError(component, "Reserve", err.Error())
	}
	if delta == 0 {
		return Token{}, gateerrors.NewValidationError(component, "Reserve", "delta must be non-zero")
	}
	if limit <= 0 {
		return Token{}, gateerrors.NewValidationError(component, "Reserve", "limit must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	now := r.now()
	token := Token{ID: uuid.NewString(), Symbol: symbol, Delta: delta, ExpiresAt: now.Add(r.ttl)}
	keys := r.keys(symbol)

	res, err := reserveScript.Run(ctx, r.client, keys[:],
		delta, limit, now.UnixMilli(), token.ExpiresAt.UnixMilli(), token.ID).Int64Slice()
	if err != nil {
		monitoring.RecordReservation("reserve", "error")
		return token, gateerrors.Classify(err, component, "Reserve").WithContext("symbol", symbol)
	}
	if len(res) != 5 {
		return token, gateerrors.NewStateUnavailable(component, "Reserve", fmt.Errorf("unexpected reply %v", res))
	}

	ok, long, short, confirmed, reclaimed := res[0] == 1, res[1], res[2], res[3], res[4]
	if reclaimed > 0 {
		r.log.WithFields(logrus.Fields{"symbol": symbol, "reclaimed": reclaimed}).Info("reclaimed expired reservations")
	}
	if !ok {
		monitoring.RecordReservation("reserve", "limit_exceeded")
		side, pending := "buys", long
		if delta < 0 {
			side, pending = "sells", short
		}
		return Token{}, gateerrors.NewLimitExceeded(component, "Reserve",
			fmt.Sprintf("%s: confirmed %d with pending %s %d and delta %d exceeds limit %d", symbol, confirmed, side, pending, delta, limit)).
			WithContext("symbol", symbol)
	}

	monitoring.RecordReservation("reserve", "ok")
	monitoring.UpdateReserved(symbol, long-short)
	return token, nil
}

// Commit turns the token's delta into confirmed position and hands it to the
// position sink. It returns the delta stored for the token, also when the
// token had expired.
func (r *Reserver) Commit(ctx context.Context, token Token) (int64, error) {
	symbol, err := normalizeSymbol(token.Symbol)
	if err != nil || token.ID == "" {
		return 0, gateerrors.NewValidationError(component, "Commit", "malformed token")
	}
	keys := r.keys(symbol)

	res, err := commitScript.Run(ctx, r.client, keys[:], token.ID, r.now().UnixMilli()).Int64Slice()
	if err != nil {
		monitoring.RecordReservation("commit", "error")
		return 0, gateerrors.Classify(err, component, "Commit")
	}
	if len(res) != 2 {
		return 0, gateerrors.NewStateUnavailable(component, "Commit", fmt.Errorf("unexpected reply %v", res))
	}

	switch status, delta := res[0], res[1]; status {
	case -1:
		monitoring.RecordReservation("commit", "not_found")
		return 0, ErrTokenNotFound
	case -2:
		monitoring.RecordReservation("commit", "expired")
		r.log.WithFields(logrus.Fields{"symbol": symbol, "token": token.ID, "delta": delta}).
			Warn("commit of expired reservation; delta reclaimed")
		return delta, ErrTokenExpired
	default:
		monitoring.RecordReservation("commit", "ok")
		if r.sink != nil {
			if err := r.sink.ApplyCommitted(ctx, symbol, delta); err != nil {
				r.log.WithError(err).WithField("symbol", symbol).Error("position sink rejected committed delta")
			}
		}
		return delta, nil
	}
}

// Release returns the token's delta and reports how much was given back.
// Releasing an unknown, already released or reclaimed token is a no-op
// returning 0.
func (r *Reserver) Release(ctx context.Context, token Token) (int64, error) {
	symbol, err := normalizeSymbol(token.Symbol)
	if err != nil || token.ID == "" {
		return 0, gateerrors.NewValidationError(component, "Release", "malformed token")
	}
	keys := r.keys(symbol)

	res, err := releaseScript.Run(ctx, r.client, keys[:], token.ID).Int64Slice()
	if err != nil {
		monitoring.RecordReservation("release", "error")
		return 0, gateerrors.Classify(err, component, "Release")
	}
	if len(res) == 2 && res[0] == 1 {
		monitoring.RecordReservation("release", "ok")
		return res[1], nil
	}
	monitoring.RecordReservation("release", "noop")
	return 0, nil
}

// Reclaim reverses every expired token of symbol and returns how many.
func (r *Reserver) Reclaim(ctx context.Context, symbol string) (int, error) {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return 0, gateerrors.NewValidationError(component, "Reclaim", err.Error())
	}
	keys := r.keys(symbol)

	res, err := reclaimScript.Run(ctx, r.client, keys[:], r.now().UnixMilli()).Int64Slice()
	if err != nil {
		return 0, gateerrors.Classify(err, component, "Reclaim")
	}
	if len(res) != 3 {
		return 0, gateerrors.NewStateUnavailable(component, "Reclaim", fmt.Errorf("unexpected reply %v", res))
	}
	monitoring.UpdateReserved(symbol, res[1]-res[2])
	if res[0] > 0 {
		monitoring.RecordReservation("reclaim", "ok")
	}
	return int(res[0]), nil
}

// SetConfirmed overwrites the confirmed position of symbol, as reported by
// the position-tracking system.
//
// Commit and SetConfirmed both move confirmed. A fill that the exchange
// already reports when its token is committed afterwards is counted twice
// until the next SetConfirmed overwrites it; a commit that lands after a
// sync which missed the fill is counted once. The window is bounded by the
// sync interval and only makes the limit stricter for fills in the same
// direction as the position.
func (r *Reserver) SetConfirmed(ctx context.Context, symbol string, qty int64) error {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return gateerrors.NewValidationError(component, "SetConfirmed", err.Error())
	}
	if err := r.client.Set(ctx, r.keys(symbol)[keyConfirmed], qty, 0).Err(); err != nil {
		return gateerrors.Classify(err, component, "SetConfirmed")
	}
	return nil
}

// Snapshot is a consistent view of one symbol. Reserved is the net of the
// pending buys (Long) and pending sells (Short).
type Snapshot struct {
	Symbol    string  `json:"symbol"`
	Long      int64   `json:"long"`
	Short     int64   `json:"short"`
	Reserved  int64   `json:"reserved"`
	Confirmed int64   `json:"confirmed"`
	Tokens    []Token `json:"tokens"`
}

// Exposure is confirmed plus the net reserved quantity.
func (s Snapshot) Exposure() int64 {
	return s.Confirmed + s.Reserved
}

// Bounds is the lowest and highest position reachable if any subset of the
// pending orders fills.
func (s Snapshot) Bounds() (low, high int64) {
	return s.Confirmed - s.Short, s.Confirmed + s.Long
}

// Snapshot reads the symbol's state in one MULTI.
func (r *Reserver) Snapshot(ctx context.Context, symbol string) (Snapshot, error) {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return Snapshot{}, gateerrors.NewValidationError(component, "Snapshot", err.Error())
	}
	keys := r.keys(symbol)

	var (
		long, short, confirmed *redis.StringCmd
		tokens                 *redis.MapStringStringCmd
		expiry                 *redis.ZSliceCmd
	)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		long = pipe.Get(ctx, keys[keyLong])
		short = pipe.Get(ctx, keys[keyShort])
		tokens = pipe.HGetAll(ctx, keys[keyTokens])
		expiry = pipe.ZRangeWithScores(ctx, keys[keyExpiry], 0, -1)
		confirmed = pipe.Get(ctx, keys[keyConfirmed])
		return nil
	})
	if err != nil && !stderrors.Is(err, redis.Nil) {
		return Snapshot{}, gateerrors.Classify(err, component, "Snapshot")
	}

	snap := Snapshot{Symbol: symbol}
	for _, f := range []struct {
		cmd *redis.StringCmd
		dst *int64
	}{{long, &snap.Long}, {short, &snap.Short}, {confirmed, &snap.Confirmed}} {
		if *f.dst, err = intOrZero(f.cmd); err != nil {
			return Snapshot{}, gateerrors.NewStateUnavailable(component, "Snapshot", err)
		}
	}
	snap.Reserved = snap.Long - snap.Short

	deltas := tokens.Val()
	for _, z := range expiry.Val() {
		id, _ := z.Member.(string)
		delta, err := strconv.ParseInt(deltas[id], 10, 64)
		if err != nil {
			continue
		}
		snap.Tokens = append(snap.Tokens, Token{
			ID: id, Symbol: symbol, Delta: delta, ExpiresAt: time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return snap, nil
}

func intOrZero(cmd *redis.StringCmd) (int64, error) {
	v, err := cmd.Int64()
	if stderrors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Symbols lists every symbol that has reservation state.
func (r *Reserver) Symbols(ctx context.Context) ([]string, error) {
	pattern := r.prefix + "resv:{*}:*"
	seen := make(map[string]struct{})
	var symbols []string

	iter := r.client.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		lo, hi := strings.IndexByte(key, '{'), strings.LastIndexByte(key, '}')
		if lo < 0 || hi <= lo+1 {
			continue
		}
		symbol := key[lo+1 : hi]
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		symbols = append(symbols, symbol)
	}
	if err := iter.Err(); err != nil {
		return nil, gateerrors.Classify(err, component, "Symbols")
	}
	return symbols, nil
}
