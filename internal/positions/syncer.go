// Package positions keeps the confirmed position the reservation layer
// counts against limits in line with the exchange.
package positions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/risk-gate/internal/exchange/bybit"
	"github.com/ducminhle1904/risk-gate/internal/logger"
	"github.com/ducminhle1904/risk-gate/internal/monitoring"
	"github.com/ducminhle1904/risk-gate/internal/reservation"
	"github.com/ducminhle1904/risk-gate/internal/safety"
)

// Source lists open positions.
type Source interface {
	GetPositions(ctx context.Context, symbol string) ([]bybit.Position, error)
}

// Target receives the confirmed position per symbol.
type Target interface {
	SetConfirmed(ctx context.Context, symbol string, qty int64) error
}

// Options configures a Syncer.
type Options struct {
	// Symbols are always written, as zero when the exchange reports no
	// position. Other symbols are written only while open.
	Symbols   []string
	Precision int32
	Interval  time.Duration
	Breaker   safety.CallBreakerConfig
	Log       logrus.FieldLogger
	Clock     func() time.Time
}

// Syncer copies exchange positions into the reservation store.
type Syncer struct {
	source    Source
	target    Target
	breaker   *safety.CallBreaker
	symbols   []string
	precision int32
	interval  time.Duration
	log       logrus.FieldLogger

	mu       sync.RWMutex
	lastSync time.Time
	lastErr  error
}

// NewSyncer creates a Syncer.
func NewSyncer(source Source, target Target, opts Options) *Syncer {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	log := logger.OrDiscard(opts.Log).WithField("component", "positions")
	symbols := make([]string, 0, len(opts.Symbols))
	for _, s := range opts.Symbols {
		symbols = append(symbols, strings.ToUpper(strings.TrimSpace(s)))
	}
	return &Syncer{
		source:    source,
		target:    target,
		breaker:   safety.NewCallBreaker("exchange-positions", opts.Breaker, opts.Clock, log),
		symbols:   symbols,
		precision: opts.Precision,
		interval:  opts.Interval,
		log:       log,
	}
}

// SyncOnce fetches positions and writes them. It returns the number of
// symbols written.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	var positions []bybit.Position
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		positions, err = s.source.GetPositions(ctx, "")
		return err
	})
	if err != nil {
		monitoring.RecordError("position_sync")
		s.setResult(time.Time{}, err)
		return 0, fmt.Errorf("fetch positions: %w", err)
	}

	net := make(map[string]decimal.Decimal, len(positions)+len(s.symbols))
	for _, symbol := range s.symbols {
		net[symbol] = decimal.Zero
	}
	for _, p := range positions {
		net[p.Symbol] = net[p.Symbol].Add(p.Signed())
	}

	symbols := make([]string, 0, len(net))
	for symbol := range net {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	written := 0
	for _, symbol := range symbols {
		units, err := reservation.ToUnits(net[symbol], s.precision)
		if err != nil {
			s.log.WithError(err).WithField("symbol", symbol).Warn("position not representable at configured precision")
			continue
		}
		if err := s.target.SetConfirmed(ctx, symbol, units); err != nil {
			s.setResult(time.Time{}, err)
			return written, fmt.Errorf("set confirmed %s: %w", symbol, err)
		}
		written++
	}

	s.setResult(time.Now(), nil)
	s.log.WithField("symbols", written).Debug("positions synced")
	return written, nil
}

// Run syncs on every interval until ctx is done.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Warn("position sync failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Healthy reports an error when the last sync failed.
func (s *Syncer) Healthy(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastErr != nil {
		return s.lastErr
	}
	if s.lastSync.IsZero() {
		return fmt.Errorf("positions not synced yet")
	}
	return nil
}

// BreakerStats exposes the exchange call breaker.
func (s *Syncer) BreakerStats() safety.CallBreakerStats {
	return s.breaker.GetStats()
}

func (s *Syncer) setResult(at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if err == nil {
		s.lastSync = at
	}
}
