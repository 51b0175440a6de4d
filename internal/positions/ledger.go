package positions

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/risk-gate/internal/logger"
	"github.com/ducminhle1904/risk-gate/internal/reservation"
)

// Ledger records committed fills between exchange syncs. It implements
// reservation.PositionSink.
type Ledger struct {
	log logrus.FieldLogger

	mu     sync.Mutex
	totals map[string]int64
}

var _ reservation.PositionSink = (*Ledger)(nil)

// NewLedger creates an empty ledger.
func NewLedger(log logrus.FieldLogger) *Ledger {
	return &Ledger{
		log:    logger.OrDiscard(log).WithField("component", "positions"),
		totals: make(map[string]int64),
	}
}

// ApplyCommitted adds a committed delta.
func (l *Ledger) ApplyCommitted(_ context.Context, symbol string, delta int64) error {
	l.mu.Lock()
	l.totals[symbol] += delta
	total := l.totals[symbol]
	l.mu.Unlock()

	l.log.WithFields(logrus.Fields{"symbol": symbol, "delta": delta, "committed_total": total}).Info("fill committed")
	return nil
}

// Totals returns a copy of the committed deltas per symbol.
func (l *Ledger) Totals() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int64, len(l.totals))
	for k, v := range l.totals {
		out[k] = v
	}
	return out
}
