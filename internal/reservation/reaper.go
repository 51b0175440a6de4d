package reservation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Reaper periodically reclaims expired reservations of every symbol. Reserve
// already reclaims the symbol it touches; the reaper covers symbols that see
// no further traffic after a caller crashed.
type Reaper struct {
	reserver *Reserver
	interval time.Duration
}

// NewReaper creates a reaper. A non-positive interval means half the TTL.
func NewReaper(r *Reserver, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = r.ttl / 2
	}
	return &Reaper{reserver: r, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (p *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
				p.reserver.log.WithError(err).Warn("reservation sweep failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one reclaim pass and returns the number of reclaimed tokens.
func (p *Reaper) Sweep(ctx context.Context) (int, error) {
	symbols, err := p.reserver.Symbols(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, symbol := range symbols {
		n, err := p.reserver.Reclaim(ctx, symbol)
		if err != nil {
			return total, err
		}
		if n > 0 {
			p.reserver.log.WithFields(logrus.Fields{"symbol": symbol, "reclaimed": n}).Info("reclaimed expired reservations")
		}
		total += n
	}
	return total, nil
}
