// Package freshness decides whether a market-data batch is fresh enough to
// drive decisions. A failed report blocks downstream evaluation.
package freshness

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	gateerrors "github.com/ducminhle1904/risk-gate/internal/errors"
	"github.com/ducminhle1904/risk-gate/internal/logger"
	"github.com/ducminhle1904/risk-gate/internal/monitoring"
	"github.com/ducminhle1904/risk-gate/pkg/types"
)

const component = "freshness"

// DefaultMinFreshPct applies when Check is given a non-positive minimum.
const DefaultMinFreshPct = 0.9

var (
	// ErrStaleData is returned by Report.Err for failed reports.
	ErrStaleData = stderrors.New("market data is stale")
	// ErrMissingSymbolColumn is returned when per_symbol mode meets rows
	// without a symbol.
	ErrMissingSymbolColumn = stderrors.New("per_symbol mode requires a symbol on every row")
)

// Mode selects which timestamp(s) must be within the threshold.
type Mode string

const (
	ModeLatest    Mode = "latest"
	ModeOldest    Mode = "oldest"
	ModeMedian    Mode = "median"
	ModePerSymbol Mode = "per_symbol"
)

// Modes lists every supported mode.
var Modes = []Mode{ModeLatest, ModeOldest, ModeMedian, ModePerSymbol}

// ParseMode maps a name to a Mode. The empty string is ModeLatest.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeLatest, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", gateerrors.NewValidationError(component, "ParseMode", fmt.Sprintf("unknown freshness mode %q", s))
}

// Report is the outcome of one check.
type Report struct {
	Mode         Mode                     `json:"mode"`
	Passed       bool                     `json:"passed"`
	Reason       string                   `json:"reason,omitempty"`
	Threshold    time.Duration            `json:"threshold"`
	CheckedAt    time.Time                `json:"checked_at"`
	Staleness    time.Duration            `json:"staleness"`
	FreshPct     float64                  `json:"fresh_pct"`
	MinFreshPct  float64                  `json:"min_fresh_pct,omitempty"`
	StaleSymbols map[string]time.Duration `json:"stale_symbols,omitempty"`
	StaleRows    int                      `json:"stale_rows"`
	TotalRows    int                      `json:"total_rows"`
	TotalSymbols int                      `json:"total_symbols,omitempty"`
}

// Err returns nil for a passing report and an ErrStaleData error otherwise.
func (r Report) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrStaleData, r.Reason)
}

// Validator runs freshness checks against a clock.
type Validator struct {
	now func() time.Time
	log logrus.FieldLogger
}

// NewValidator creates a validator. A nil clock means time.Now.
func NewValidator(clock func() time.Time, log logrus.FieldLogger) *Validator {
	if clock == nil {
		clock = time.Now
	}
	return &Validator{now: clock, log: logger.OrDiscard(log).WithField("component", component)}
}

// Check classifies dataset under mode. minFreshPct only applies to
// ModePerSymbol.
func (v *Validator) Check(dataset types.Dataset, mode Mode, threshold time.Duration, minFreshPct float64) (Report, error) {
	if mode == "" {
		mode = ModeLatest
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return Report{}, err
	}
	if threshold <= 0 {
		return Report{}, gateerrors.NewValidationError(component, "Check", "threshold must be positive")
	}
	if minFreshPct <= 0 {
		minFreshPct = DefaultMinFreshPct
	}

	now := v.now()
	report := Report{
		Mode:      mode,
		Threshold: threshold,
		CheckedAt: now.UTC(),
		TotalRows: len(dataset),
	}

	if len(dataset) == 0 {
		report.Reason = "empty dataset"
		v.finish(report)
		return report, nil
	}

	ages := make([]time.Duration, len(dataset))
	for i, row := range dataset {
		ages[i] = age(now, row.Timestamp)
		if ages[i] > threshold {
			report.StaleRows++
		}
	}
	report.FreshPct = float64(len(dataset)-report.StaleRows) / float64(len(dataset))

	switch mode {
	case ModeLatest:
		report.Staleness = minDuration(ages)
	case ModeOldest:
		report.Staleness = maxDuration(ages)
	case ModeMedian:
		report.Staleness = median(ages)
	case ModePerSymbol:
		if !dataset.HasSymbols() {
			return Report{}, ErrMissingSymbolColumn
		}
		v.perSymbol(&report, dataset, now, minFreshPct)
		v.finish(report)
		return report, nil
	}

	report.Passed = report.Staleness <= threshold
	if !report.Passed {
		report.Reason = fmt.Sprintf("%s staleness %s exceeds %s", mode, report.Staleness, threshold)
	}
	v.finish(report)
	return report, nil
}

func (v *Validator) perSymbol(report *Report, dataset types.Dataset, now time.Time, minFreshPct float64) {
	latest := make(map[string]time.Time)
	for _, row := range dataset {
		symbol := strings.ToUpper(row.Symbol)
		if ts, ok := latest[symbol]; !ok || row.Timestamp.After(ts) {
			latest[symbol] = row.Timestamp
		}
	}

	report.MinFreshPct = minFreshPct
	report.TotalSymbols = len(latest)
	report.StaleSymbols = make(map[string]time.Duration)
	for symbol, ts := range latest {
		a := age(now, ts)
		if a > report.Staleness {
			report.Staleness = a
		}
		if a > report.Threshold {
			report.StaleSymbols[symbol] = a
		}
	}

	fresh := len(latest) - len(report.StaleSymbols)
	report.FreshPct = float64(fresh) / float64(len(latest))
	report.Passed = report.FreshPct >= minFreshPct
	if !report.Passed {
		report.Reason = fmt.Sprintf("%d of %d symbols fresh (%.1f%%), need %.1f%%",
			fresh, len(latest), report.FreshPct*100, minFreshPct*100)
	}
}

func (v *Validator) finish(report Report) {
	monitoring.RecordFreshness(string(report.Mode), report.Passed)
	if report.Passed {
		return
	}
	v.log.WithFields(logrus.Fields{
		"mode":          report.Mode,
		"staleness":     report.Staleness.String(),
		"threshold":     report.Threshold.String(),
		"stale_rows":    report.StaleRows,
		"stale_symbols": len(report.StaleSymbols),
	}).Warn("stale market data: " + report.Reason)
}

// age never goes negative; rows stamped ahead of the local clock are fresh.
func age(now, ts time.Time) time.Duration {
	if d := now.Sub(ts); d > 0 {
		return d
	}
	return 0
}

func minDuration(ds []time.Duration) time.Duration {
	m := ds[0]
	for _, d := range ds[1:] {
		if d < m {
			m = d
		}
	}
	return m
}

func maxDuration(ds []time.Duration) time.Duration {
	m := ds[0]
	for _, d := range ds[1:] {
		if d > m {
			m = d
		}
	}
	return m
}

func median(ds []time.Duration) time.Duration {
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1] + (sorted[n/2]-sorted[n/2-1])/2
}
