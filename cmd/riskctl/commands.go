package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/risk-gate/cmd/common"
	"github.com/ducminhle1904/risk-gate/internal/breaker"
	"github.com/ducminhle1904/risk-gate/internal/freshness"
	"github.com/ducminhle1904/risk-gate/internal/killswitch"
	"github.com/ducminhle1904/risk-gate/internal/orderid"
	"github.com/ducminhle1904/risk-gate/internal/reservation"
	"github.com/ducminhle1904/risk-gate/pkg/data"
	"github.com/ducminhle1904/risk-gate/pkg/types"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func (a *app) status() error {
	ks, err := a.killSwitch()
	if err != nil {
		return err
	}
	br, err := a.breaker()
	if err != nil {
		return err
	}

	if st, err := ks.Status(a.ctx); err != nil {
		common.KeyValueTable(a.out, "KILL SWITCH", [][2]interface{}{{"Status", "UNREADABLE (trading halted)"}, {"Error", err.Error()}})
	} else {
		common.KeyValueTable(a.out, "KILL SWITCH", [][2]interface{}{
			{"Engaged", st.Engaged},
			{"Reason", st.Reason},
			{"Operator", st.Operator},
			{"Engaged at", formatTime(st.EngagedAt)},
			{"Updated at", formatTime(st.UpdatedAt)},
		})
	}

	if rec, err := br.Status(a.ctx); err != nil {
		common.KeyValueTable(a.out, "CIRCUIT BREAKER", [][2]interface{}{{"Status", "UNREADABLE (trading halted)"}, {"Error", err.Error()}})
	} else {
		common.KeyValueTable(a.out, "CIRCUIT BREAKER", [][2]interface{}{
			{"State", rec.State},
			{"Reason", rec.Reason},
			{"Operator", rec.Operator},
			{"Manual", rec.Manual},
			{"Tripped at", formatTime(rec.TrippedAt)},
			{"Healthy streak", rec.HealthyStreak},
		})
	}

	return a.reservations(nil)
}

func (a *app) initRecords() error {
	ks, err := a.killSwitch()
	if err != nil {
		return err
	}
	br, err := a.breaker()
	if err != nil {
		return err
	}
	ksCreated, err := ks.Initialize(a.ctx)
	if err != nil {
		return err
	}
	brCreated, err := br.Initialize(a.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "kill switch record created: %t\nbreaker record created: %t\n", ksCreated, brCreated)
	return nil
}

func (a *app) engage(args []string) error {
	fs := flag.NewFlagSet("engage", flag.ContinueOnError)
	reason := fs.String("reason", "", "Why trading is halted (required)")
	operator := operatorFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ks, err := a.killSwitch()
	if err != nil {
		return err
	}
	if err := ks.Engage(a.ctx, *reason, *operator); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "kill switch ENGAGED: all orders are rejected")
	return nil
}

func (a *app) disengage(args []string) error {
	fs := flag.NewFlagSet("disengage", flag.ContinueOnError)
	operator := operatorFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ks, err := a.killSwitch()
	if err != nil {
		return err
	}
	typed, err := a.prompt(fmt.Sprintf("Type %q to resume trading: ", killswitch.ResumePhrase))
	if err != nil {
		return err
	}
	token, err := killswitch.Confirm(typed)
	if err != nil {
		return err
	}
	if err := ks.Disengage(a.ctx, token, *operator); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "kill switch disengaged: trading resumed")
	return nil
}

func (a *app) trip(args []string) error {
	fs := flag.NewFlagSet("trip", flag.ContinueOnError)
	reason := fs.String("reason", "", "Why the breaker is opened (required)")
	operator := operatorFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	br, err := a.breaker()
	if err != nil {
		return err
	}
	if err := br.Trip(a.ctx, *reason, *operator); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "circuit breaker OPEN: orders are rejected until reset")
	return nil
}

func (a *app) reset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	operator := operatorFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	br, err := a.breaker()
	if err != nil {
		return err
	}
	typed, err := a.prompt(fmt.Sprintf("Type %q to close the breaker: ", breaker.ResetPhrase))
	if err != nil {
		return err
	}
	token, err := breaker.Confirm(typed)
	if err != nil {
		return err
	}
	if err := br.Reset(a.ctx, token, *operator); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "circuit breaker CLOSED")
	return nil
}

func (a *app) reservations(symbols []string) error {
	r := a.reserver()
	if len(symbols) == 0 {
		var err error
		if symbols, err = r.Symbols(a.ctx); err != nil {
			return err
		}
	}

	precision := a.cfg.Reservation.QuantityPrecision
	rows := make([][]interface{}, 0, len(symbols))
	var tokens [][]interface{}
	for _, symbol := range symbols {
		snap, err := r.Snapshot(a.ctx, symbol)
		if err != nil {
			return err
		}
		rows = append(rows, []interface{}{
			snap.Symbol,
			reservation.FromUnits(snap.Confirmed, precision).String(),
			reservation.FromUnits(snap.Long, precision).String(),
			reservation.FromUnits(snap.Short, precision).String(),
			reservation.FromUnits(snap.Exposure(), precision).String(),
			len(snap.Tokens),
		})
		for _, t := range snap.Tokens {
			tokens = append(tokens, []interface{}{t.String(), reservation.FromUnits(t.Delta, precision).String(), formatTime(t.ExpiresAt)})
		}
	}

	common.Table(a.out, "RESERVATIONS", []interface{}{"Symbol", "Confirmed", "Pending buys", "Pending sells", "Exposure", "Tokens"}, rows)
	if len(tokens) > 0 {
		common.Table(a.out, "", []interface{}{"Token", "Delta", "Expires"}, tokens)
	}
	return nil
}

func (a *app) reclaim(symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("reclaim needs at least one symbol")
	}
	r := a.reserver()
	for _, symbol := range symbols {
		n, err := r.Reclaim(a.ctx, symbol)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s: reclaimed %d expired reservation(s)\n", strings.ToUpper(symbol), n)
	}
	return nil
}

func (a *app) freshness(args []string) error {
	fs := flag.NewFlagSet("freshness", flag.ContinueOnError)
	mode := fs.String("mode", a.cfg.Freshness.Mode, "latest, oldest, median or per_symbol")
	threshold := fs.Duration("threshold", a.cfg.Freshness.Threshold, "Maximum age of fresh data")
	minFresh := fs.Float64("min-fresh", a.cfg.Freshness.MinFreshPct, "Fraction of symbols that must be fresh (per_symbol)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("freshness needs exactly one dataset file")
	}

	m, err := freshness.ParseMode(*mode)
	if err != nil {
		return err
	}
	dataset, err := data.LoadDataset(fs.Arg(0))
	if err != nil {
		return err
	}
	report, err := freshness.NewValidator(nil, a.log).Check(dataset, m, *threshold, *minFresh)
	if err != nil {
		return err
	}

	rows := [][2]interface{}{
		{"Mode", report.Mode},
		{"Passed", report.Passed},
		{"Threshold", report.Threshold.String()},
		{"Staleness", report.Staleness.String()},
		{"Rows (stale/total)", fmt.Sprintf("%d/%d", report.StaleRows, report.TotalRows)},
	}
	if report.Mode == freshness.ModePerSymbol {
		rows = append(rows, [2]interface{}{"Fresh symbols", fmt.Sprintf("%.1f%% of %d", report.FreshPct*100, report.TotalSymbols)})
		for _, symbol := range sortedKeys(report.StaleSymbols) {
			rows = append(rows, [2]interface{}{"Stale " + symbol, report.StaleSymbols[symbol].String()})
		}
	}
	if report.Reason != "" {
		rows = append(rows, [2]interface{}{"Reason", report.Reason})
	}
	common.KeyValueTable(a.out, "DATA FRESHNESS", rows)
	return report.Err()
}

func (a *app) orderID(args []string) error {
	fs := flag.NewFlagSet("orderid", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "Instrument symbol")
	side := fs.String("side", "buy", "buy or sell")
	qty := fs.String("qty", "", "Order quantity")
	orderType := fs.String("type", "market", "market, limit, stop or stop_limit")
	tif := fs.String("tif", "DAY", "DAY, GTC, IOC or FOK")
	limit := fs.String("limit", "", "Limit price")
	stop := fs.String("stop", "", "Stop price")
	strategy := fs.String("strategy", "", "Strategy id")
	date := fs.String("date", "", "UTC date YYYY-MM-DD (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	quantity, err := decimal.NewFromString(*qty)
	if err != nil {
		return fmt.Errorf("invalid -qty %q", *qty)
	}
	candidate := types.OrderCandidate{
		Symbol:      *symbol,
		Side:        types.OrderSide(strings.ToLower(*side)),
		Quantity:    quantity,
		Type:        types.OrderType(strings.ToLower(*orderType)),
		TimeInForce: types.TimeInForce(strings.ToUpper(*tif)),
		StrategyID:  *strategy,
	}
	if candidate.LimitPrice, err = optionalPrice("limit", *limit); err != nil {
		return err
	}
	if candidate.StopPrice, err = optionalPrice("stop", *stop); err != nil {
		return err
	}

	var id orderid.ClientOrderID
	if *date != "" {
		id, err = orderid.GenerateFor(candidate, *date)
	} else {
		id, err = orderid.NewGenerator(nil).Generate(candidate)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, id)
	return nil
}

func optionalPrice(name, raw string) (decimal.NullDecimal, error) {
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid -%s %q", name, raw)
	}
	return decimal.NewNullDecimal(d), nil
}
