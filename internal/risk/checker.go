// Package risk is the pre-trade gate: it composes the kill switch, the
// circuit breaker, the position reservation and the static limits into one
// ordered, fail-closed decision per order.
package risk

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/risk-gate/internal/audit"
	"github.com/ducminhle1904/risk-gate/internal/breaker"
	gateerrors "github.com/ducminhle1904/risk-gate/internal/errors"
	"github.com/ducminhle1904/risk-gate/internal/logger"
	"github.com/ducminhle1904/risk-gate/internal/monitoring"
	"github.com/ducminhle1904/risk-gate/internal/orderid"
	"github.com/ducminhle1904/risk-gate/internal/reservation"
	"github.com/ducminhle1904/risk-gate/internal/safety"
	"github.com/ducminhle1904/risk-gate/pkg/types"
)

const component = "risk"

// Timeouts bound each stage of ValidateOrder.
type Timeouts struct {
	Total       time.Duration
	KillSwitch  time.Duration
	Breaker     time.Duration
	Reservation time.Duration
	Static      time.Duration
}

// DefaultTimeouts keeps the decision in single-digit milliseconds.
var DefaultTimeouts = Timeouts{
	Total:       8 * time.Millisecond,
	KillSwitch:  2 * time.Millisecond,
	Breaker:     2 * time.Millisecond,
	Reservation: 5 * time.Millisecond,
	Static:      time.Millisecond,
}

// Config wires a Checker. KillSwitch, Breaker and Reserver are required.
type Config struct {
	KillSwitch KillSwitchBinding
	Breaker    Breaker
	Reserver   Reserver
	Limits     StaticLimits

	// PositionLimits caps |confirmed + reserved| per symbol;
	// DefaultPositionLimit applies to symbols not listed. Zero means no
	// symbol without an explicit limit can trade.
	PositionLimits       map[string]decimal.Decimal
	DefaultPositionLimit decimal.Decimal
	QuantityPrecision    int32

	// AllowHalfOpen admits orders while the breaker is on probation.
	AllowHalfOpen bool

	Timeouts Timeouts
	Audit    audit.Sink
	Log      logrus.FieldLogger
	Clock    func() time.Time
}

// Checker implements Gate.
type Checker struct {
	killSwitch    KillSwitch
	legacy        bool
	breaker       Breaker
	reserver      Reserver
	limits        StaticLimits
	validator     *safety.Validator
	ids           *orderid.Generator
	limitUnits    map[string]int64
	defaultLimit  int64
	precision     int32
	allowHalfOpen bool
	timeouts      Timeouts
	audit         audit.Sink
	log           logrus.FieldLogger
	now           func() time.Time
}

var _ Gate = (*Checker)(nil)

// New validates cfg and builds a Checker.
func New(cfg Config) (*Checker, error) {
	if cfg.KillSwitch == nil {
		return nil, gateerrors.NewConfigurationError(component, "New",
			"kill switch binding is required; use WithKillSwitch or LegacyWithoutKillSwitch")
	}
	ks, bound := cfg.KillSwitch.killSwitch()
	if _, legacy := cfg.KillSwitch.(legacyBinding); !legacy && !bound {
		return nil, gateerrors.NewConfigurationError(component, "New", "WithKillSwitch was given a nil kill switch")
	}
	if cfg.Breaker == nil || cfg.Reserver == nil {
		return nil, gateerrors.NewConfigurationError(component, "New", "breaker and reserver are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Discard{}
	}

	c := &Checker{
		killSwitch:    ks,
		legacy:        !bound,
		breaker:       cfg.Breaker,
		reserver:      cfg.Reserver,
		limits:        cfg.Limits,
		validator:     safety.NewValidator(),
		ids:           orderid.NewGenerator(cfg.Clock),
		limitUnits:    make(map[string]int64, len(cfg.PositionLimits)),
		precision:     cfg.QuantityPrecision,
		allowHalfOpen: cfg.AllowHalfOpen,
		timeouts:      withDefaults(cfg.Timeouts),
		audit:         cfg.Audit,
		log:           logger.OrDiscard(cfg.Log).WithField("component", component),
		now:           cfg.Clock,
	}

	for symbol, limit := range cfg.PositionLimits {
		units, err := reservation.ToUnits(limit, cfg.QuantityPrecision)
		if err != nil || units < 0 {
			return nil, gateerrors.NewConfigurationError(component, "New", fmt.Sprintf("position limit for %s: %v", symbol, err))
		}
		c.limitUnits[types.OrderCandidate{Symbol: symbol}.NormalizedSymbol()] = units
	}
	units, err := reservation.ToUnits(cfg.DefaultPositionLimit, cfg.QuantityPrecision)
	if err != nil || units < 0 {
		return nil, gateerrors.NewConfigurationError(component, "New", "invalid default position limit")
	}
	c.defaultLimit = units

	if c.legacy {
		c.log.Warn("risk checker constructed without a kill switch")
	}
	return c, nil
}

func withDefaults(t Timeouts) Timeouts {
	if t.Total <= 0 {
		t.Total = DefaultTimeouts.Total
	}
	if t.KillSwitch <= 0 {
		t.KillSwitch = DefaultTimeouts.KillSwitch
	}
	if t.Breaker <= 0 {
		t.Breaker = DefaultTimeouts.Breaker
	}
	if t.Reservation <= 0 {
		t.Reservation = DefaultTimeouts.Reservation
	}
	if t.Static <= 0 {
		t.Static = DefaultTimeouts.Static
	}
	return t
}

// ValidateOrder runs input validation, kill switch, breaker, reservation and
// static limits in that order and stops at the first rejection.
func (c *Checker) ValidateOrder(ctx context.Context, candidate types.OrderCandidate) (*Approval, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Total)
	defer cancel()

	symbol := candidate.NormalizedSymbol()

	if r := c.validator.ValidateCandidate(candidate); !r.Valid {
		return nil, c.reject(ctx, candidate, "", &Rejection{Reason: ReasonInvalidOrder, Check: CheckInput, Message: r.Message})
	}
	id, err := c.ids.Generate(candidate)
	if err != nil {
		return nil, c.reject(ctx, candidate, "", &Rejection{Reason: ReasonInvalidOrder, Check: CheckInput, Message: err.Error(), Err: err})
	}
	units, err := reservation.ToUnits(candidate.Quantity, c.precision)
	if err != nil {
		return nil, c.reject(ctx, candidate, id, &Rejection{Reason: ReasonInvalidQuantity, Check: CheckInput, Message: err.Error()})
	}
	delta := units * candidate.Side.Sign()

	if rej := c.checkKillSwitch(ctx); rej != nil {
		return nil, c.reject(ctx, candidate, id, rej)
	}
	if rej := c.checkBreaker(ctx); rej != nil {
		return nil, c.reject(ctx, candidate, id, rej)
	}

	token, rej := c.reserve(ctx, symbol, delta)
	if rej != nil {
		return nil, c.reject(ctx, candidate, id, rej)
	}

	if rej := c.checkStatic(ctx, candidate); rej != nil {
		c.rollback(ctx, token, "static check rejected")
		return nil, c.reject(ctx, candidate, id, rej)
	}

	latency := time.Since(start)
	monitoring.RecordDecision("approved", "")
	c.log.WithFields(logrus.Fields{
		"symbol":          symbol,
		"side":            candidate.Side,
		"quantity":        candidate.Quantity.String(),
		"strategy":        candidate.StrategyID,
		"client_order_id": id,
		"token":           token.ID,
		"latency":         latency.String(),
	}).Debug("order approved")

	return &Approval{
		ClientOrderID: id,
		Token:         token,
		Candidate:     candidate,
		ApprovedAt:    c.now().UTC(),
		Latency:       latency,
	}, nil
}

func (c *Checker) checkKillSwitch(ctx context.Context) *Rejection {
	if c.legacy {
		c.log.Warn("kill switch check skipped: checker runs without a kill switch")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.KillSwitch)
	defer cancel()
	start := time.Now()
	engaged, err := c.killSwitch.IsEngaged(ctx)
	monitoring.ObserveCheck(string(CheckKillSwitch), time.Since(start))

	if err != nil {
		return failure(ctx, CheckKillSwitch, err)
	}
	if engaged {
		return &Rejection{Reason: ReasonKillSwitchEngaged, Check: CheckKillSwitch, Message: "kill switch engaged"}
	}
	return nil
}

func (c *Checker) checkBreaker(ctx context.Context) *Rejection {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Breaker)
	defer cancel()
	start := time.Now()
	state, err := c.breaker.GetState(ctx)
	monitoring.ObserveCheck(string(CheckBreaker), time.Since(start))

	if err != nil {
		return failure(ctx, CheckBreaker, err)
	}
	switch {
	case state == breaker.StateClosed:
		return nil
	case state == breaker.StateHalfOpen && c.allowHalfOpen:
		return nil
	}
	return &Rejection{Reason: ReasonBreakerOpen, Check: CheckBreaker, Message: "circuit breaker is " + state.String()}
}

func (c *Checker) reserve(ctx context.Context, symbol string, delta int64) (reservation.Token, *Rejection) {
	limit, ok := c.limitUnits[symbol]
	if !ok {
		limit = c.defaultLimit
	}
	if limit <= 0 {
		return reservation.Token{}, &Rejection{Reason: ReasonLimitExceeded, Check: CheckReservation,
			Message: "no position limit configured for " + symbol}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Reservation)
	defer cancel()
	start := time.Now()
	token, err := c.reserver.Reserve(ctx, symbol, delta, limit)
	monitoring.ObserveCheck(string(CheckReservation), time.Since(start))

	if err != nil {
		rej := failure(ctx, CheckReservation, err)
		if token.ID != "" {
			// the script may have run before the reply was lost
			c.rollback(ctx, token, "reservation outcome unknown")
		}
		return reservation.Token{}, rej
	}
	return token, nil
}

func (c *Checker) checkStatic(ctx context.Context, candidate types.OrderCandidate) *Rejection {
	if c.limits == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Static)
	defer cancel()
	start := time.Now()
	done := make(chan safety.ValidationResult, 1)
	go func() { done <- c.limits.Check(candidate) }()

	select {
	case r := <-done:
		monitoring.ObserveCheck(string(CheckStatic), time.Since(start))
		if r.Valid {
			return nil
		}
		return &Rejection{Reason: Reason(r.Code), Check: CheckStatic, Message: r.Message}
	case <-ctx.Done():
		monitoring.ObserveCheck(string(CheckStatic), time.Since(start))
		return &Rejection{Reason: ReasonTimeout, Check: CheckStatic, Message: "static limits timed out", Err: ctx.Err()}
	}
}

// failure maps a collaborator error to a rejection. Deadline expiry wins over
// whatever error the collaborator reported.
func failure(ctx context.Context, check Check, err error) *Rejection {
	reason := ReasonStateUnavailable
	switch {
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = ReasonTimeout
	default:
		switch gateerrors.CategoryOf(err) {
		case gateerrors.ErrorCategoryTimeout:
			reason = ReasonTimeout
		case gateerrors.ErrorCategoryLimitExceeded:
			reason = ReasonLimitExceeded
		case gateerrors.ErrorCategoryValidation:
			reason = ReasonInvalidOrder
		}
	}
	return &Rejection{Reason: reason, Check: check, Message: err.Error(), Err: err}
}

// rollback releases a reservation on a context that outlives the decision.
func (c *Checker) rollback(ctx context.Context, token reservation.Token, why string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
	defer cancel()
	if _, err := c.reserver.Release(ctx, token); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{"symbol": token.Symbol, "token": token.ID}).
			Error("failed to release reservation; it will expire at " + token.ExpiresAt.Format(time.RFC3339))
		return
	}
	c.log.WithFields(logrus.Fields{"symbol": token.Symbol, "token": token.ID}).Debug("reservation released: " + why)
}

func (c *Checker) reject(ctx context.Context, candidate types.OrderCandidate, id orderid.ClientOrderID, rej *Rejection) error {
	rej.ClientOrderID = id
	monitoring.RecordDecision("rejected", string(rej.Reason))

	fields := logrus.Fields{
		"reason":          rej.Reason,
		"check":           rej.Check,
		"symbol":          candidate.NormalizedSymbol(),
		"side":            candidate.Side,
		"quantity":        candidate.Quantity.String(),
		"strategy":        candidate.StrategyID,
		"client_order_id": id,
	}
	switch rej.Reason {
	case ReasonKillSwitchEngaged:
		logger.Critical(c.log, fields, "order rejected: "+rej.Message)
	case ReasonLimitExceeded:
		c.log.WithFields(fields).Info("order rejected: " + rej.Message)
	default:
		c.log.WithFields(fields).Warn("order rejected: " + rej.Message)
	}

	err := c.audit.Append(context.WithoutCancel(ctx), audit.Record{
		Time:    c.now().UTC(),
		Kind:    audit.KindRejection,
		Action:  string(rej.Reason),
		Actor:   candidate.StrategyID,
		Reason:  rej.Message,
		Symbol:  candidate.NormalizedSymbol(),
		OrderID: string(id),
		Detail:  map[string]interface{}{"check": string(rej.Check)},
	})
	if err != nil {
		c.log.WithError(err).Error("failed to audit rejection")
	}
	return rej
}

// Commit confirms the reservation of an executed order.
func (c *Checker) Commit(ctx context.Context, token reservation.Token) error {
	delta, err := c.reserver.Commit(ctx, token)
	c.auditReservation(ctx, "commit", token, delta, err)
	return err
}

// Release returns the reservation of an order that will not execute.
func (c *Checker) Release(ctx context.Context, token reservation.Token) error {
	delta, err := c.reserver.Release(ctx, token)
	c.auditReservation(ctx, "release", token, delta, err)
	return err
}

// delta is the quantity the store held for the token, not the caller's copy.
func (c *Checker) auditReservation(ctx context.Context, action string, token reservation.Token, delta int64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = err.Error()
		c.log.WithError(err).WithFields(logrus.Fields{"symbol": token.Symbol, "token": token.ID}).Warn("reservation " + action + " failed")
	}
	if appendErr := c.audit.Append(context.WithoutCancel(ctx), audit.Record{
		Time:   c.now().UTC(),
		Kind:   audit.KindReservation,
		Action: action,
		Reason: outcome,
		Symbol: token.Symbol,
		Detail: map[string]interface{}{"token": token.ID, "delta": delta},
	}); appendErr != nil {
		c.log.WithError(appendErr).Error("failed to audit reservation " + action)
	}
}
