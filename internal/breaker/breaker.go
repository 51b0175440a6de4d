// Package breaker implements the persisted, automated trading circuit breaker.
package breaker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ducminhle1904/risk-gate/internal/audit"
	"github.com/ducminhle1904/risk-gate/internal/confirm"
	gateerrors "github.com/ducminhle1904/risk-gate/internal/errors"
	"github.com/ducminhle1904/risk-gate/internal/monitoring"
	"github.com/ducminhle1904/risk-gate/internal/state"
)

const (
	component = "breaker"

	// DefaultKey is the store key of the breaker record.
	DefaultKey = "riskgate:breaker"

	ResetAction = "breaker.reset"
	ResetPhrase = "RESET BREAKER"

	// AutomatedOperator is the actor recorded for trigger-driven transitions.
	AutomatedOperator = "breaker-evaluator"
)

// State represents the state of the breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the breaker state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ParseState is the inverse of String.
func ParseState(s string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CLOSED":
		return StateClosed, nil
	case "OPEN":
		return StateOpen, nil
	case "HALF_OPEN":
		return StateHalfOpen, nil
	}
	return StateOpen, fmt.Errorf("unknown breaker state %q", s)
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Record is the persisted breaker state.
type Record struct {
	State         State     `json:"state"`
	Reason        string    `json:"reason"`
	Operator      string    `json:"operator"`
	Manual        bool      `json:"manual"`
	TrippedAt     time.Time `json:"tripped_at"`
	HealthyStreak int       `json:"healthy_streak"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Observation is one sample fed to the automated triggers.
type Observation struct {
	LossPct    float64 `json:"loss_pct"`
	Volatility float64 `json:"volatility"`
}

// Config holds the trigger thresholds.
type Config struct {
	Key                 string
	LossThresholdPct    float64       // drawdown in percent that trips the breaker
	VolatilityThreshold float64       // realized volatility that trips the breaker
	CoolDown            time.Duration // OPEN time before probation
	HealthyEvaluations  int           // healthy observations to close from HALF_OPEN
}

// Breaker is the circuit breaker.
type Breaker struct {
	config   Config
	record   *state.Record[Record]
	reporter audit.Reporter
	now      func() time.Time
}

// New creates a breaker over store.
func New(store state.Store, config Config, reporter audit.Reporter, clock func() time.Time) *Breaker {
	// Set defaults if not provided
	if config.Key == "" {
		config.Key = DefaultKey
	}
	if config.LossThresholdPct <= 0 {
		config.LossThresholdPct = 3.0
	}
	if config.VolatilityThreshold <= 0 {
		config.VolatilityThreshold = 0.05
	}
	if config.CoolDown <= 0 {
		config.CoolDown = 5 * time.Minute
	}
	if config.HealthyEvaluations <= 0 {
		config.HealthyEvaluations = 3
	}
	if clock == nil {
		clock = time.Now
	}

	return &Breaker{
		config:   config,
		record:   state.NewRecord[Record](store, config.Key, component),
		reporter: reporter,
		now:      clock,
	}
}

// Config returns the effective configuration.
func (b *Breaker) Config() Config {
	return b.config
}

// Confirm turns the phrase typed by an operator into a reset token.
func Confirm(typed string) (confirm.Token, error) {
	return confirm.Check(ResetAction, ResetPhrase, typed)
}

// Initialize creates a CLOSED record if none exists.
func (b *Breaker) Initialize(ctx context.Context) (bool, error) {
	return b.record.Initialize(ctx, Record{State: StateClosed, UpdatedAt: b.now().UTC()})
}

// GetState returns the persisted state. A missing record is an error, not CLOSED.
func (b *Breaker) GetState(ctx context.Context) (State, error) {
	rec, err := b.Status(ctx)
	if err != nil {
		return StateOpen, err
	}
	return rec.State, nil
}

// Status returns the full record.
func (b *Breaker) Status(ctx context.Context) (Record, error) {
	rec, _, err := b.record.Load(ctx)
	if err != nil {
		return Record{State: StateOpen}, err
	}
	monitoring.UpdateBreakerState(float64(rec.State))
	return rec, nil
}

// Trip opens the breaker manually. A manual trip stays OPEN until Reset.
func (b *Breaker) Trip(ctx context.Context, reason, operator string) error {
	reason, operator = strings.TrimSpace(reason), strings.TrimSpace(operator)
	if reason == "" || operator == "" {
		return gateerrors.NewValidationError(component, "Trip", "reason and operator are required")
	}

	now := b.now().UTC()
	var from State
	_, err := b.record.Upsert(ctx, func(cur Record, exists bool) (Record, bool, error) {
		from = cur.State
		if !exists {
			from = StateClosed
		}
		next := Record{State: StateOpen, Reason: reason, Operator: operator, Manual: true, TrippedAt: now, UpdatedAt: now}
		if cur.State == StateOpen && exists {
			next.TrippedAt = cur.TrippedAt
		}
		return next, true, nil
	})
	if err != nil {
		return err
	}

	b.report(ctx, transition{from: from, to: StateOpen, action: "trip", actor: operator, reason: reason, at: now})
	return nil
}

// Reset closes the breaker. The token must come from Confirm.
func (b *Breaker) Reset(ctx context.Context, token confirm.Token, operator string) error {
	if !token.For(ResetAction) {
		return gateerrors.NewConfirmationError(component, "Reset", "a reset confirmation is required")
	}
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return gateerrors.NewValidationError(component, "Reset", "operator is required")
	}

	now := b.now().UTC()
	var from State
	_, err := b.record.Update(ctx, func(cur Record) (Record, bool, error) {
		from = cur.State
		if cur.State == StateClosed {
			return cur, false, nil
		}
		return Record{State: StateClosed, Reason: "reset after confirmation", Operator: operator, UpdatedAt: now}, true, nil
	})
	if err != nil {
		return err
	}
	if from == StateClosed {
		return nil
	}

	b.report(ctx, transition{from: from, to: StateClosed, action: "reset", actor: operator, reason: "reset after confirmation", at: now})
	return nil
}

// Evaluate feeds one observation to the automated triggers and returns the
// resulting state.
func (b *Breaker) Evaluate(ctx context.Context, obs Observation) (State, error) {
	now := b.now().UTC()
	var transitions []transition

	rec, err := b.record.Update(ctx, func(cur Record) (Record, bool, error) {
		transitions = transitions[:0]
		next, steps := b.step(cur, obs, now)
		transitions = append(transitions, steps...)
		return next, next != cur, nil
	})
	if err != nil {
		return StateOpen, err
	}

	for _, t := range transitions {
		b.report(ctx, t)
	}
	monitoring.UpdateBreakerState(float64(rec.State))
	return rec.State, nil
}

type transition struct {
	from, to State
	action   string
	actor    string
	reason   string
	at       time.Time
}

// step is the pure transition function used by Evaluate.
func (b *Breaker) step(cur Record, obs Observation, now time.Time) (Record, []transition) {
	var steps []transition
	next := cur

	if next.State == StateOpen && !next.Manual && now.Sub(next.TrippedAt) >= b.config.CoolDown {
		steps = append(steps, transition{from: StateOpen, to: StateHalfOpen, action: "probation",
			actor: AutomatedOperator, reason: "cool-down elapsed", at: now})
		next.State = StateHalfOpen
		next.HealthyStreak = 0
		next.Reason = "cool-down elapsed"
		next.Operator = AutomatedOperator
		next.UpdatedAt = now
	}

	breach := b.breach(obs)
	switch next.State {
	case StateClosed:
		if breach != "" {
			steps = append(steps, b.trip(&next, StateClosed, breach, now))
		}
	case StateHalfOpen:
		if breach != "" {
			steps = append(steps, b.trip(&next, StateHalfOpen, breach, now))
			break
		}
		next.HealthyStreak++
		next.UpdatedAt = now
		if next.HealthyStreak >= b.config.HealthyEvaluations {
			reason := fmt.Sprintf("%d consecutive healthy evaluations", next.HealthyStreak)
			steps = append(steps, transition{from: StateHalfOpen, to: StateClosed, action: "recover",
				actor: AutomatedOperator, reason: reason, at: now})
			next = Record{State: StateClosed, Reason: reason, Operator: AutomatedOperator, UpdatedAt: now}
		}
	}
	return next, steps
}

func (b *Breaker) trip(rec *Record, from State, reason string, now time.Time) transition {
	*rec = Record{State: StateOpen, Reason: reason, Operator: AutomatedOperator, TrippedAt: now, UpdatedAt: now}
	return transition{from: from, to: StateOpen, action: "trip", actor: AutomatedOperator, reason: reason, at: now}
}

func (b *Breaker) breach(obs Observation) string {
	if obs.LossPct >= b.config.LossThresholdPct {
		return fmt.Sprintf("loss %.2f%% breached threshold %.2f%%", obs.LossPct, b.config.LossThresholdPct)
	}
	if obs.Volatility >= b.config.VolatilityThreshold {
		return fmt.Sprintf("volatility %.4f breached threshold %.4f", obs.Volatility, b.config.VolatilityThreshold)
	}
	return ""
}

func (b *Breaker) report(ctx context.Context, t transition) {
	monitoring.UpdateBreakerState(float64(t.to))
	b.reporter.Transition(ctx, audit.Record{
		Time:   t.at,
		Kind:   audit.KindBreaker,
		Action: t.action,
		Actor:  t.actor,
		Reason: t.reason,
		Detail: map[string]interface{}{"from": t.from.String(), "to": t.to.String()},
	})
}
