// Package killswitch implements the global, persisted, fail-closed trading halt.
//
// The switch lives in the shared coordination store so that every gate
// instance observes the same value. A read of a missing or unreachable record
// is an error; it is never interpreted as "not engaged".
package killswitch

import (
	"context"
	"strings"
	"time"

	"github.com/ducminhle1904/risk-gate/internal/audit"
	"github.com/ducminhle1904/risk-gate/internal/confirm"
	gateerrors "github.com/ducminhle1904/risk-gate/internal/errors"
	"github.com/ducminhle1904/risk-gate/internal/monitoring"
	"github.com/ducminhle1904/risk-gate/internal/state"
)

const (
	component = "killswitch"

	// DefaultKey is the store key of the kill switch record.
	DefaultKey = "riskgate:kill_switch"

	// ResumeAction and ResumePhrase form the confirmation contract for Disengage.
	ResumeAction = "kill_switch.disengage"
	ResumePhrase = "RESUME TRADING"
)

// State is the persisted kill switch record.
type State struct {
	Engaged   bool      `json:"engaged"`
	Operator  string    `json:"operator"`
	Reason    string    `json:"reason"`
	EngagedAt time.Time `json:"engaged_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Options wires the side channels of the switch.
type Options struct {
	Key      string
	Reporter audit.Reporter
	Clock    func() time.Time
}

// Switch is the kill switch.
type Switch struct {
	record   *state.Record[State]
	reporter audit.Reporter
	now      func() time.Time
}

// New creates a kill switch over store.
func New(store state.Store, opts Options) *Switch {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Switch{
		record:   state.NewRecord[State](store, opts.Key, component),
		reporter: opts.Reporter,
		now:      opts.Clock,
	}
}

// Confirm turns the phrase typed by an operator into a resume token.
func Confirm(typed string) (confirm.Token, error) {
	return confirm.Check(ResumeAction, ResumePhrase, typed)
}

// Initialize creates a disengaged record if none exists.
func (s *Switch) Initialize(ctx context.Context) (bool, error) {
	return s.record.Initialize(ctx, State{UpdatedAt: s.now().UTC()})
}

// IsEngaged reads the switch. When err is non-nil the returned flag is true so
// that a caller ignoring the error still halts.
func (s *Switch) IsEngaged(ctx context.Context) (bool, error) {
	st, _, err := s.record.Load(ctx)
	if err != nil {
		return true, err
	}
	monitoring.UpdateKillSwitch(st.Engaged)
	return st.Engaged, nil
}

// Status returns the full record.
func (s *Switch) Status(ctx context.Context) (State, error) {
	st, _, err := s.record.Load(ctx)
	return st, err
}

// Engage halts trading. Engaging an engaged switch updates reason and operator.
// A missing record is created engaged: halting must not depend on prior setup.
func (s *Switch) Engage(ctx context.Context, reason, operator string) error {
	reason, operator = strings.TrimSpace(reason), strings.TrimSpace(operator)
	if reason == "" || operator == "" {
		return gateerrors.NewValidationError(component, "Engage", "reason and operator are required")
	}

	now := s.now().UTC()
	var previous State
	_, err := s.record.Upsert(ctx, func(cur State, _ bool) (State, bool, error) {
		previous = cur
		next := State{Engaged: true, Operator: operator, Reason: reason, EngagedAt: now, UpdatedAt: now}
		if cur.Engaged && !cur.EngagedAt.IsZero() {
			next.EngagedAt = cur.EngagedAt
		}
		return next, true, nil
	})
	if err != nil {
		return err
	}

	action := "engage"
	if previous.Engaged {
		action = "re-engage"
	}
	monitoring.UpdateKillSwitch(true)
	s.reporter.Transition(ctx, audit.Record{
		Time: now, Kind: audit.KindKillSwitch, Action: action, Actor: operator, Reason: reason,
	})
	return nil
}

// Disengage resumes trading. The token must come from Confirm.
func (s *Switch) Disengage(ctx context.Context, token confirm.Token, operator string) error {
	if !token.For(ResumeAction) {
		return gateerrors.NewConfirmationError(component, "Disengage", "a resume confirmation is required")
	}
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return gateerrors.NewValidationError(component, "Disengage", "operator is required")
	}

	now := s.now().UTC()
	var previous State
	_, err := s.record.Update(ctx, func(cur State) (State, bool, error) {
		previous = cur
		if !cur.Engaged {
			return cur, false, nil
		}
		return State{Engaged: false, Operator: operator, Reason: "disengaged after confirmation", UpdatedAt: now}, true, nil
	})
	if err != nil {
		return err
	}
	if !previous.Engaged {
		return nil
	}

	monitoring.UpdateKillSwitch(false)
	s.reporter.Transition(ctx, audit.Record{
		Time: now, Kind: audit.KindKillSwitch, Action: "disengage", Actor: operator,
		Reason: "resumed after confirmation",
		Detail: map[string]interface{}{"engaged_reason": previous.Reason, "engaged_by": previous.Operator},
	})
	return nil
}
