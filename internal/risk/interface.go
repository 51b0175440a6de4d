package risk

import (
	"context"

	"github.com/ducminhle1904/risk-gate/internal/breaker"
	"github.com/ducminhle1904/risk-gate/internal/reservation"
	"github.com/ducminhle1904/risk-gate/internal/safety"
	"github.com/ducminhle1904/risk-gate/pkg/types"
)

// Gate is the contract execution layers depend on.
type Gate interface {
	// ValidateOrder admits or rejects an order. A non-nil error is always a *Rejection.
	ValidateOrder(ctx context.Context, candidate types.OrderCandidate) (*Approval, error)

	// Commit confirms the reservation of an executed order.
	Commit(ctx context.Context, token reservation.Token) error

	// Release returns the reservation of an order that will not execute.
	Release(ctx context.Context, token reservation.Token) error
}

// KillSwitch is the read side of the kill switch.
type KillSwitch interface {
	IsEngaged(ctx context.Context) (bool, error)
}

// Breaker is the read side of the circuit breaker.
type Breaker interface {
	GetState(ctx context.Context) (breaker.State, error)
}

// Reserver holds per-symbol exposure.
type Reserver interface {
	Reserve(ctx context.Context, symbol string, delta, limit int64) (reservation.Token, error)
	Commit(ctx context.Context, token reservation.Token) (int64, error)
	Release(ctx context.Context, token reservation.Token) (int64, error)
}

// StaticLimits are the order-local limits evaluated last.
type StaticLimits interface {
	Check(candidate types.OrderCandidate) safety.ValidationResult
}

// KillSwitchBinding is how a Checker is wired to the kill switch. The only
// implementations come from WithKillSwitch and LegacyWithoutKillSwitch.
type KillSwitchBinding interface {
	killSwitch() (KillSwitch, bool)
}

type boundKillSwitch struct{ ks KillSwitch }

func (b boundKillSwitch) killSwitch() (KillSwitch, bool) { return b.ks, b.ks != nil }

type legacyBinding struct{}

func (legacyBinding) killSwitch() (KillSwitch, bool) { return nil, false }

// WithKillSwitch binds the checker to ks.
func WithKillSwitch(ks KillSwitch) KillSwitchBinding {
	return boundKillSwitch{ks: ks}
}

// LegacyWithoutKillSwitch runs the checker without a kill switch. Every
// decision logs a warning.
func LegacyWithoutKillSwitch() KillSwitchBinding {
	return legacyBinding{}
}
