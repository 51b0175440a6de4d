package risk

import (
	"fmt"
	"time"

	"github.com/ducminhle1904/risk-gate/internal/orderid"
	"github.com/ducminhle1904/risk-gate/internal/reservation"
	"github.com/ducminhle1904/risk-gate/internal/safety"
	"github.com/ducminhle1904/risk-gate/pkg/types"
)

// Reason is the stable code of a rejection.
type Reason string

const (
	ReasonKillSwitchEngaged   Reason = "kill_switch_engaged"
	ReasonBreakerOpen         Reason = "breaker_open"
	ReasonLimitExceeded       Reason = "limit_exceeded"
	ReasonStateUnavailable    Reason = "state_unavailable"
	ReasonTimeout             Reason = "timeout"
	ReasonInvalidOrder        Reason = Reason(safety.CodeInvalidOrder)
	ReasonMaxNotionalExceeded Reason = Reason(safety.CodeMaxNotionalExceeded)
	ReasonSymbolBlacklisted   Reason = Reason(safety.CodeSymbolBlacklisted)
	ReasonRateLimited         Reason = Reason(safety.CodeRateLimited)
	ReasonInvalidPrice        Reason = Reason(safety.CodeInvalidPrice)
	ReasonInvalidQuantity     Reason = Reason(safety.CodeInvalidQuantity)
)

// Check names the stage of ValidateOrder that produced a decision.
type Check string

const (
	CheckInput       Check = "input"
	CheckKillSwitch  Check = "kill_switch"
	CheckBreaker     Check = "breaker"
	CheckReservation Check = "reservation"
	CheckStatic      Check = "static"
)

// Rejection is the error returned by ValidateOrder.
type Rejection struct {
	Reason        Reason                `json:"reason"`
	Check         Check                 `json:"check"`
	Message       string                `json:"message"`
	ClientOrderID orderid.ClientOrderID `json:"client_order_id,omitempty"`
	Err           error                 `json:"-"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("order rejected (%s at %s): %s", r.Reason, r.Check, r.Message)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Approval is returned for admitted orders. The caller owns Token and must
// commit or release it.
type Approval struct {
	ClientOrderID orderid.ClientOrderID `json:"client_order_id"`
	Token         reservation.Token     `json:"token"`
	Candidate     types.OrderCandidate  `json:"candidate"`
	ApprovedAt    time.Time             `json:"approved_at"`
	Latency       time.Duration         `json:"latency"`
}
