package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/ducminhle1904/risk-gate/internal/breaker"
	"github.com/ducminhle1904/risk-gate/internal/killswitch"
	"github.com/ducminhle1904/risk-gate/internal/reservation"
	"github.com/ducminhle1904/risk-gate/internal/risk"
	"github.com/ducminhle1904/risk-gate/pkg/types"
)

type decisionResponse struct {
	Approved      bool       `json:"approved"`
	ClientOrderID string     `json:"client_order_id,omitempty"`
	Token         string     `json:"token,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	LatencyMicros int64      `json:"latency_us,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Check         string     `json:"check,omitempty"`
	Message       string     `json:"message,omitempty"`
}

// handleValidate answers 200 for approvals, 422 for rejections and 503 when
// the decision failed closed.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var candidate types.OrderCandidate
	if !decode(w, r, &candidate) {
		return
	}

	approval, err := s.deps.Gate.ValidateOrder(r.Context(), candidate)
	if err != nil {
		var rej *risk.Rejection
		if !stderrors.As(err, &rej) {
			s.fail(w, "validate", err)
			return
		}
		status := http.StatusUnprocessableEntity
		if rej.Reason == risk.ReasonStateUnavailable || rej.Reason == risk.ReasonTimeout {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, decisionResponse{
			ClientOrderID: string(rej.ClientOrderID),
			Reason:        string(rej.Reason),
			Check:         string(rej.Check),
			Message:       rej.Message,
		})
		return
	}

	expires := approval.Token.ExpiresAt
	writeJSON(w, http.StatusOK, decisionResponse{
		Approved:      true,
		ClientOrderID: string(approval.ClientOrderID),
		Token:         approval.Token.String(),
		ExpiresAt:     &expires,
		LatencyMicros: approval.Latency.Microseconds(),
	})
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	s.handleToken(w, r, "commit", "committed", s.deps.Gate.Commit)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	s.handleToken(w, r, "release", "released", s.deps.Gate.Release)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request, op, done string,
	apply func(context.Context, reservation.Token) error) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	token, err := reservation.ParseToken(strings.TrimSpace(req.Token))
	if err != nil {
		s.fail(w, op, err)
		return
	}
	if err := apply(r.Context(), token); err != nil {
		s.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": done, "token": token.String()})
}

type observationRequest struct {
	LossPct    float64 `json:"loss_pct"`
	Volatility float64 `json:"volatility"`
}

func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	var req observationRequest
	if !decode(w, r, &req) {
		return
	}
	state, err := s.deps.Breaker.Evaluate(r.Context(), breaker.Observation{LossPct: req.LossPct, Volatility: req.Volatility})
	if err != nil {
		s.fail(w, "observe", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
}

type engageRequest struct {
	Reason   string `json:"reason"`
	Operator string `json:"operator"`
}

// handleEngage halts trading. Resuming needs the typed confirmation and is
// only available from the operator CLI.
func (s *Server) handleEngage(w http.ResponseWriter, r *http.Request) {
	var req engageRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.deps.KillSwitch.Engage(r.Context(), req.Reason, req.Operator); err != nil {
		s.fail(w, "engage", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "engaged"})
}

type stateResponse struct {
	KillSwitch      *killswitch.State      `json:"kill_switch,omitempty"`
	KillSwitchError string                 `json:"kill_switch_error,omitempty"`
	Breaker         *breaker.Record        `json:"breaker,omitempty"`
	BreakerError    string                 `json:"breaker_error,omitempty"`
	Reservations    []reservation.Snapshot `json:"reservations"`
	ReservationsErr string                 `json:"reservations_error,omitempty"`
}

// handleState reports 503 when either halt flag is unreadable, since the gate
// is rejecting every order in that case.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := stateResponse{Reservations: []reservation.Snapshot{}}
	status := http.StatusOK

	if ks, err := s.deps.KillSwitch.Status(ctx); err != nil {
		resp.KillSwitchError = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp.KillSwitch = &ks
	}

	if br, err := s.deps.Breaker.Status(ctx); err != nil {
		resp.BreakerError = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp.Breaker = &br
	}

	if s.deps.Reservations != nil {
		if err := s.collectReservations(ctx, &resp); err != nil {
			resp.ReservationsErr = err.Error()
		}
	}

	writeJSON(w, status, resp)
}

func (s *Server) collectReservations(ctx context.Context, resp *stateResponse) error {
	symbols, err := s.deps.Reservations.Symbols(ctx)
	if err != nil {
		return err
	}
	for _, symbol := range symbols {
		snap, err := s.deps.Reservations.Snapshot(ctx, symbol)
		if err != nil {
			return err
		}
		resp.Reservations = append(resp.Reservations, snap)
	}
	return nil
}
