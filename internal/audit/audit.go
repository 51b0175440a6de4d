// Package audit records every kill-switch and breaker transition and every
// gate decision to append-only sinks.
package audit

import (
	"context"
	"errors"
	"time"
)

// Kind classifies audit records.
type Kind string

const (
	KindKillSwitch  Kind = "kill_switch"
	KindBreaker     Kind = "breaker"
	KindRejection   Kind = "rejection"
	KindApproval    Kind = "approval"
	KindReservation Kind = "reservation"
)

// Record is one append-only audit entry.
type Record struct {
	Time    time.Time              `json:"time"`
	Kind    Kind                   `json:"kind"`
	Action  string                 `json:"action"`
	Actor   string                 `json:"actor"`
	Reason  string                 `json:"reason"`
	Symbol  string                 `json:"symbol,omitempty"`
	OrderID string                 `json:"order_id,omitempty"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
}

// Sink appends audit records. Implementations never update or delete.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// Multi fans a record out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Append(ctx context.Context, rec Record) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops records.
type Discard struct{}

func (Discard) Append(context.Context, Record) error { return nil }

func stamp(rec Record) Record {
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	return rec
}
