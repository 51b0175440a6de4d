package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/risk-gate/internal/logger"
	"github.com/ducminhle1904/risk-gate/internal/notifications"
)

// Reporter publishes halt-flag transitions to the critical log channel, the
// audit sink and the operator pager. The log line is always written, even when
// the sink or the pager fails.
type Reporter struct {
	Log      logrus.FieldLogger
	Sink     Sink
	Notifier notifications.Notifier
}

// Transition reports one state change.
func (r Reporter) Transition(ctx context.Context, rec Record) {
	rec = stamp(rec)
	log := logger.OrDiscard(r.Log)

	fields := logrus.Fields{
		"kind":      rec.Kind,
		"action":    rec.Action,
		"operator":  rec.Actor,
		"reason":    rec.Reason,
		"timestamp": rec.Time.Format(time.RFC3339Nano),
	}
	for k, v := range rec.Detail {
		fields[k] = v
	}
	logger.Critical(log, fields, fmt.Sprintf("%s %s", rec.Kind, rec.Action))

	if r.Sink != nil {
		if err := r.Sink.Append(ctx, rec); err != nil {
			log.WithError(err).WithField("kind", rec.Kind).Error("audit append failed")
		}
	}

	if r.Notifier != nil {
		msg := fmt.Sprintf("%s %s by %s at %s\nReason: %s",
			rec.Kind, rec.Action, rec.Actor, rec.Time.Format(time.RFC3339), rec.Reason)
		if err := r.Notifier.SendAlert(ctx, notifications.LevelCritical, msg); err != nil {
			log.WithError(err).WithField("kind", rec.Kind).Error("operator page failed")
		}
	}
}
