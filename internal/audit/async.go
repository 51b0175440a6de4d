package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/risk-gate/internal/logger"
	"github.com/ducminhle1904/risk-gate/internal/monitoring"
)

// ErrQueueFull is returned by Async.Append when the buffer is exhausted.
var ErrQueueFull = errors.New("audit queue full")

// Async moves appends off the decision path. Records are written in order by
// one worker; Close drains the queue.
type Async struct {
	sink    Sink
	queue   chan Record
	log     logrus.FieldLogger
	timeout time.Duration
	wg      sync.WaitGroup
	once    sync.Once
}

// NewAsync starts a worker writing to sink.
func NewAsync(sink Sink, buffer int, log logrus.FieldLogger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{
		sink:    sink,
		queue:   make(chan Record, buffer),
		log:     logger.OrDiscard(log),
		timeout: 5 * time.Second,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Append enqueues rec without blocking.
func (a *Async) Append(_ context.Context, rec Record) error {
	select {
	case a.queue <- stamp(rec):
		return nil
	default:
		monitoring.RecordError("audit_queue_full")
		a.log.WithFields(logrus.Fields{"kind": rec.Kind, "action": rec.Action}).Error("audit queue full, record dropped")
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer a.wg.Done()
	for rec := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.sink.Append(ctx, rec); err != nil {
			monitoring.RecordError("audit_append")
			a.log.WithError(err).WithField("kind", rec.Kind).Error("audit append failed")
		}
		cancel()
	}
}

// Close stops accepting records and waits for the queue to drain.
func (a *Async) Close() error {
	a.once.Do(func() { close(a.queue) })
	a.wg.Wait()
	return nil
}
