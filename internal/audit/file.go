package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// FileSink writes one JSON object per line to an append-only file.
type FileSink struct {
	log    *logrus.Logger
	closer io.Closer
}

// NewFileSink opens path in append mode.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return newWriterSink(file, file), nil
}

func newWriterSink(w io.Writer, closer io.Closer) *FileSink {
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap:        logrus.FieldMap{logrus.FieldKeyMsg: "kind"},
	})
	return &FileSink{log: log, closer: closer}
}

func (s *FileSink) Append(_ context.Context, rec Record) error {
	rec = stamp(rec)
	fields := logrus.Fields{
		"action": rec.Action,
		"actor":  rec.Actor,
		"reason": rec.Reason,
	}
	if rec.Symbol != "" {
		fields["symbol"] = rec.Symbol
	}
	if rec.OrderID != "" {
		fields["order_id"] = rec.OrderID
	}
	if len(rec.Detail) > 0 {
		fields["detail"] = rec.Detail
	}
	s.log.WithFields(fields).WithTime(rec.Time).Info(string(rec.Kind))
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
