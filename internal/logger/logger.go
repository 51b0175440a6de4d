package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// SeverityField carries the operator-facing severity of an entry.
	SeverityField = "severity"
	// SeverityCritical is the highest severity that does not terminate the process.
	SeverityCritical = "CRITICAL"
)

// Options controls where and how much the gate logs.
type Options struct {
	Level   string
	Dir     string // empty disables the file sink
	Service string
	Stdout  bool
}

// New creates a JSON logger writing to stdout and to a dated file in Dir.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	var writers []io.Writer
	if opts.Stdout || opts.Dir == "" {
		writers = append(writers, os.Stdout)
	}

	var closer io.Closer = nopCloser{}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		service := opts.Service
		if service == "" {
			service = "riskgate"
		}
		filename := fmt.Sprintf("%s_%s.log", service, time.Now().UTC().Format("2006-01-02"))
		file, err := os.OpenFile(filepath.Join(opts.Dir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
		closer = file
	}

	log.SetOutput(io.MultiWriter(writers...))
	return log, closer, nil
}

// Critical logs at the highest severity and marks the entry for paging.
func Critical(log logrus.FieldLogger, fields logrus.Fields, msg string) {
	if log == nil {
		return
	}
	entry := log.WithFields(fields).WithFields(logrus.Fields{
		SeverityField: SeverityCritical,
		"page":        true,
	})
	entry.Error(msg)
}

// OrDiscard returns log, or a logger that drops everything when log is nil.
func OrDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log != nil {
		return log
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
