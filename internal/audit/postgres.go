package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

const defaultAuditTable = "risk_audit_log"

// PostgresSink inserts audit records into an INSERT-only table.
type PostgresSink struct {
	db    *sql.DB
	table string
}

// OpenPostgresSink connects with lib/pq.
func OpenPostgresSink(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return NewPostgresSink(db, defaultAuditTable), nil
}

// NewPostgresSink wraps an existing handle.
func NewPostgresSink(db *sql.DB, table string) *PostgresSink {
	if table == "" {
		table = defaultAuditTable
	}
	return &PostgresSink{db: db, table: table}
}

// EnsureSchema creates the audit table when it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL,
	kind TEXT NOT NULL,
	action TEXT NOT NULL,
	actor TEXT NOT NULL,
	reason TEXT NOT NULL,
	symbol TEXT,
	order_id TEXT,
	detail JSONB
)`, pq.QuoteIdentifier(s.table))
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *PostgresSink) Append(ctx context.Context, rec Record) error {
	rec = stamp(rec)

	var detail []byte
	if len(rec.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(rec.Detail); err != nil {
			return fmt.Errorf("encode audit detail: %w", err)
		}
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (recorded_at, kind, action, actor, reason, symbol, order_id, detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, pq.QuoteIdentifier(s.table))

	_, err := s.db.ExecContext(ctx, stmt,
		rec.Time, string(rec.Kind), rec.Action, rec.Actor, rec.Reason,
		nullString(rec.Symbol), nullString(rec.OrderID), nullBytes(detail))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return fmt.Errorf("append audit record (%s): %w", pqErr.Code.Name(), err)
		}
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullBytes(v []byte) interface{} {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}
