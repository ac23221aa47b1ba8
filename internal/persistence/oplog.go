// Package persistence writes the exchange's operation log and state
// snapshots to Postgres. The operation log is an append-only audit trail;
// snapshots are the recovery source of truth.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// OperationRow represents a row in perp_exchange.operations.
type OperationRow struct {
	OpType    string
	Market    string
	Account   string
	Payload   []byte // JSON-encoded operation result
	CreatedAt time.Time
}

// OpLogWriter batch-writes operation rows using multi-row INSERT. COPY
// would be faster; multi-row INSERT keeps lib/pq enough.
type OpLogWriter struct {
	db *sql.DB
}

func NewOpLogWriter(db *sql.DB) *OpLogWriter {
	return &OpLogWriter{db: db}
}

// WriteBatch writes rows inside the given transaction.
func (w *OpLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []OperationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO perp_exchange.operations
		(op_type, market, account, payload, created_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*5)
	for i, r := range rows {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, r.OpType, r.Market, r.Account, r.Payload, r.CreatedAt)
	}
	query += strings.Join(values, ", ")

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
