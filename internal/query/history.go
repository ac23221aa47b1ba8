package query

import (
	"context"
	"fmt"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// OperationHistory returns operation-log rows, newest first, optionally
// filtered by market and account. Pagination is cursor-based: pass the
// smallest id of the previous page as beforeID to fetch the next one.
func (s *Service) OperationHistory(
	ctx context.Context,
	market, account string,
	limit int,
	beforeID *int64,
) ([]OperationEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := `
		SELECT id, op_type, market, account, payload, created_at
		FROM perp_exchange.operations
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if market != "" {
		query += fmt.Sprintf(" AND market = $%d", argIdx)
		args = append(args, market)
		argIdx++
	}
	if account != "" {
		query += fmt.Sprintf(" AND account = $%d", argIdx)
		args = append(args, account)
		argIdx++
	}
	if beforeID != nil {
		query += fmt.Sprintf(" AND id < $%d", argIdx)
		args = append(args, *beforeID)
		argIdx++
	}

	query += " ORDER BY id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var entries []OperationEntry
	for rows.Next() {
		var e OperationEntry
		if err := rows.Scan(&e.ID, &e.OpType, &e.Market, &e.Account, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
