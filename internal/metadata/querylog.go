package metadata

import (
	"context"
	"fmt"
)

// InsertQueryLog appends a query log row. Every query outcome is logged,
// including blocked and errored queries.
func (s *Store) InsertQueryLog(ctx context.Context, log QueryLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_logs (query_text, timestamp, execution_time) VALUES (?, ?, ?)`,
		log.QueryText, log.Timestamp.UTC(), log.ExecutionTime)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RecentQueryLogs returns the most recent query log rows, newest first.
func (s *Store) RecentQueryLogs(ctx context.Context, limit int) ([]QueryLog, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT query_id, query_text, timestamp, execution_time FROM query_logs ORDER BY query_id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var logs []QueryLog
	for rows.Next() {
		var l QueryLog
		if err := rows.Scan(&l.ID, &l.QueryText, &l.Timestamp, &l.ExecutionTime); err != nil {
			return nil, fmt.Errorf("scanning query log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
