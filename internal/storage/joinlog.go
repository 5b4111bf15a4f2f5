package storage

import (
	"context"
	"database/sql"
)

// AppendJoinLog records one join attempt.
func (s *Store) AppendJoinLog(ctx context.Context, e JoinLogEntry) error {
	if s.closed.Load() {
		return ErrClosed
	}
	at := s.stamp()
	if !e.CreatedAt.IsZero() {
		at = e.CreatedAt.UTC().Format(timeLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO join_log(run_id, session_id, link_value, status, error_message, created_at)
		 VALUES(?,?,?,?,?,?)`,
		e.RunID, e.SessionID, e.LinkValue, e.Status, nullStr(truncateText(e.Error)), at,
	)
	return err
}

// RecentJoinLog returns the newest entries first. An empty runID returns
// entries of every run.
func (s *Store) RecentJoinLog(ctx context.Context, runID string, limit int) ([]JoinLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, session_id, link_value, status, error_message, created_at FROM join_log
		 WHERE (? = '' OR run_id = ?)
		 ORDER BY id DESC LIMIT ?`,
		runID, runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JoinLogEntry
	for rows.Next() {
		var e JoinLogEntry
		var msg, created sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.SessionID, &e.LinkValue, &e.Status, &msg, &created); err != nil {
			return nil, err
		}
		e.Error = msg.String
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
