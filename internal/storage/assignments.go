package storage

import (
	"context"
	"database/sql"
	"errors"
)

// AssignUnassigned binds up to limit reserve links (lowest id first) to an
// active session. Links already bound elsewhere are skipped. It returns the
// number of links actually bound.
func (s *Store) AssignUnassigned(ctx context.Context, sessionID int64, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if ok, err := sessionActive(ctx, tx, sessionID); err != nil {
		return 0, err
	} else if !ok {
		return 0, ErrNotFound
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO assignments(link_id, session_id, join_status, join_attempts, assigned_at)
		 SELECT l.id, ?, ?, 0, ? FROM links l
		 WHERE l.status = ? AND NOT EXISTS (SELECT 1 FROM assignments a WHERE a.link_id = l.id)
		 ORDER BY l.id ASC LIMIT ?`,
		sessionID, JoinPending, s.stamp(), LinkActive, limit,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// AssignedCount counts every assignment held by a session, settled or not.
// Capacity is a lifetime quota per session.
func (s *Store) AssignedCount(ctx context.Context, sessionID int64) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM assignments WHERE session_id = ?`, sessionID)
}

// PendingAssignments returns up to limit unsettled, active links of a session,
// lowest id first.
func (s *Store) PendingAssignments(ctx context.Context, sessionID int64, limit int) ([]Link, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.value FROM assignments a
		 JOIN links l ON l.id = a.link_id
		 WHERE a.session_id = ? AND a.join_status = ? AND l.status = ?
		 ORDER BY l.id ASC LIMIT ?`,
		sessionID, JoinPending, LinkActive, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.Value); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetAssignment returns the assignment of a link. Cycles never need it; it
// is a lookup for tests and manual inspection.
func (s *Store) GetAssignment(ctx context.Context, linkID int64) (Assignment, error) {
	var a Assignment
	var lastErr, assigned, joined sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT link_id, session_id, join_status, join_attempts, last_error, assigned_at, joined_at
		 FROM assignments WHERE link_id = ?`, linkID,
	).Scan(&a.LinkID, &a.SessionID, &a.JoinStatus, &a.Attempts, &lastErr, &assigned, &joined)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, ErrNotFound
	}
	if err != nil {
		return Assignment{}, err
	}
	a.LastError = lastErr.String
	a.AssignedAt = parseTime(assigned)
	a.JoinedAt = parseTime(joined)
	return a, nil
}

// SettleSuccess marks the assignment joined.
func (s *Store) SettleSuccess(ctx context.Context, sessionID, linkID int64) error {
	now := s.stamp()
	return s.settle(ctx,
		`UPDATE assignments SET join_status = ?, joined_at = ?, last_error = NULL
		 WHERE session_id = ? AND link_id = ?`,
		JoinSuccess, now, sessionID, linkID,
	)
}

// SettleFailed marks the assignment failed and records the error.
func (s *Store) SettleFailed(ctx context.Context, sessionID, linkID int64, errText string) error {
	return s.settle(ctx,
		`UPDATE assignments SET join_status = ?, join_attempts = join_attempts + 1, last_error = ?
		 WHERE session_id = ? AND link_id = ?`,
		JoinFailed, nullStr(truncateText(errText)), sessionID, linkID,
	)
}

// SettleRequested marks the assignment as a pending join request.
func (s *Store) SettleRequested(ctx context.Context, sessionID, linkID int64, note string) error {
	return s.settle(ctx,
		`UPDATE assignments SET join_status = ?, join_attempts = join_attempts + 1, last_error = ?
		 WHERE session_id = ? AND link_id = ?`,
		JoinRequested, nullStr(truncateText(note)), sessionID, linkID,
	)
}

// BumpAttempt records a transient failure without changing the status.
func (s *Store) BumpAttempt(ctx context.Context, sessionID, linkID int64, errText string) error {
	return s.settle(ctx,
		`UPDATE assignments SET join_attempts = join_attempts + 1, last_error = ?
		 WHERE session_id = ? AND link_id = ?`,
		nullStr(truncateText(errText)), sessionID, linkID,
	)
}

func (s *Store) settle(ctx context.Context, query string, args ...any) error {
	if s.closed.Load() {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAssignmentGone
	}
	return nil
}

// ReplaceDeadAssignment tombstones a link, drops the session's assignment of
// it and binds the lowest reserve link to the same session, all in one
// transaction. ok is false when the reserve is empty or the session is no
// longer active; the tombstone is committed either way. When the session no
// longer holds the link nothing changes and ErrAssignmentGone is returned,
// leaving the current holder to find out for itself.
func (s *Store) ReplaceDeadAssignment(ctx context.Context, sessionID, linkID int64, reason string) (Link, bool, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return Link{}, false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM assignments WHERE link_id = ? AND session_id = ?`, linkID, sessionID)
	if err != nil {
		return Link{}, false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return Link{}, false, err
	} else if n == 0 {
		return Link{}, false, ErrAssignmentGone
	}

	now := s.stamp()
	res, err = tx.ExecContext(ctx,
		`UPDATE links SET status = ?, dead_reason = ?, last_checked_at = ? WHERE id = ?`,
		LinkDead, nullStr(truncateText(reason)), now, linkID,
	)
	if err != nil {
		return Link{}, false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return Link{}, false, err
	} else if n == 0 {
		return Link{}, false, ErrNotFound
	}

	active, err := sessionActive(ctx, tx, sessionID)
	if err != nil {
		return Link{}, false, err
	}
	var repl Link
	replaced := false
	if active {
		l, ok, err := peekReserve(ctx, tx)
		if err != nil {
			return Link{}, false, err
		}
		if ok {
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO assignments(link_id, session_id, join_status, join_attempts, assigned_at)
				 VALUES(?,?,?,0,?)`,
				l.ID, sessionID, JoinPending, now,
			)
			if err != nil {
				return Link{}, false, err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return Link{}, false, err
			}
			repl, replaced = l, n > 0
		}
	}

	if err := tx.Commit(); err != nil {
		return Link{}, false, err
	}
	if !replaced {
		return Link{}, false, nil
	}
	return repl, true, nil
}

func sessionActive(ctx context.Context, tx *sql.Tx, sessionID int64) (bool, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == SessionActive, nil
}
