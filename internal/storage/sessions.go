package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// AddSession stores a new worker identity. Re-adding a removed credential
// reactivates it. created reports whether the session is newly usable; it is
// false when the credential is already active.
func (s *Store) AddSession(ctx context.Context, credential, phone string) (Session, bool, error) {
	credential = strings.TrimSpace(credential)
	phone = strings.TrimSpace(phone)
	if credential == "" {
		return Session{}, false, errors.New("storage: empty credential")
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return Session{}, false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions(credential, phone, status, created_at) VALUES(?,?,?,?)`,
		credential, phone, SessionActive, s.stamp(),
	)
	if err != nil {
		return Session{}, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return Session{}, false, err
	}

	created := inserted > 0
	if !created {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = ?, phone = CASE WHEN ? <> '' THEN ? ELSE phone END
			 WHERE credential = ? AND status = ?`,
			SessionActive, phone, phone, credential, SessionRemoved,
		)
		if err != nil {
			return Session{}, false, err
		}
		reactivated, err := res.RowsAffected()
		if err != nil {
			return Session{}, false, err
		}
		created = reactivated > 0
	}

	sess, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT id, credential, phone, status, created_at FROM sessions WHERE credential = ?`, credential))
	if err != nil {
		return Session{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Session{}, false, err
	}
	return sess, created, nil
}

// GetSession returns a session by id regardless of status.
func (s *Store) GetSession(ctx context.Context, id int64) (Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT id, credential, phone, status, created_at FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// ActiveSessions lists active sessions in ascending id order.
func (s *Store) ActiveSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, credential, phone, status, created_at FROM sessions WHERE status = ? ORDER BY id ASC`,
		SessionActive,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SoftRemoveSession marks a session removed and releases its pending
// assignments back to the reserve. Settled assignments stay for history.
// It returns the number of released links.
func (s *Store) SoftRemoveSession(ctx context.Context, id int64) (int, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, SessionRemoved, id)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrNotFound
	}

	res, err = tx.ExecContext(ctx,
		`DELETE FROM assignments WHERE session_id = ? AND join_status = ?`, id, JoinPending)
	if err != nil {
		return 0, err
	}
	released, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(released), nil
}

// SetSessionPhone records the phone number learned from a live login check.
func (s *Store) SetSessionPhone(ctx context.Context, id int64, phone string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET phone = ? WHERE id = ?`, strings.TrimSpace(phone), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var sess Session
	var created sql.NullString
	if err := r.Scan(&sess.ID, &sess.Credential, &sess.Phone, &sess.Status, &created); err != nil {
		return Session{}, err
	}
	sess.CreatedAt = parseTime(created)
	return sess, nil
}
