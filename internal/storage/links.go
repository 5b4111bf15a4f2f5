package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// AddLinks inserts canonical link values. Existing values (of any status) are
// left untouched, so a dead link is never revived. It returns the number of
// newly inserted links.
func (s *Store) AddLinks(ctx context.Context, values []string, source string) (int, error) {
	if len(values) == 0 {
		return 0, nil
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO links(value, source, status, created_at) VALUES(?,?,?,?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := s.stamp()
	source = strings.TrimSpace(source)
	added := 0
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		res, err := stmt.ExecContext(ctx, v, source, LinkActive, now)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		added += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

// CountUnassignedActive counts the reserve: active links with no assignment.
func (s *Store) CountUnassignedActive(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM links l
		WHERE l.status = ? AND NOT EXISTS (SELECT 1 FROM assignments a WHERE a.link_id = l.id)`, LinkActive)
}

// CountUnassignedAny counts links with no assignment regardless of status.
func (s *Store) CountUnassignedAny(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM links l
		WHERE NOT EXISTS (SELECT 1 FROM assignments a WHERE a.link_id = l.id)`)
}

func (s *Store) CountDead(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM links WHERE status = ?`, LinkDead)
}

func (s *Store) CountTotal(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM links`)
}

// PeekReserve returns the lowest-id reserve link without mutating anything.
func (s *Store) PeekReserve(ctx context.Context) (Link, bool, error) {
	return peekReserve(ctx, s.db)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func peekReserve(ctx context.Context, q queryRower) (Link, bool, error) {
	var l Link
	err := q.QueryRowContext(ctx, `SELECT l.id, l.value FROM links l
		WHERE l.status = ? AND NOT EXISTS (SELECT 1 FROM assignments a WHERE a.link_id = l.id)
		ORDER BY l.id ASC LIMIT 1`, LinkActive).Scan(&l.ID, &l.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return Link{}, false, nil
	}
	if err != nil {
		return Link{}, false, err
	}
	return l, true, nil
}

// GetLink returns the full row for a link id, dead_reason included. Like
// GetAssignment it serves tests and manual inspection.
func (s *Store) GetLink(ctx context.Context, id int64) (LinkRecord, error) {
	var r LinkRecord
	var reason, checked, created sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, value, source, status, dead_reason, last_checked_at, created_at FROM links WHERE id = ?`, id,
	).Scan(&r.ID, &r.Value, &r.Source, &r.Status, &reason, &checked, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return LinkRecord{}, ErrNotFound
	}
	if err != nil {
		return LinkRecord{}, err
	}
	r.DeadReason = reason.String
	r.LastCheckedAt = parseTime(checked)
	r.CreatedAt = parseTime(created)
	return r, nil
}

// ReserveLinks lists up to limit reserve values, lowest id first.
func (s *Store) ReserveLinks(ctx context.Context, limit int) ([]string, error) {
	return s.values(ctx, `SELECT l.value FROM links l
		WHERE l.status = ? AND NOT EXISTS (SELECT 1 FROM assignments a WHERE a.link_id = l.id)
		ORDER BY l.id ASC LIMIT ?`, LinkActive, limit)
}

// SessionLinks lists up to limit active link values assigned to a session,
// lowest id first.
func (s *Store) SessionLinks(ctx context.Context, sessionID int64, limit int) ([]string, error) {
	return s.values(ctx, `SELECT l.value FROM assignments a
		JOIN links l ON l.id = a.link_id
		WHERE a.session_id = ? AND l.status = ?
		ORDER BY l.id ASC LIMIT ?`, sessionID, LinkActive, limit)
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) values(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
