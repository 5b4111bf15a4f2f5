package storage

import (
	"context"
)

// Stats reads every rollup inside one transaction so the totals agree with
// each other.
func (s *Store) Stats(ctx context.Context) (Snapshot, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	defer tx.Rollback()

	snap := Snapshot{TakenAt: s.now()}
	counts := []struct {
		dst   *int
		query string
		args  []any
	}{
		{&snap.Sessions, `SELECT COUNT(*) FROM sessions WHERE status = ?`, []any{SessionActive}},
		{&snap.TotalLinks, `SELECT COUNT(*) FROM links`, nil},
		{&snap.DeadLinks, `SELECT COUNT(*) FROM links WHERE status = ?`, []any{LinkDead}},
		{&snap.ReserveLinks, `SELECT COUNT(*) FROM links l WHERE l.status = ?
			AND NOT EXISTS (SELECT 1 FROM assignments a WHERE a.link_id = l.id)`, []any{LinkActive}},
		{&snap.Unassigned, `SELECT COUNT(*) FROM links l
			WHERE NOT EXISTS (SELECT 1 FROM assignments a WHERE a.link_id = l.id)`, nil},
		{&snap.Assigned, `SELECT COUNT(*) FROM assignments a
			JOIN sessions s ON s.id = a.session_id WHERE s.status = ?`, []any{SessionActive}},
	}
	for _, c := range counts {
		if err := tx.QueryRowContext(ctx, c.query, c.args...).Scan(c.dst); err != nil {
			return Snapshot{}, err
		}
	}

	err = tx.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(CASE WHEN join_status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN join_status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN join_status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN join_status = ? THEN 1 ELSE 0 END), 0)
		FROM assignments`,
		JoinPending, JoinRequested, JoinSuccess, JoinFailed,
	).Scan(&snap.Pending, &snap.Requested, &snap.Success, &snap.Failed)
	if err != nil {
		return Snapshot{}, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT s.id, s.phone,
		COUNT(a.link_id),
		COALESCE(SUM(CASE WHEN a.join_status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN a.join_status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN a.join_status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN a.join_status = ? THEN 1 ELSE 0 END), 0)
		FROM sessions s
		LEFT JOIN assignments a ON a.session_id = s.id
		WHERE s.status = ?
		GROUP BY s.id, s.phone
		ORDER BY s.id ASC`,
		JoinPending, JoinRequested, JoinSuccess, JoinFailed, SessionActive,
	)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var ps SessionStats
		if err := rows.Scan(&ps.SessionID, &ps.Phone, &ps.Assigned, &ps.Pending, &ps.Requested, &ps.Success, &ps.Failed); err != nil {
			return Snapshot{}, err
		}
		snap.PerSession = append(snap.PerSession, ps)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}
	if err := rows.Close(); err != nil {
		return Snapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
