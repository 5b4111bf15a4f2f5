package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addSession(t *testing.T, s *Store, name string) Session {
	t.Helper()
	sess, created, err := s.AddSession(context.Background(), "cred-"+name, "")
	if err != nil || !created {
		t.Fatalf("AddSession(%s) = created %v, err %v", name, created, err)
	}
	return sess
}

func addLinks(t *testing.T, s *Store, n int) []string {
	t.Helper()
	values := make([]string, n)
	for i := range values {
		values[i] = fmt.Sprintf("https://t.me/chan%03d", i)
	}
	if _, err := s.AddLinks(context.Background(), values, "test"); err != nil {
		t.Fatalf("AddLinks: %v", err)
	}
	return values
}

func mustCount(t *testing.T, fn func(context.Context) (int, error)) int {
	t.Helper()
	n, err := fn(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestAddLinksIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	n, err := s.AddLinks(ctx, []string{"https://t.me/a", " https://t.me/b ", "", "https://t.me/a"}, "src")
	if err != nil {
		t.Fatalf("AddLinks: %v", err)
	}
	if n != 2 {
		t.Fatalf("added = %d, want 2", n)
	}
	n, err = s.AddLinks(ctx, []string{"https://t.me/a", "https://t.me/c"}, "src")
	if err != nil {
		t.Fatalf("AddLinks again: %v", err)
	}
	if n != 1 {
		t.Fatalf("second add = %d, want 1", n)
	}
	if got := mustCount(t, s.CountTotal); got != 3 {
		t.Fatalf("total = %d, want 3", got)
	}
}

func TestAddLinksNeverRevivesDeadLink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	w := addSession(t, s, "w")
	addLinks(t, s, 1)

	if _, err := s.AssignUnassigned(ctx, w.ID, 1); err != nil {
		t.Fatalf("AssignUnassigned: %v", err)
	}
	pending, _ := s.PendingAssignments(ctx, w.ID, 10)
	if _, _, err := s.ReplaceDeadAssignment(ctx, w.ID, pending[0].ID, "expired"); err != nil {
		t.Fatalf("ReplaceDeadAssignment: %v", err)
	}
	if n, _ := s.AddLinks(ctx, []string{pending[0].Value}, "again"); n != 0 {
		t.Fatalf("re-add of dead link inserted %d rows", n)
	}
	rec, err := s.GetLink(ctx, pending[0].ID)
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if rec.Status != LinkDead || rec.DeadReason != "expired" || rec.LastCheckedAt.IsZero() {
		t.Fatalf("link = %+v, want dead with reason", rec)
	}
	if got := mustCount(t, s.CountUnassignedActive); got != 0 {
		t.Fatalf("reserve = %d, want 0", got)
	}
	if got := mustCount(t, s.CountUnassignedAny); got != 1 {
		t.Fatalf("unassigned any = %d, want 1", got)
	}
}

func TestAssignUnassignedNeverDoubleAssigns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	a := addSession(t, s, "a")
	b := addSession(t, s, "b")
	addLinks(t, s, 7)

	na, err := s.AssignUnassigned(ctx, a.ID, 4)
	if err != nil {
		t.Fatalf("assign a: %v", err)
	}
	nb, err := s.AssignUnassigned(ctx, b.ID, 10)
	if err != nil {
		t.Fatalf("assign b: %v", err)
	}
	if na != 4 || nb != 3 {
		t.Fatalf("assigned a=%d b=%d, want 4 and 3", na, nb)
	}

	pa, _ := s.PendingAssignments(ctx, a.ID, 100)
	pb, _ := s.PendingAssignments(ctx, b.ID, 100)
	seen := map[int64]bool{}
	for _, l := range append(pa, pb...) {
		if seen[l.ID] {
			t.Fatalf("link %d assigned twice", l.ID)
		}
		seen[l.ID] = true
	}
	for i := 1; i < len(pa); i++ {
		if pa[i-1].ID >= pa[i].ID {
			t.Fatalf("pending not in ascending id order: %v", pa)
		}
	}
	if pb[0].ID <= pa[len(pa)-1].ID {
		t.Fatalf("second session got lower ids than first: a=%v b=%v", pa, pb)
	}
	if got := mustCount(t, s.CountUnassignedActive); got != 0 {
		t.Fatalf("reserve = %d, want 0", got)
	}
}

func TestAssignUnassignedRejectsRemovedSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	w := addSession(t, s, "w")
	addLinks(t, s, 2)
	if _, err := s.SoftRemoveSession(ctx, w.ID); err != nil {
		t.Fatalf("SoftRemoveSession: %v", err)
	}
	if _, err := s.AssignUnassigned(ctx, w.ID, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("assign to removed session err = %v, want ErrNotFound", err)
	}
}

func TestReplaceDeadAssignmentDrawsFromReserve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	w := addSession(t, s, "w")
	addLinks(t, s, 1)
	if _, err := s.AssignUnassigned(ctx, w.ID, 1); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := s.AddLinks(ctx, []string{"https://t.me/spare"}, "test"); err != nil {
		t.Fatalf("AddLinks: %v", err)
	}

	pending, _ := s.PendingAssignments(ctx, w.ID, 10)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	repl, ok, err := s.ReplaceDeadAssignment(ctx, w.ID, pending[0].ID, "INVITE_HASH_EXPIRED")
	if err != nil || !ok {
		t.Fatalf("ReplaceDeadAssignment = ok %v err %v, want replacement", ok, err)
	}
	if repl.Value != "https://t.me/spare" {
		t.Fatalf("replacement = %q, want spare", repl.Value)
	}
	if got := mustCount(t, s.CountDead); got != 1 {
		t.Fatalf("dead = %d, want 1", got)
	}
	if got := mustCount(t, s.CountUnassignedActive); got != 0 {
		t.Fatalf("reserve = %d, want 0", got)
	}
	if _, err := s.GetAssignment(ctx, pending[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("dead link still assigned: %v", err)
	}
	a, err := s.GetAssignment(ctx, repl.ID)
	if err != nil || a.SessionID != w.ID || a.JoinStatus != JoinPending {
		t.Fatalf("replacement assignment = %+v, %v", a, err)
	}
}

func TestReplaceDeadAssignmentEmptyReserve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	w := addSession(t, s, "w")
	addLinks(t, s, 1)
	_, _ = s.AssignUnassigned(ctx, w.ID, 1)
	pending, _ := s.PendingAssignments(ctx, w.ID, 10)

	_, ok, err := s.ReplaceDeadAssignment(ctx, w.ID, pending[0].ID, "private")
	if err != nil {
		t.Fatalf("ReplaceDeadAssignment: %v", err)
	}
	if ok {
		t.Fatalf("replacement found with empty reserve")
	}
	if got := mustCount(t, s.CountDead); got != 1 {
		t.Fatalf("dead = %d, want 1", got)
	}
	if n, _ := s.AssignedCount(ctx, w.ID); n != 0 {
		t.Fatalf("assigned count = %d, want 0", n)
	}
}

func TestReplaceDeadAssignmentLeavesNewHolderAlone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	a := addSession(t, s, "a")
	b := addSession(t, s, "b")
	addLinks(t, s, 1)
	if _, err := s.AssignUnassigned(ctx, a.ID, 1); err != nil {
		t.Fatalf("assign a: %v", err)
	}
	pending, _ := s.PendingAssignments(ctx, a.ID, 10)
	if _, err := s.SoftRemoveSession(ctx, a.ID); err != nil {
		t.Fatalf("SoftRemoveSession: %v", err)
	}
	if n, err := s.AssignUnassigned(ctx, b.ID, 1); err != nil || n != 1 {
		t.Fatalf("assign b = %d, %v", n, err)
	}

	_, ok, err := s.ReplaceDeadAssignment(ctx, a.ID, pending[0].ID, "expired")
	if !errors.Is(err, ErrAssignmentGone) || ok {
		t.Fatalf("late replace = ok %v err %v, want ErrAssignmentGone", ok, err)
	}
	got, err := s.GetAssignment(ctx, pending[0].ID)
	if err != nil || got.SessionID != b.ID || got.JoinStatus != JoinPending {
		t.Fatalf("assignment = %+v, %v; want pending for b", got, err)
	}
	if n, _ := s.AssignedCount(ctx, b.ID); n != 1 {
		t.Fatalf("b assigned = %d, want 1", n)
	}
	if got := mustCount(t, s.CountDead); got != 0 {
		t.Fatalf("dead = %d, want 0", got)
	}
}

func TestSoftRemoveSessionReleasesOnlyPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	w := addSession(t, s, "w")
	addLinks(t, s, 4)
	_, _ = s.AssignUnassigned(ctx, w.ID, 4)
	pending, _ := s.PendingAssignments(ctx, w.ID, 10)

	if err := s.SettleSuccess(ctx, w.ID, pending[0].ID); err != nil {
		t.Fatalf("SettleSuccess: %v", err)
	}
	if err := s.SettleRequested(ctx, w.ID, pending[1].ID, "request sent"); err != nil {
		t.Fatalf("SettleRequested: %v", err)
	}

	released, err := s.SoftRemoveSession(ctx, w.ID)
	if err != nil {
		t.Fatalf("SoftRemoveSession: %v", err)
	}
	if released != 2 {
		t.Fatalf("released = %d, want 2", released)
	}
	if got := mustCount(t, s.CountUnassignedActive); got != 2 {
		t.Fatalf("reserve = %d, want 2", got)
	}
	sess, err := s.GetSession(ctx, w.ID)
	if err != nil || sess.Status != SessionRemoved {
		t.Fatalf("session = %+v, %v; want removed", sess, err)
	}
	if active, _ := s.ActiveSessions(ctx); len(active) != 0 {
		t.Fatalf("active sessions = %d, want 0", len(active))
	}
	if _, err := s.SoftRemoveSession(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("remove unknown err = %v, want ErrNotFound", err)
	}
}

func TestSettleOnReleasedAssignmentReportsGone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	w := addSession(t, s, "w")
	addLinks(t, s, 1)
	_, _ = s.AssignUnassigned(ctx, w.ID, 1)
	pending, _ := s.PendingAssignments(ctx, w.ID, 10)
	_, _ = s.SoftRemoveSession(ctx, w.ID)

	if err := s.SettleSuccess(ctx, w.ID, pending[0].ID); !errors.Is(err, ErrAssignmentGone) {
		t.Fatalf("settle err = %v, want ErrAssignmentGone", err)
	}
}

func TestSettleRecordsAttemptsAndTruncatesErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	w := addSession(t, s, "w")
	addLinks(t, s, 1)
	_, _ = s.AssignUnassigned(ctx, w.ID, 1)
	pending, _ := s.PendingAssignments(ctx, w.ID, 10)
	id := pending[0].ID

	if err := s.BumpAttempt(ctx, w.ID, id, "FLOOD_WAIT_30"); err != nil {
		t.Fatalf("BumpAttempt: %v", err)
	}
	a, _ := s.GetAssignment(ctx, id)
	if a.JoinStatus != JoinPending || a.Attempts != 1 || a.LastError != "FLOOD_WAIT_30" {
		t.Fatalf("after bump = %+v", a)
	}

	long := strings.Repeat("x", 1500)
	if err := s.SettleFailed(ctx, w.ID, id, long); err != nil {
		t.Fatalf("SettleFailed: %v", err)
	}
	a, _ = s.GetAssignment(ctx, id)
	if a.JoinStatus != JoinFailed || a.Attempts != 2 || len(a.LastError) != 1000 {
		t.Fatalf("after fail = status %s attempts %d len %d", a.JoinStatus, a.Attempts, len(a.LastError))
	}

	if err := s.SettleSuccess(ctx, w.ID, id); err != nil {
		t.Fatalf("SettleSuccess: %v", err)
	}
	a, _ = s.GetAssignment(ctx, id)
	if a.JoinStatus != JoinSuccess || a.JoinedAt.IsZero() || a.LastError != "" {
		t.Fatalf("after success = %+v", a)
	}
}

func TestAddSessionReactivatesRemoved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	first, created, err := s.AddSession(ctx, "cred", "")
	if err != nil || !created {
		t.Fatalf("AddSession = %v, %v", created, err)
	}
	if _, created, _ := s.AddSession(ctx, "cred", ""); created {
		t.Fatalf("duplicate active credential reported as created")
	}
	if _, err := s.SoftRemoveSession(ctx, first.ID); err != nil {
		t.Fatalf("SoftRemoveSession: %v", err)
	}
	again, created, err := s.AddSession(ctx, "cred", "+100")
	if err != nil || !created {
		t.Fatalf("re-add = %v, %v; want reactivated", created, err)
	}
	if again.ID != first.ID || again.Status != SessionActive || again.Phone != "+100" {
		t.Fatalf("re-added session = %+v", again)
	}
}

func TestStatsSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	a := addSession(t, s, "a")
	b := addSession(t, s, "b")
	addLinks(t, s, 10)
	_, _ = s.AssignUnassigned(ctx, a.ID, 3)
	_, _ = s.AssignUnassigned(ctx, b.ID, 3)
	pa, _ := s.PendingAssignments(ctx, a.ID, 10)
	_ = s.SettleSuccess(ctx, a.ID, pa[0].ID)
	_ = s.SettleFailed(ctx, a.ID, pa[1].ID, "boom")
	_, _, _ = s.ReplaceDeadAssignment(ctx, a.ID, pa[2].ID, "dead")

	snap, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	checks := []struct {
		name      string
		got, want int
	}{
		{"sessions", snap.Sessions, 2},
		{"total", snap.TotalLinks, 10},
		{"dead", snap.DeadLinks, 1},
		{"reserve", snap.ReserveLinks, 3},
		{"unassigned", snap.Unassigned, 4},
		{"assigned", snap.Assigned, 6},
		{"pending", snap.Pending, 4},
		{"success", snap.Success, 1},
		{"failed", snap.Failed, 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if len(snap.PerSession) != 2 || snap.PerSession[0].SessionID != a.ID {
		t.Fatalf("per session = %+v", snap.PerSession)
	}
	if ps := snap.PerSession[0]; ps.Assigned != 3 || ps.Pending != 1 || ps.Success != 1 || ps.Failed != 1 {
		t.Fatalf("session a stats = %+v", ps)
	}
}

func TestJoinLogKeepsRunID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	for i, run := range []string{"run-1", "run-2", "run-2"} {
		err := s.AppendJoinLog(ctx, JoinLogEntry{RunID: run, SessionID: 1, LinkValue: fmt.Sprint(i), Status: LogSuccess})
		if err != nil {
			t.Fatalf("AppendJoinLog: %v", err)
		}
	}
	got, err := s.RecentJoinLog(ctx, "run-2", 10)
	if err != nil {
		t.Fatalf("RecentJoinLog: %v", err)
	}
	if len(got) != 2 || got[0].LinkValue != "2" {
		t.Fatalf("run-2 entries = %+v", got)
	}
	all, _ := s.RecentJoinLog(ctx, "", 10)
	if len(all) != 3 {
		t.Fatalf("all entries = %d, want 3", len(all))
	}
}

func TestOpenMigratesLegacyJoinLog(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	_, err = db.Exec(`CREATE TABLE join_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		link_value TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		created_at TEXT NOT NULL)`)
	if err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	_ = db.Close()

	s, err := Open(context.Background(), Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open legacy: %v", err)
	}
	defer s.Close()
	cols, err := s.tableColumns(context.Background(), "join_log")
	if err != nil {
		t.Fatalf("tableColumns: %v", err)
	}
	if _, ok := cols["run_id"]; !ok {
		t.Fatalf("run_id column not added: %v", cols)
	}
}
