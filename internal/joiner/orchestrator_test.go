package joiner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/distributor"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/eventbus"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/platform"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/storage"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

type joinResult struct {
	out platform.Outcome
	err error
}

// fakeDialer scripts join results per link. Links without a script join
// successfully.
type fakeDialer struct {
	mu      sync.Mutex
	scripts map[string][]joinResult
	openErr map[string]error
	joined  []string
	opened  int
	// onJoin runs before each join; used to stop a cycle mid-flight.
	onJoin func(link string)
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{scripts: map[string][]joinResult{}, openErr: map[string]error{}}
}

func (d *fakeDialer) script(link string, rs ...joinResult) {
	d.mu.Lock()
	d.scripts[link] = append(d.scripts[link], rs...)
	d.mu.Unlock()
}

func (d *fakeDialer) Open(_ context.Context, credential string) (platform.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.openErr[credential]; err != nil {
		return nil, err
	}
	d.opened++
	return &fakeSession{d: d, phone: "+1" + credential}, nil
}

func (d *fakeDialer) joinedLinks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.joined...)
}

type fakeSession struct {
	d     *fakeDialer
	phone string
}

func (s *fakeSession) Self(context.Context) (platform.Identity, error) {
	return platform.Identity{UserID: 1, Phone: s.phone}, nil
}

func (s *fakeSession) Join(_ context.Context, link string) (platform.Outcome, error) {
	if s.d.onJoin != nil {
		s.d.onJoin(link)
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.joined = append(s.d.joined, link)
	rs := s.d.scripts[link]
	if len(rs) == 0 {
		return platform.Success("joined"), nil
	}
	r := rs[0]
	s.d.scripts[link] = rs[1:]
	return r.out, r.err
}

func (s *fakeSession) FetchMessages(context.Context, string, int) ([]string, error) {
	return nil, nil
}

func (s *fakeSession) Close() error { return nil }

type recordedSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) bool {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err() == nil
}

type fixture struct {
	store  *storage.Store
	dist   *distributor.Distributor
	dialer *fakeDialer
	sleeps *recordedSleep
	orch   *Orchestrator
}

func newFixture(t *testing.T, reserve int, cfg Config, opts ...Option) *fixture {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Path: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		store:  st,
		dist:   distributor.New(st, distributor.Config{Capacity: cfg.Capacity, ReserveTarget: reserve}, logx.Nop()),
		dialer: newFakeDialer(),
		sleeps: &recordedSleep{},
	}
	opts = append([]Option{WithSleep(f.sleeps.sleep)}, opts...)
	f.orch = New(st, f.dist, f.dialer, cfg, opts...)
	return f
}

func (f *fixture) addSession(t *testing.T, cred string) storage.Session {
	t.Helper()
	s, _, err := f.store.AddSession(context.Background(), cred, "")
	if err != nil {
		t.Fatalf("AddSession: %v", err)
	}
	return s
}

func (f *fixture) addLinks(t *testing.T, values ...string) {
	t.Helper()
	if _, err := f.store.AddLinks(context.Background(), values, "test"); err != nil {
		t.Fatalf("AddLinks: %v", err)
	}
}

func links(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://t.me/c%02d", i)
	}
	return out
}

func TestRunCycleJoinsEverythingAssigned(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0, Config{Capacity: 3, JoinDelay: time.Minute})
	sA := f.addSession(t, "a")
	f.addSession(t, "b")
	f.addLinks(t, links(6)...)

	rep, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rep.Distribution.AssignedTotal != 6 {
		t.Fatalf("distributed %d, want 6", rep.Distribution.AssignedTotal)
	}
	tot := rep.Totals()
	if tot.Success != 6 || tot.Failed != 0 || rep.Errored() != 0 {
		t.Fatalf("totals = %+v errored %d", tot, rep.Errored())
	}
	if rep.RunID == "" {
		t.Fatalf("run id not set")
	}
	// Two delays per unit of three items.
	if got := len(f.sleeps.waits); got != 4 {
		t.Fatalf("sleeps = %d, want 4", got)
	}
	a, err := f.store.GetSession(context.Background(), sA.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if a.Phone != "+1a" {
		t.Fatalf("phone = %q, want +1a", a.Phone)
	}
	entries, err := f.store.RecentJoinLog(context.Background(), rep.RunID, 100)
	if err != nil {
		t.Fatalf("RecentJoinLog: %v", err)
	}
	if len(entries) != 6 {
		t.Fatalf("join log entries = %d, want 6", len(entries))
	}
	if _, running := f.orch.Running(); running {
		t.Fatalf("run handle still held after cycle")
	}
}

func TestRunCycleReplacesDeadLinkFromReserve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 1, Config{Capacity: 1000})
	f.addSession(t, "a")
	f.addLinks(t, "https://t.me/dead", "https://t.me/spare")
	f.dialer.script("https://t.me/dead", joinResult{out: platform.PermanentFailure("INVITE_HASH_EXPIRED")})

	rep, err := f.orch.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	w := rep.Workers[0]
	if w.Dead != 1 || w.Replaced != 1 || w.Success != 1 {
		t.Fatalf("summary = %+v, want dead 1 replaced 1 success 1", w)
	}
	if got := mustCount(t, f.store.CountUnassignedActive); got != 0 {
		t.Fatalf("reserve after = %d, want 0", got)
	}
	if got := mustCount(t, f.store.CountDead); got != 1 {
		t.Fatalf("dead = %d, want 1", got)
	}
	joined := f.dialer.joinedLinks()
	if len(joined) != 2 || joined[1] != "https://t.me/spare" {
		t.Fatalf("joined = %v, want dead then spare", joined)
	}
}

func TestRunCycleEmptyReserveShrinksCapacity(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0, Config{Capacity: 1000})
	f.addSession(t, "a")
	f.addLinks(t, "https://t.me/dead")
	f.dialer.script("https://t.me/dead", joinResult{out: platform.PermanentFailure("USERNAME_NOT_OCCUPIED")})

	rep, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if w := rep.Workers[0]; w.Dead != 1 || w.Replaced != 0 {
		t.Fatalf("summary = %+v", w)
	}
}

func TestRunCycleRetriesFloodWait(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 0, Config{Capacity: 10, FloodRetryMax: 3, FloodExtra: 10 * time.Second})
	f.addSession(t, "a")
	f.addLinks(t, "https://t.me/slow")
	f.dialer.script("https://t.me/slow",
		joinResult{out: platform.TransientWait(30*time.Second, "FLOOD_WAIT")},
		joinResult{out: platform.Success("joined")},
	)

	rep, err := f.orch.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	w := rep.Workers[0]
	if w.Success != 1 || w.FloodWaits != 1 || w.Attempts != 2 {
		t.Fatalf("summary = %+v", w)
	}
	if len(f.sleeps.waits) != 1 || f.sleeps.waits[0] != 40*time.Second {
		t.Fatalf("sleeps = %v, want [40s]", f.sleeps.waits)
	}
}

func TestRunCycleFailsItemAfterFloodRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 0, Config{Capacity: 10, FloodRetryMax: 2})
	f.addSession(t, "a")
	f.addLinks(t, "https://t.me/slow", "https://t.me/huge")
	for i := 0; i < 3; i++ {
		f.dialer.script("https://t.me/slow", joinResult{out: platform.TransientWait(time.Second, "FLOOD_WAIT")})
	}
	f.dialer.script("https://t.me/huge", joinResult{out: platform.TransientWait(2*time.Hour, "FLOOD_WAIT")})

	rep, err := f.orch.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	w := rep.Workers[0]
	if w.Failed != 2 || w.FloodWaits != 4 {
		t.Fatalf("summary = %+v, want failed 2 flood waits 4", w)
	}
	// Rate limits are about the account, not the link.
	if got := mustCount(t, f.store.CountDead); got != 0 {
		t.Fatalf("dead = %d, want 0", got)
	}
}

func TestRunCycleSettlesRequestedAndFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 0, Config{Capacity: 10})
	f.addSession(t, "a")
	f.addLinks(t, "https://t.me/+req", "https://t.me/odd", "https://t.me/neterr")
	f.dialer.script("https://t.me/+req", joinResult{out: platform.RequestPending("join request sent")})
	f.dialer.script("https://t.me/odd", joinResult{out: platform.Failure("INTERNAL")})
	f.dialer.script("https://t.me/neterr", joinResult{err: errors.New("connection reset")})

	rep, err := f.orch.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	w := rep.Workers[0]
	if w.Requested != 1 || w.Failed != 2 || w.Err != "" {
		t.Fatalf("summary = %+v", w)
	}
	snap, err := f.store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.Requested != 1 || snap.Failed != 2 || snap.Pending != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRunCycleFatalAbortsOnlyThatUnit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 0, Config{Capacity: 2})
	f.addSession(t, "a")
	f.addSession(t, "b")
	f.addLinks(t, links(4)...)
	// Session a holds c00 and c01.
	f.dialer.script("https://t.me/c00", joinResult{err: platform.Fatal(platform.ErrUnauthorized)})

	rep, err := f.orch.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	a, b := rep.Workers[0], rep.Workers[1]
	if a.Err == "" || a.Success != 0 {
		t.Fatalf("unit a = %+v, want aborted", a)
	}
	if b.Err != "" || b.Success != 2 {
		t.Fatalf("unit b = %+v, want 2 successes", b)
	}
	// The untouched item stays pending for the next cycle.
	snap, err := f.store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.Pending != 2 {
		t.Fatalf("pending = %d, want 2", snap.Pending)
	}
}

func TestRunCycleDialFailureIsUnitError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0, Config{Capacity: 5})
	f.addSession(t, "a")
	f.addLinks(t, links(2)...)
	f.dialer.openErr["a"] = platform.Fatal(platform.ErrUnauthorized)

	rep, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rep.Workers[0].Err == "" || rep.Workers[0].Assigned != 2 {
		t.Fatalf("summary = %+v", rep.Workers[0])
	}
}

func TestRunCycleNothingPendingSkipsDial(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0, Config{Capacity: 5})
	f.addSession(t, "a")

	rep, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if f.dialer.opened != 0 {
		t.Fatalf("opened %d sessions, want 0", f.dialer.opened)
	}
	if len(rep.Workers) != 1 || rep.Workers[0].Assigned != 0 {
		t.Fatalf("workers = %+v", rep.Workers)
	}
}

func TestStopLeavesRestPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 0, Config{Capacity: 10})
	f.addSession(t, "a")
	f.addLinks(t, links(5)...)
	f.dialer.onJoin = func(link string) {
		if link == "https://t.me/c01" {
			f.orch.Stop()
		}
	}

	rep, err := f.orch.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !rep.Cancelled || !rep.Workers[0].Cancelled {
		t.Fatalf("report = %+v, want cancelled", rep)
	}
	// The item in hand is settled before the unit exits.
	if rep.Workers[0].Success != 2 {
		t.Fatalf("success = %d, want 2", rep.Workers[0].Success)
	}
	snap, err := f.store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.Success != 2 || snap.Pending != 3 {
		t.Fatalf("snapshot = %+v, want 2 success 3 pending", snap)
	}
	if f.orch.Stop() {
		t.Fatalf("Stop after cycle reported a running cycle")
	}
}

func TestStopDuringFloodWaitDoesNotRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var f *fixture
	var sleeps int
	f = newFixture(t, 0, Config{Capacity: 10, FloodRetryMax: 3},
		WithSleep(func(context.Context, time.Duration) bool {
			sleeps++
			f.orch.Stop()
			return false
		}),
	)
	a := f.addSession(t, "a")
	f.addLinks(t, "https://t.me/slow", "https://t.me/next")
	f.dialer.script("https://t.me/slow", joinResult{out: platform.TransientWait(30*time.Second, "FLOOD_WAIT")})

	rep, err := f.orch.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	w := rep.Workers[0]
	if !rep.Cancelled || !w.Cancelled || w.Attempts != 1 || w.FloodWaits != 1 || w.Err != "" {
		t.Fatalf("summary = %+v, want one attempt then cancelled", w)
	}
	if joined := f.dialer.joinedLinks(); len(joined) != 1 || joined[0] != "https://t.me/slow" {
		t.Fatalf("joined = %v, want only slow", joined)
	}
	if sleeps != 1 {
		t.Fatalf("sleeps = %d, want 1", sleeps)
	}

	pending, err := f.store.PendingAssignments(ctx, a.ID, 10)
	if err != nil || len(pending) != 2 {
		t.Fatalf("pending = %v, %v; want 2", pending, err)
	}
	got, err := f.store.GetAssignment(ctx, pending[0].ID)
	if err != nil || got.JoinStatus != storage.JoinPending || got.Attempts != 1 {
		t.Fatalf("slow assignment = %+v, %v; want pending with 1 attempt", got, err)
	}
}

func TestRunCycleSessionRemovedMidCycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 0, Config{Capacity: 10})
	a := f.addSession(t, "a")
	f.addLinks(t, links(5)...)
	f.dialer.script("https://t.me/c01", joinResult{out: platform.RequestPending("join request sent")})
	f.dialer.script("https://t.me/c02", joinResult{out: platform.Failure("INTERNAL")})
	f.dialer.script("https://t.me/c03", joinResult{out: platform.PermanentFailure("INVITE_HASH_EXPIRED")})

	var released int
	var removeErr error
	f.dialer.onJoin = func(link string) {
		if link == "https://t.me/c03" {
			released, removeErr = f.store.SoftRemoveSession(ctx, a.ID)
		}
	}

	rep, err := f.orch.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if removeErr != nil || released != 2 {
		t.Fatalf("SoftRemoveSession = %d, %v; want 2 released", released, removeErr)
	}
	w := rep.Workers[0]
	if w.Err != "" || !w.Removed || w.Replaced != 0 {
		t.Fatalf("summary = %+v, want clean stop after removal", w)
	}
	// c04 is never attempted once the removal is seen.
	if joined := f.dialer.joinedLinks(); len(joined) != 4 {
		t.Fatalf("joined = %v, want c00..c03", joined)
	}

	snap, err := f.store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.Success != 1 || snap.Requested != 1 || snap.Failed != 1 || snap.Pending != 0 {
		t.Fatalf("snapshot = %+v, want settled rows kept and nothing pending", snap)
	}
	// The late permanent failure does not tombstone a link it no longer holds.
	if got := mustCount(t, f.store.CountDead); got != 0 {
		t.Fatalf("dead = %d, want 0", got)
	}
	if got := mustCount(t, f.store.CountUnassignedActive); got != 2 {
		t.Fatalf("reserve = %d, want 2", got)
	}
}

func TestRunCycleOneAtATime(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0, Config{Capacity: 10})
	f.addSession(t, "a")
	f.addLinks(t, links(1)...)

	var second error
	f.dialer.onJoin = func(string) {
		info, ok := f.orch.Running()
		if !ok || info.RunID == "" {
			second = errors.New("run handle not visible during cycle")
			return
		}
		_, second = f.orch.RunCycle(context.Background())
	}
	if _, err := f.orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !errors.Is(second, ErrRunInProgress) {
		t.Fatalf("nested RunCycle err = %v, want ErrRunInProgress", second)
	}
}

func TestRunCyclePublishesEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	f := newFixture(t, 0, Config{Capacity: 10, ProgressEvery: 2}, WithBus(bus))
	f.addSession(t, "a")
	f.addLinks(t, links(4)...)
	if _, err := f.orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	counts := map[string]int{}
	for len(ch) > 0 {
		e := <-ch
		counts[e.Type]++
	}
	if counts[EventRunStarted] != 1 || counts[EventRunFinished] != 1 {
		t.Fatalf("events = %v", counts)
	}
	if counts[EventWorkerProgress] != 2 || counts[EventWorkerFinished] != 1 {
		t.Fatalf("events = %v", counts)
	}
}

func mustCount(t *testing.T, fn func(context.Context) (int, error)) int {
	t.Helper()
	n, err := fn(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
