// Package joiner runs join cycles: one supervised unit per active session
// works through that session's pending links, settling each one in the store
// and swapping dead links for reserve links as it goes.
package joiner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/eventbus"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/metrics"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/platform"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/runtime/supervisor"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

type Orchestrator struct {
	store   Store
	dist    Distributor
	dialer  platform.Dialer
	bus     *eventbus.Bus
	metrics metrics.Collector
	log     logx.Logger

	// sleep waits d or until ctx is done; false means ctx ended first.
	sleep func(ctx context.Context, d time.Duration) bool
	now   func() time.Time

	cfgMu sync.Mutex
	cfg   Config

	mu  sync.Mutex
	run *runHandle
}

type runHandle struct {
	info   RunInfo
	cancel context.CancelFunc
}

type Option func(*Orchestrator)

func WithBus(b *eventbus.Bus) Option { return func(o *Orchestrator) { o.bus = b } }

func WithMetrics(m metrics.Collector) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithLogger(log logx.Logger) Option { return func(o *Orchestrator) { o.log = log } }

// WithSleep replaces the wall-clock sleep used for join delays and rate-limit
// waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) bool) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

func New(store Store, dist Distributor, dialer platform.Dialer, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		dist:    dist,
		dialer:  dialer,
		metrics: metrics.NewNop(),
		sleep:   sleepCtx,
		now:     time.Now,
		cfg:     cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	o.log = o.log.With(logx.String("comp", "joiner"))
	return o
}

func (o *Orchestrator) Apply(cfg Config) {
	o.cfgMu.Lock()
	o.cfg = cfg.withDefaults()
	o.cfgMu.Unlock()
}

func (o *Orchestrator) Config() Config {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	return o.cfg
}

// Running reports the cycle currently holding the run handle.
func (o *Orchestrator) Running() (RunInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return RunInfo{}, false
	}
	return o.run.info, true
}

// Stop signals the running cycle to wind down. Units finish the item in hand,
// persist it and exit. It reports whether a cycle was running.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return false
	}
	o.run.info.Stopping = true
	o.run.cancel()
	return true
}

func (o *Orchestrator) acquire(ctx context.Context) (context.Context, *runHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run != nil {
		return nil, nil, ErrRunInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.run = &runHandle{
		info:   RunInfo{RunID: uuid.NewString(), StartedAt: o.now()},
		cancel: cancel,
	}
	return runCtx, o.run, nil
}

func (o *Orchestrator) release(h *runHandle) {
	o.mu.Lock()
	if o.run == h {
		o.run = nil
	}
	o.mu.Unlock()
	h.cancel()
}

func (o *Orchestrator) setSessions(n int) {
	o.mu.Lock()
	if o.run != nil {
		o.run.info.Sessions = n
	}
	o.mu.Unlock()
}

// RunCycle distributes, then runs one unit per active session concurrently
// and waits for all of them. A unit's failure is recorded in its summary and
// never aborts the others. Cancelling ctx has the same effect as Stop.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	stopCtx, h, err := o.acquire(ctx)
	if err != nil {
		return CycleReport{}, err
	}
	defer o.release(h)

	cfg := o.Config()
	rep := CycleReport{RunID: h.info.RunID, StartedAt: h.info.StartedAt}
	log := o.log.With(logx.String("run_id", rep.RunID))
	// Bookkeeping outlives a stop so in-flight items are never half-written.
	work := context.WithoutCancel(stopCtx)

	result := "ok"
	defer func() {
		o.metrics.RecordCycle(result, o.now().Sub(rep.StartedAt).Seconds())
	}()

	dist, err := o.dist.Distribute(work)
	if err != nil {
		result = "error"
		return rep, fmt.Errorf("distribute: %w", err)
	}
	rep.Distribution = dist
	o.metrics.RecordDistributed(dist.AssignedTotal)

	sessions, err := o.store.ActiveSessions(work)
	if err != nil {
		result = "error"
		return rep, fmt.Errorf("list sessions: %w", err)
	}
	o.setSessions(len(sessions))
	info, _ := o.Running()
	eventbus.Emit(o.bus, EventRunStarted, info)
	log.Info("join cycle started", logx.Int("sessions", len(sessions)), logx.Int("distributed", dist.AssignedTotal))

	rep.Workers = make([]WorkerSummary, len(sessions))
	sup := supervisor.NewSupervisor(stopCtx, supervisor.WithLogger(log), supervisor.WithCancelOnError(false))
	o.metrics.SetActiveWorkers(len(sessions))
	for i, s := range sessions {
		rep.Workers[i] = WorkerSummary{SessionID: s.ID, Phone: s.Phone}
		u := &unit{
			o:       o,
			cfg:     cfg,
			runID:   rep.RunID,
			session: s,
			sum:     &rep.Workers[i],
			log:     log.With(logx.Int64("session_id", s.ID)),
		}
		sup.Go(fmt.Sprintf("session-%d", s.ID), u.run)
	}
	// Units always return once their queue drains or the stop signal lands.
	_ = sup.Wait(context.Background())
	o.metrics.SetActiveWorkers(0)

	for i := range rep.Workers {
		w := &rep.Workers[i]
		if !w.finished && w.Err == "" {
			w.Err = "worker panicked"
		}
	}
	rep.Cancelled = stopCtx.Err() != nil
	rep.FinishedAt = o.now()
	if rep.Cancelled {
		result = "cancelled"
	}

	t := rep.Totals()
	log.Info("join cycle finished",
		logx.Int("success", t.Success),
		logx.Int("requested", t.Requested),
		logx.Int("failed", t.Failed),
		logx.Int("dead", t.Dead),
		logx.Int("replaced", t.Replaced),
		logx.Int("errored_units", rep.Errored()),
		logx.Bool("cancelled", rep.Cancelled),
		logx.Duration("took", t.Duration),
	)
	eventbus.Emit(o.bus, EventRunFinished, rep)
	return rep, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
