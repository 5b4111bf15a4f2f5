// Package distributor hands unassigned links out to active sessions while
// keeping a floor of spare links in reserve for replacing dead ones.
package distributor

import (
	"context"
	"fmt"
	"sync"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/storage"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

const (
	DefaultCapacity      = 1000
	DefaultReserveTarget = 500
)

// Config is hot-reloadable through Apply.
type Config struct {
	// Capacity is the maximum number of links one session may hold.
	Capacity int
	// ReserveTarget is the number of active unassigned links kept back.
	ReserveTarget int
}

// Store is the slice of the work store the distributor needs.
type Store interface {
	CountUnassignedActive(ctx context.Context) (int, error)
	ActiveSessions(ctx context.Context) ([]storage.Session, error)
	AssignedCount(ctx context.Context, sessionID int64) (int, error)
	AssignUnassigned(ctx context.Context, sessionID int64, limit int) (int, error)
}

// SessionAssignment is one session's share of a pass.
type SessionAssignment struct {
	SessionID int64
	Phone     string
	Held      int // assignments held before the pass
	Assigned  int
}

// Report describes one distribution pass.
type Report struct {
	Sessions               int
	UnassignedActiveBefore int
	ReserveTarget          int
	DistributableBefore    int
	AssignedTotal          int
	UnassignedActiveAfter  int
	ReserveAfter           int
	PerSession             []SessionAssignment
}

// Estimate projects how many sessions the current backlog needs.
type Estimate struct {
	Unassigned    int
	ReserveTarget int
	Capacity      int
	Distributable int
	Needed        int
}

type Distributor struct {
	store Store
	log   logx.Logger

	mu  sync.Mutex
	cfg Config
}

func New(store Store, cfg Config, log logx.Logger) *Distributor {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Distributor{store: store, log: log.With(logx.String("comp", "distributor"))}
	d.applyLocked(cfg)
	return d
}

func (d *Distributor) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Distributor) applyLocked(cfg Config) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.ReserveTarget < 0 {
		cfg.ReserveTarget = 0
	}
	d.cfg = cfg
}

func (d *Distributor) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Distribute fills every active session up to capacity from the links above
// the reserve floor. Sessions are served in ascending id order. Each batch is
// its own transaction, so a second call with nothing new assigns nothing.
func (d *Distributor) Distribute(ctx context.Context) (Report, error) {
	cfg := d.Config()
	rep := Report{ReserveTarget: cfg.ReserveTarget}

	before, err := d.store.CountUnassignedActive(ctx)
	if err != nil {
		return rep, fmt.Errorf("count unassigned: %w", err)
	}
	rep.UnassignedActiveBefore = before
	distributable := max(0, before-cfg.ReserveTarget)
	rep.DistributableBefore = distributable

	sessions, err := d.store.ActiveSessions(ctx)
	if err != nil {
		return rep, fmt.Errorf("list sessions: %w", err)
	}
	rep.Sessions = len(sessions)

	for _, s := range sessions {
		if distributable == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		held, err := d.store.AssignedCount(ctx, s.ID)
		if err != nil {
			return rep, fmt.Errorf("count assignments of session %d: %w", s.ID, err)
		}
		remaining := cfg.Capacity - held
		if remaining <= 0 {
			continue
		}
		n, err := d.store.AssignUnassigned(ctx, s.ID, min(remaining, distributable))
		if err != nil {
			return rep, fmt.Errorf("assign to session %d: %w", s.ID, err)
		}
		distributable = max(0, distributable-n)
		rep.AssignedTotal += n
		rep.PerSession = append(rep.PerSession, SessionAssignment{
			SessionID: s.ID,
			Phone:     s.Phone,
			Held:      held,
			Assigned:  n,
		})
	}

	after, err := d.store.CountUnassignedActive(ctx)
	if err != nil {
		return rep, fmt.Errorf("count unassigned: %w", err)
	}
	rep.UnassignedActiveAfter = after
	rep.ReserveAfter = after

	d.log.Info("distribution pass",
		logx.Int("sessions", rep.Sessions),
		logx.Int("before", before),
		logx.Int("assigned", rep.AssignedTotal),
		logx.Int("reserve_after", after),
	)
	return rep, nil
}

// EstimateNeeded reports how many sessions the unassigned backlog calls for.
// It never mutates the store.
func (d *Distributor) EstimateNeeded(ctx context.Context) (Estimate, error) {
	cfg := d.Config()
	n, err := d.store.CountUnassignedActive(ctx)
	if err != nil {
		return Estimate{}, fmt.Errorf("count unassigned: %w", err)
	}
	return Project(n, cfg.ReserveTarget, cfg.Capacity), nil
}

// Project computes the number of sessions needed to absorb everything above
// the reserve floor.
func Project(unassigned, reserve, capacity int) Estimate {
	e := Estimate{Unassigned: unassigned, ReserveTarget: reserve, Capacity: capacity}
	e.Distributable = max(0, unassigned-max(0, reserve))
	if capacity > 0 {
		e.Needed = (e.Distributable + capacity - 1) / capacity
	}
	return e
}
