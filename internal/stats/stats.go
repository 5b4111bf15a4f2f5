// Package stats assembles the read-only operator view: store totals, the
// reserve, the success rate, how many sessions the backlog needs and the
// state of the current join cycle.
package stats

import (
	"context"
	"fmt"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/distributor"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/joiner"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/metrics"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/storage"
)

// Source reads a consistent store snapshot.
type Source interface {
	Stats(ctx context.Context) (storage.Snapshot, error)
}

// JoinLog is implemented by sources that keep the join attempt log.
type JoinLog interface {
	RecentJoinLog(ctx context.Context, runID string, limit int) ([]storage.JoinLogEntry, error)
}

// recentEntries is how many join attempts the view lists.
const recentEntries = 5

// Settings exposes the live distribution settings.
type Settings interface {
	Config() distributor.Config
}

// Runs reports the cycle holding the run handle, if any.
type Runs interface {
	Running() (joiner.RunInfo, bool)
}

// Report is everything the stats view shows.
type Report struct {
	Snapshot      storage.Snapshot
	ReserveTarget int
	// SuccessRate is success / (success + failed); 0 when nothing settled.
	SuccessRate float64
	Estimate    distributor.Estimate
	Run         joiner.RunInfo
	Running     bool
	// Recent holds the newest join attempts, newest first.
	Recent []storage.JoinLogEntry
}

type Aggregator struct {
	src      Source
	settings Settings
	runs     Runs
	metrics  metrics.Collector
}

// NewAggregator wires the view. runs and m may be nil.
func NewAggregator(src Source, settings Settings, runs Runs, m metrics.Collector) *Aggregator {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Aggregator{src: src, settings: settings, runs: runs, metrics: m}
}

// Snapshot never mutates the store.
func (a *Aggregator) Snapshot(ctx context.Context) (Report, error) {
	snap, err := a.src.Stats(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read stats: %w", err)
	}
	cfg := a.settings.Config()
	rep := Report{
		Snapshot:      snap,
		ReserveTarget: cfg.ReserveTarget,
		SuccessRate:   SuccessRate(snap.Success, snap.Failed),
		Estimate:      distributor.Project(snap.ReserveLinks, cfg.ReserveTarget, cfg.Capacity),
	}
	if a.runs != nil {
		rep.Run, rep.Running = a.runs.Running()
	}
	if jl, ok := a.src.(JoinLog); ok {
		recent, err := jl.RecentJoinLog(ctx, "", recentEntries)
		if err != nil {
			return Report{}, fmt.Errorf("read join log: %w", err)
		}
		rep.Recent = recent
	}
	a.metrics.SetBacklog(snap.ReserveLinks, snap.DeadLinks, snap.Pending)
	return rep, nil
}

func SuccessRate(success, failed int) float64 {
	if success+failed == 0 {
		return 0
	}
	return float64(success) / float64(success+failed)
}
