package bot

import (
	"context"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/distributor"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/export"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/harvest"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/joiner"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/platform"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/scheduler"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/stats"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/storage"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/systemd"
)

type Store interface {
	AddSession(ctx context.Context, credential, phone string) (storage.Session, bool, error)
	GetSession(ctx context.Context, id int64) (storage.Session, error)
	ActiveSessions(ctx context.Context) ([]storage.Session, error)
	SoftRemoveSession(ctx context.Context, id int64) (int, error)
	Path() string
}

type Runner interface {
	RunCycle(ctx context.Context) (joiner.CycleReport, error)
	Running() (joiner.RunInfo, bool)
	Stop() bool
}

type Distributor interface {
	Distribute(ctx context.Context) (distributor.Report, error)
}

type StatsSource interface {
	Snapshot(ctx context.Context) (stats.Report, error)
}

type Harvester interface {
	Harvest(ctx context.Context, sources []string) (harvest.Report, error)
}

type Exporter interface {
	Export(ctx context.Context) ([]export.File, error)
}

type Scheduler interface {
	Entries() []scheduler.EntryInfo
}

// Deps are the components the operator commands drive. Scheduler, Dialer
// and Unit are optional.
type Deps struct {
	Store       Store
	Runner      Runner
	Distributor Distributor
	Stats       StatsSource
	Harvester   Harvester
	Exporter    Exporter
	Scheduler   Scheduler
	Dialer      platform.Dialer

	// Unit reports the systemd unit running this process.
	Unit func(ctx context.Context) (*systemd.UnitStatus, error)
}
