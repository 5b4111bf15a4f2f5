package joiner

import (
	"context"
	"errors"
	"time"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/distributor"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/storage"
)

// ErrRunInProgress is returned by RunCycle while another cycle holds the run
// handle.
var ErrRunInProgress = errors.New("a join cycle is already running")

// errStopped ends a unit early when the cycle is stopped mid-sleep.
var errStopped = errors.New("cycle stopped")

// Event types published on the bus.
const (
	EventRunStarted     = "joiner.run.started"
	EventWorkerProgress = "joiner.worker.progress"
	EventWorkerFinished = "joiner.worker.finished"
	EventRunFinished    = "joiner.run.finished"
)

// Config is hot-reloadable through Apply; a running cycle keeps the settings
// it started with.
type Config struct {
	// Capacity caps how many pending links one unit snapshots.
	Capacity int
	// JoinDelay is slept between consecutive items of a unit.
	JoinDelay time.Duration
	// FloodRetryMax is how many rate-limit retries one item gets.
	FloodRetryMax int
	// FloodExtra is added to every signalled rate-limit wait.
	FloodExtra time.Duration
	// FloodMaxWait is the longest signalled wait still honoured.
	FloodMaxWait time.Duration
	DialTimeout  time.Duration
	JoinTimeout  time.Duration
	// ProgressEvery publishes a progress event every N processed items.
	ProgressEvery int
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = distributor.DefaultCapacity
	}
	if c.JoinDelay < 0 {
		c.JoinDelay = 0
	}
	if c.FloodRetryMax < 0 {
		c.FloodRetryMax = 0
	}
	if c.FloodExtra < 0 {
		c.FloodExtra = 0
	}
	if c.FloodMaxWait <= 0 {
		c.FloodMaxWait = time.Hour
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 30 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 30 * time.Second
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 20
	}
	return c
}

// Store is the slice of the work store a cycle touches.
type Store interface {
	ActiveSessions(ctx context.Context) ([]storage.Session, error)
	PendingAssignments(ctx context.Context, sessionID int64, limit int) ([]storage.Link, error)
	SettleSuccess(ctx context.Context, sessionID, linkID int64) error
	SettleFailed(ctx context.Context, sessionID, linkID int64, errText string) error
	SettleRequested(ctx context.Context, sessionID, linkID int64, note string) error
	BumpAttempt(ctx context.Context, sessionID, linkID int64, errText string) error
	ReplaceDeadAssignment(ctx context.Context, sessionID, linkID int64, reason string) (storage.Link, bool, error)
	AppendJoinLog(ctx context.Context, e storage.JoinLogEntry) error
	SetSessionPhone(ctx context.Context, id int64, phone string) error
	GetSession(ctx context.Context, id int64) (storage.Session, error)
}

// Distributor runs the distribution pass that opens every cycle.
type Distributor interface {
	Distribute(ctx context.Context) (distributor.Report, error)
}

// RunInfo describes the cycle holding the run handle.
type RunInfo struct {
	RunID     string
	StartedAt time.Time
	Sessions  int
	Stopping  bool
}

// WorkerSummary is one session unit's result.
type WorkerSummary struct {
	SessionID  int64
	Phone      string
	Assigned   int // pending links snapshotted at start
	Success    int
	Requested  int
	Failed     int
	Dead       int
	Replaced   int
	FloodWaits int
	Attempts   int
	Cancelled  bool
	// Removed is set when the session was removed mid-cycle; the unit
	// stopped and its unprocessed links went back to the reserve.
	Removed  bool
	Err      string
	Duration time.Duration

	finished bool
}

// Processed counts items that reached a settled state.
func (w WorkerSummary) Processed() int {
	return w.Success + w.Requested + w.Failed + w.Dead
}

// Progress is published every ProgressEvery items.
type Progress struct {
	RunID     string
	SessionID int64
	Phone     string
	Done      int
	Total     int
	Success   int
	Failed    int
	Dead      int
}

// CycleReport is the result of RunCycle.
type CycleReport struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Distribution distributor.Report
	Workers      []WorkerSummary
	Cancelled    bool
}

// Totals sums every unit's counters.
func (r CycleReport) Totals() WorkerSummary {
	var t WorkerSummary
	for _, w := range r.Workers {
		t.Assigned += w.Assigned
		t.Success += w.Success
		t.Requested += w.Requested
		t.Failed += w.Failed
		t.Dead += w.Dead
		t.Replaced += w.Replaced
		t.FloodWaits += w.FloodWaits
		t.Attempts += w.Attempts
	}
	t.Duration = r.FinishedAt.Sub(r.StartedAt)
	t.Cancelled = r.Cancelled
	return t
}

// Errored counts units that aborted with an error.
func (r CycleReport) Errored() int {
	n := 0
	for _, w := range r.Workers {
		if w.Err != "" {
			n++
		}
	}
	return n
}
