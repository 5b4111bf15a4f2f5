package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrAssignmentGone is returned by settle operations when the assignment no
	// longer belongs to the session (released by a removal or tombstoned).
	ErrAssignmentGone = errors.New("assignment no longer owned by session")
	ErrClosed         = errors.New("store closed")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

// Session statuses.
const (
	SessionActive  = "active"
	SessionRemoved = "removed"
)

// Link statuses.
const (
	LinkActive = "active"
	LinkDead   = "dead"
)

// Assignment join statuses.
const (
	JoinPending   = "pending"
	JoinRequested = "requested"
	JoinSuccess   = "success"
	JoinFailed    = "failed"
)

// Join log statuses. A superset of the assignment statuses: it also records
// transient waits, tombstones and worker-level errors.
const (
	LogSuccess   = "success"
	LogRequested = "requested"
	LogFailed    = "failed"
	LogFloodWait = "flood_wait"
	LogDead      = "dead"
	LogError     = "error"
)

// maxErrorText bounds every error string persisted by the store.
const maxErrorText = 1000

// Session is a worker identity: one logged-in user account.
type Session struct {
	ID         int64
	Credential string
	Phone      string
	Status     string
	CreatedAt  time.Time
}

// Link is the minimal view of a work item the orchestrator iterates over.
type Link struct {
	ID    int64
	Value string
}

// LinkRecord is the full row.
type LinkRecord struct {
	ID            int64
	Value         string
	Source        string
	Status        string
	DeadReason    string
	LastCheckedAt time.Time
	CreatedAt     time.Time
}

// Assignment binds one link to one session.
type Assignment struct {
	LinkID     int64
	SessionID  int64
	JoinStatus string
	Attempts   int
	LastError  string
	AssignedAt time.Time
	JoinedAt   time.Time
}

// JoinLogEntry is one append-only record of a join attempt.
type JoinLogEntry struct {
	ID        int64
	RunID     string
	SessionID int64
	LinkValue string
	Status    string
	Error     string
	CreatedAt time.Time
}

// SessionStats is the per-session slice of a Snapshot.
type SessionStats struct {
	SessionID int64
	Phone     string
	Assigned  int
	Pending   int
	Requested int
	Success   int
	Failed    int
}

// Snapshot is a consistent read of store totals.
type Snapshot struct {
	Sessions     int
	TotalLinks   int
	DeadLinks    int
	ReserveLinks int // active, unassigned
	Unassigned   int // any status, unassigned
	Assigned     int // assignments held by active sessions

	Pending   int
	Requested int
	Success   int
	Failed    int

	PerSession []SessionStats
	TakenAt    time.Time
}
