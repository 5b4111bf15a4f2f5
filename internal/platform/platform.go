// Package platform defines what the joiner needs from the messaging platform:
// open a user session from a stored credential, join a link, read channel
// history. The MTProto implementation lives in platform/mtproto.
package platform

import (
	"context"
	"fmt"
	"time"
)

// Dialer opens platform sessions from stored credentials.
type Dialer interface {
	// Open logs in with credential. Errors that mean the credential itself is
	// unusable are wrapped with Fatal.
	Open(ctx context.Context, credential string) (Session, error)
}

// Session is one logged-in user account.
type Session interface {
	Self(ctx context.Context) (Identity, error)
	// Join attempts to join the chat behind a canonical link. A non-nil error
	// means the session itself is unusable or the call failed for reasons
	// unrelated to the link; per-link results are reported through Outcome.
	Join(ctx context.Context, link string) (Outcome, error)
	// FetchMessages returns message texts from a source chat, newest first.
	// limit <= 0 reads the whole history.
	FetchMessages(ctx context.Context, source string, limit int) ([]string, error)
	Close() error
}

// Identity describes the account behind a session.
type Identity struct {
	UserID   int64
	Phone    string
	Username string
}

// OutcomeKind classifies a join attempt.
type OutcomeKind int

const (
	// OutcomeSuccess covers joined and already-a-participant.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeTransient is a rate limit; retry the same link after Wait.
	OutcomeTransient
	// OutcomeRequestPending means a join request awaits admin approval.
	OutcomeRequestPending
	// OutcomePermanent means the link can never be joined (expired, invalid,
	// private, unknown username). The link is tombstoned.
	OutcomePermanent
	// OutcomeFailed is an unclassified error for this link only.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeRequestPending:
		return "requested"
	case OutcomePermanent:
		return "permanent"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the classified result of one join attempt.
type Outcome struct {
	Kind   OutcomeKind
	Wait   time.Duration // OutcomeTransient only
	Reason string
}

func Success(note string) Outcome { return Outcome{Kind: OutcomeSuccess, Reason: note} }

func TransientWait(d time.Duration, reason string) Outcome {
	if d < 0 {
		d = 0
	}
	return Outcome{Kind: OutcomeTransient, Wait: d, Reason: reason}
}

func RequestPending(note string) Outcome { return Outcome{Kind: OutcomeRequestPending, Reason: note} }

func PermanentFailure(reason string) Outcome { return Outcome{Kind: OutcomePermanent, Reason: reason} }

func Failure(reason string) Outcome { return Outcome{Kind: OutcomeFailed, Reason: reason} }
