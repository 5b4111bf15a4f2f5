package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/platform"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/storage"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

// ErrNoSession is returned when no active session can read the sources.
var ErrNoSession = errors.New("no active session to read sources with")

// Store is the subset of the work store the harvester writes to.
type Store interface {
	ActiveSessions(ctx context.Context) ([]storage.Session, error)
	AddLinks(ctx context.Context, values []string, source string) (int, error)
}

// Config bounds a harvest.
type Config struct {
	MessageLimit int           // per source; <= 0 reads the whole history
	DialTimeout  time.Duration // default 30s
}

// SourceReport is the result for one source chat.
type SourceReport struct {
	Source   string
	Messages int
	Found    int
	Added    int
	Err      string
}

// Report summarizes a harvest.
type Report struct {
	SessionID int64
	Sources   []SourceReport
	Found     int
	Added     int
}

// Harvester reads source chats with the first active session and stores
// every Telegram link it finds.
type Harvester struct {
	store  Store
	dialer platform.Dialer
	cfg    Config
	log    logx.Logger
}

func New(store Store, dialer platform.Dialer, cfg Config, log logx.Logger) *Harvester {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Harvester{store: store, dialer: dialer, cfg: cfg, log: log.With(logx.String("comp", "harvest"))}
}

// Harvest reads every source. A failing source is reported and skipped; only
// a failure to obtain a session aborts the whole harvest.
func (h *Harvester) Harvest(ctx context.Context, sources []string) (Report, error) {
	var rep Report
	sessions, err := h.store.ActiveSessions(ctx)
	if err != nil {
		return rep, fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return rep, ErrNoSession
	}
	reader := sessions[0]
	rep.SessionID = reader.ID

	dctx, cancel := context.WithTimeout(ctx, h.cfg.DialTimeout)
	sess, err := h.dialer.Open(dctx, reader.Credential)
	cancel()
	if err != nil {
		return rep, fmt.Errorf("open session %d: %w", reader.ID, err)
	}
	defer sess.Close()

	for _, raw := range sources {
		src := Normalize(raw)
		sr := SourceReport{Source: raw}
		if src == "" {
			sr.Err = "not a Telegram link"
			rep.Sources = append(rep.Sources, sr)
			continue
		}
		sr.Source = src
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		texts, err := sess.FetchMessages(ctx, src, h.cfg.MessageLimit)
		if err != nil {
			if platform.IsFatal(err) {
				return rep, fmt.Errorf("session %d: %w", reader.ID, err)
			}
			sr.Err = err.Error()
			h.log.Warn("harvest source failed", logx.String("source", src), logx.Err(err))
			rep.Sources = append(rep.Sources, sr)
			continue
		}
		sr.Messages = len(texts)

		values := Collect(texts...)
		sr.Found = len(values)
		added, err := h.store.AddLinks(ctx, values, src)
		if err != nil {
			return rep, fmt.Errorf("store links from %s: %w", src, err)
		}
		sr.Added = added
		rep.Found += sr.Found
		rep.Added += added
		rep.Sources = append(rep.Sources, sr)
		h.log.Info("harvested source",
			logx.String("source", src),
			logx.Int("messages", sr.Messages),
			logx.Int("found", sr.Found),
			logx.Int("added", added),
		)
	}
	return rep, nil
}
