package joiner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/eventbus"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/platform"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/storage"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

// unit is one session's share of a cycle.
type unit struct {
	o       *Orchestrator
	cfg     Config
	runID   string
	session storage.Session
	sum     *WorkerSummary
	log     logx.Logger

	sess platform.Session
}

// run is the supervised body. The returned error is also stored in the
// summary; the supervisor only logs it.
func (u *unit) run(stop context.Context) error {
	start := u.o.now()
	work := context.WithoutCancel(stop)
	err := u.work(stop, work)
	if errors.Is(err, errStopped) {
		err = nil
	}
	if err != nil {
		u.sum.Err = err.Error()
		u.log.Error("session unit aborted", logx.Err(err), logx.Bool("fatal", platform.IsFatal(err)))
	}
	u.sum.Duration = u.o.now().Sub(start)
	u.sum.finished = true
	eventbus.Emit(u.o.bus, EventWorkerFinished, *u.sum)
	return err
}

func (u *unit) work(stop, work context.Context) error {
	queue, err := u.o.store.PendingAssignments(work, u.session.ID, u.cfg.Capacity)
	if err != nil {
		return fmt.Errorf("load pending: %w", err)
	}
	u.sum.Assigned = len(queue)
	if len(queue) == 0 {
		u.log.Debug("nothing pending")
		return nil
	}
	if stop.Err() != nil {
		u.sum.Cancelled = true
		return nil
	}

	dctx, cancel := context.WithTimeout(stop, u.cfg.DialTimeout)
	sess, err := u.o.dialer.Open(dctx, u.session.Credential)
	cancel()
	if err != nil {
		if stop.Err() != nil {
			u.sum.Cancelled = true
			return nil
		}
		return fmt.Errorf("open session: %w", err)
	}
	u.sess = sess
	defer func() {
		if err := sess.Close(); err != nil {
			u.log.Warn("close session failed", logx.Err(err))
		}
	}()
	u.notePhone(work)

	u.log.Info("session unit started", logx.Int("pending", len(queue)))
	for i := 0; i < len(queue); i++ {
		if i > 0 && !u.o.sleep(stop, u.cfg.JoinDelay) {
			u.sum.Cancelled = true
			return nil
		}
		if stop.Err() != nil {
			u.sum.Cancelled = true
			return nil
		}
		if active, err := u.stillActive(work); err != nil {
			return err
		} else if !active {
			u.sum.Removed = true
			u.log.Info("session removed mid-cycle, stopping unit", logx.Int("left", len(queue)-i))
			return nil
		}
		repl, err := u.process(stop, work, queue[i])
		if errors.Is(err, errStopped) {
			u.sum.Cancelled = true
			return err
		}
		if err != nil {
			return err
		}
		if repl != nil {
			queue = append(queue, *repl)
		}
		if done := i + 1; done%u.cfg.ProgressEvery == 0 {
			u.publishProgress(done, len(queue))
		}
	}
	return nil
}

// stillActive reports whether the session may keep joining. A removal
// releases its pending links, so joining them would duplicate another
// session's work.
func (u *unit) stillActive(ctx context.Context) (bool, error) {
	sess, err := u.o.store.GetSession(ctx, u.session.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return sess.Status == storage.SessionActive, nil
}

// notePhone records the account phone the first time a session connects.
func (u *unit) notePhone(ctx context.Context) {
	if u.session.Phone != "" {
		return
	}
	id, err := u.sess.Self(ctx)
	if err != nil || id.Phone == "" {
		return
	}
	if err := u.o.store.SetSessionPhone(ctx, u.session.ID, id.Phone); err != nil {
		u.log.Warn("record phone failed", logx.Err(err))
		return
	}
	u.session.Phone = id.Phone
	u.sum.Phone = id.Phone
}

// process drives one link to a settled state. It returns the reserve link
// bound in place of a dead one, if any.
func (u *unit) process(stop, work context.Context, link storage.Link) (*storage.Link, error) {
	retries := 0
	for {
		u.sum.Attempts++
		out, err := u.join(work, link.Value)
		if err != nil {
			if platform.IsFatal(err) {
				u.appendLog(work, link, storage.LogError, err.Error())
				return nil, err
			}
			out = platform.Failure(err.Error())
		}

		switch out.Kind {
		case platform.OutcomeSuccess:
			u.sum.Success++
			u.appendLog(work, link, storage.LogSuccess, out.Reason)
			return nil, u.settle(link, u.o.store.SettleSuccess(work, u.session.ID, link.ID))

		case platform.OutcomeRequestPending:
			u.sum.Requested++
			u.appendLog(work, link, storage.LogRequested, out.Reason)
			return nil, u.settle(link, u.o.store.SettleRequested(work, u.session.ID, link.ID, out.Reason))

		case platform.OutcomePermanent:
			u.sum.Dead++
			u.appendLog(work, link, storage.LogDead, out.Reason)
			repl, found, err := u.o.store.ReplaceDeadAssignment(work, u.session.ID, link.ID, out.Reason)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					u.log.Warn("dead link vanished before tombstoning", logx.Int64("link_id", link.ID))
					return nil, nil
				}
				if errors.Is(err, storage.ErrAssignmentGone) {
					return nil, u.settle(link, err)
				}
				return nil, fmt.Errorf("replace dead link %d: %w", link.ID, err)
			}
			u.o.metrics.RecordReplacement(found)
			if !found {
				u.log.Warn("reserve empty, capacity shrinks for this run", logx.String("link", link.Value))
				return nil, nil
			}
			u.sum.Replaced++
			u.log.Info("dead link replaced", logx.String("dead", link.Value), logx.String("replacement", repl.Value))
			return &repl, nil

		case platform.OutcomeTransient:
			u.sum.FloodWaits++
			u.o.metrics.RecordFloodWait(out.Wait.Seconds())
			if out.Wait > u.cfg.FloodMaxWait || retries >= u.cfg.FloodRetryMax {
				reason := fmt.Sprintf("rate limited for %s after %d retries: %s", out.Wait, retries, out.Reason)
				u.sum.Failed++
				u.appendLog(work, link, storage.LogFailed, reason)
				return nil, u.settle(link, u.o.store.SettleFailed(work, u.session.ID, link.ID, reason))
			}
			reason := fmt.Sprintf("flood wait %s: %s", out.Wait, out.Reason)
			u.appendLog(work, link, storage.LogFloodWait, reason)
			if err := u.settle(link, u.o.store.BumpAttempt(work, u.session.ID, link.ID, reason)); err != nil {
				return nil, err
			}
			wait := out.Wait + u.cfg.FloodExtra
			u.log.Warn("rate limited, waiting", logx.String("link", link.Value), logx.Duration("wait", wait), logx.Int("retry", retries+1))
			if !u.o.sleep(stop, wait) {
				return nil, errStopped
			}
			retries++

		default:
			u.sum.Failed++
			u.appendLog(work, link, storage.LogFailed, out.Reason)
			return nil, u.settle(link, u.o.store.SettleFailed(work, u.session.ID, link.ID, out.Reason))
		}
	}
}

func (u *unit) join(work context.Context, link string) (platform.Outcome, error) {
	ctx, cancel := context.WithTimeout(work, u.cfg.JoinTimeout)
	defer cancel()
	start := time.Now()
	out, err := u.sess.Join(ctx, link)
	u.o.metrics.ObserveJoinLatency(time.Since(start).Seconds())
	return out, err
}

// settle swallows ErrAssignmentGone: the link was released under us by a
// removal and belongs to nobody now.
func (u *unit) settle(link storage.Link, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrAssignmentGone) {
		u.log.Warn("assignment released mid-cycle", logx.Int64("link_id", link.ID))
		return nil
	}
	return fmt.Errorf("settle link %d: %w", link.ID, err)
}

func (u *unit) appendLog(ctx context.Context, link storage.Link, status, msg string) {
	u.o.metrics.RecordJoin(status)
	err := u.o.store.AppendJoinLog(ctx, storage.JoinLogEntry{
		RunID:     u.runID,
		SessionID: u.session.ID,
		LinkValue: link.Value,
		Status:    status,
		Error:     msg,
	})
	if err != nil {
		u.log.Warn("append join log failed", logx.Err(err))
	}
}

func (u *unit) publishProgress(done, total int) {
	eventbus.Emit(u.o.bus, EventWorkerProgress, Progress{
		RunID:     u.runID,
		SessionID: u.session.ID,
		Phone:     u.sum.Phone,
		Done:      done,
		Total:     total,
		Success:   u.sum.Success,
		Failed:    u.sum.Failed,
		Dead:      u.sum.Dead,
	})
}
