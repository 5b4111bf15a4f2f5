// Package notify turns joiner events and scheduled summaries into operator
// messages. Reports go through a bounded queue drained by one rate-limited
// sender; a full queue drops the report instead of blocking the caller.
package notify

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/eventbus"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/joiner"
	rtsup "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/runtime/supervisor"
	kit "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/transport"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

const historySize = 100

type job struct {
	to   kit.ChatTarget
	text string
}

// run is one Start..Stop lifetime.
type run struct {
	queue chan job
	sup   *rtsup.Supervisor
	unsub func()
	done  chan struct{}
}

type Service struct {
	log     logx.Logger
	adapter kit.Adapter
	bus     *eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	cur     *run

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter kit.Adapter, bus *eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, bus: bus, log: log}
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Enabling or disabling does not start or stop a
// running service; the caller does that.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	cfg.Targets = append([]kit.ChatTarget(nil), cfg.Targets...)
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Start launches the sender and, with a bus, the event listener. It is a
// no-op while disabled or already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil || !s.cfg.Enabled {
		return
	}

	r := &run{
		queue: make(chan job, s.cfg.QueueSize),
		sup:   rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
		done:  make(chan struct{}),
	}
	r.sup.Go0("sender", func(c context.Context) { s.senderLoop(c, r.queue) })
	if s.bus != nil {
		var events <-chan eventbus.Event
		events, r.unsub = s.bus.Subscribe(64,
			joiner.EventRunStarted,
			joiner.EventWorkerProgress,
			joiner.EventWorkerFinished,
			joiner.EventRunFinished,
		)
		r.sup.Go0("events", func(c context.Context) { s.eventLoop(c, events) })
	}
	go func() {
		_ = r.sup.Wait(context.Background())
		close(r.done)
	}()
	s.cur = r
	s.log.Info("notifier started", logx.Int("queue", cap(r.queue)))
}

// Stop refuses new reports and lets the sender drain what is queued until
// ctx ends; anything left after that is abandoned.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	r := s.cur
	s.cur = nil
	if r != nil {
		if r.unsub != nil {
			r.unsub()
		}
		close(r.queue)
	}
	s.mu.Unlock()
	if r == nil {
		return
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		r.sup.Cancel()
		s.log.Warn("notifier stopped with reports pending", logx.Int("pending", len(r.queue)))
	}
}

// Notify queues text (HTML) for every configured target.
func (s *Service) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.cfg.Enabled:
		return ErrDisabled
	case s.cur == nil:
		return ErrStopped
	case len(s.cfg.Targets) == 0:
		return ErrNoTargets
	}

	var dropped int
	for _, to := range s.cfg.Targets {
		select {
		case s.cur.queue <- job{to: to, text: text}:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		s.log.Warn("report dropped, queue full", logx.Int("targets", dropped))
		return ErrQueueFull
	}
	return nil
}

// History returns the most recent delivered reports, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) delivered(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if n := len(s.history) - historySize; n > 0 {
		s.history = append(s.history[:0], s.history[n:]...)
	}
	s.hmu.Unlock()
}

func (s *Service) eventLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		var e eventbus.Event
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e = ev
		}
		text := s.render(e)
		if text == "" {
			continue
		}
		if err := s.Notify(ctx, text); err != nil && !errors.Is(err, ErrStopped) {
			s.log.Debug("report not queued", logx.String("event", e.Type), logx.Err(err))
		}
	}
}

func (s *Service) render(e eventbus.Event) string {
	switch d := e.Data.(type) {
	case joiner.RunInfo:
		return FormatRunStarted(d)
	case joiner.Progress:
		s.mu.Lock()
		on := s.cfg.Progress
		s.mu.Unlock()
		if on {
			return FormatProgress(d)
		}
	case joiner.WorkerSummary:
		if d.Err != "" {
			return FormatWorkerError(d)
		}
	case joiner.CycleReport:
		return FormatCycleReport(d)
	}
	return ""
}

func (s *Service) senderLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

// deliver sends one report, retrying with backoff up to RetryMax times.
func (s *Service) deliver(ctx context.Context, j job) {
	if s.adapter == nil || j.text == "" {
		return
	}
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	var err error
	for attempt := 1; ; attempt++ {
		if werr := lim.Wait(ctx); werr != nil {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err = s.adapter.SendText(sctx, j.to, j.text, opt)
		cancel()
		if err == nil {
			s.delivered(j.text)
			return
		}
		if attempt > cfg.RetryMax {
			break
		}
		s.log.Debug("report send failed, retrying", logx.Int("attempt", attempt), logx.Err(err))
		select {
		case <-time.After(retryDelay(cfg, attempt)):
		case <-ctx.Done():
			return
		}
	}
	s.log.Warn("report not delivered", logx.Int64("chat_id", j.to.ChatID), logx.Err(err))
}

// retryDelay doubles RetryBase per attempt with ±30% jitter, capped at
// RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase << min(attempt-1, 16)
	if d <= 0 || d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(d)*3/5+1)) - d*3/10
	return min(max(d+jitter, time.Millisecond), cfg.RetryMaxDelay)
}
