// Package scheduler fires the bot's periodic jobs (automatic join cycles,
// stats reports) on cron or interval schedules.
//
// Jobs are registered once by name; the configuration decides which of them
// are scheduled and when. Apply rebuilds the cron instance, so schedule and
// timezone changes take effect without a restart. A job that is still
// running when its next tick arrives is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

// Job names known to the bot.
const (
	JobAutoRun     = "auto_run"
	JobStatsReport = "stats_report"
)

// JobFunc is one scheduled job. Its error is logged, never retried.
type JobFunc func(ctx context.Context) error

// Config selects which registered jobs run and when.
type Config struct {
	Enabled  bool
	Location *time.Location
	// Specs maps a job name to its schedule. An empty spec disables the job.
	Specs map[string]string
}

// EntryInfo describes one scheduled job.
type EntryInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks every non-empty spec in cfg.
func Validate(cfg Config) error {
	var errs []error
	for name, raw := range cfg.Specs {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := compile(raw); err != nil {
			errs = append(errs, fmt.Errorf("schedule.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func compile(raw string) (cron.Schedule, error) {
	p, err := ParseSchedule(raw)
	if err != nil {
		return nil, err
	}
	return parser.Parse(p.CronSpec())
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	jobs    map[string]JobFunc
	c       *cron.Cron
	entries map[string]cron.EntryID
	specs   map[string]string

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		cfg:     cfg,
		jobs:    map[string]JobFunc{},
		entries: map[string]cron.EntryID{},
		specs:   map[string]string{},
	}
}

// Register binds fn to name. Registering after Start takes effect on the
// next Apply.
func (s *Service) Register(name string, fn JobFunc) {
	s.mu.Lock()
	s.jobs[name] = fn
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start begins triggering. Jobs get a context derived from ctx that ends on
// Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.rebuildLocked()
}

// Apply swaps the configuration and reschedules when running.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.ctx != nil {
		s.rebuildLocked()
	}
}

// Stop halts triggering and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduled jobs still running at shutdown")
	}
}

func (s *Service) rebuildLocked() {
	if s.c != nil {
		// Running jobs keep going; only triggering stops.
		s.c.Stop()
		s.c = nil
	}
	clear(s.entries)
	clear(s.specs)
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	names := make([]string, 0, len(s.cfg.Specs))
	for name := range s.cfg.Specs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		raw := strings.TrimSpace(s.cfg.Specs[name])
		if raw == "" {
			continue
		}
		fn, ok := s.jobs[name]
		if !ok {
			s.log.Warn("schedule for unknown job ignored", logx.String("job", name))
			continue
		}
		sched, err := compile(raw)
		if err != nil {
			s.log.Warn("invalid schedule ignored", logx.String("job", name), logx.String("spec", raw), logx.Err(err))
			continue
		}
		s.entries[name] = s.c.Schedule(sched, s.wrap(name, fn))
		s.specs[name] = raw
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("jobs", len(s.entries)))
}

func (s *Service) wrap(name string, fn JobFunc) cron.Job {
	ctx := s.ctx
	return cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		s.log.Info("scheduled job started", logx.String("job", name))
		if err := fn(ctx); err != nil {
			s.log.Warn("scheduled job failed", logx.String("job", name), logx.Duration("took", time.Since(start)), logx.Err(err))
			return
		}
		s.log.Info("scheduled job finished", logx.String("job", name), logx.Duration("took", time.Since(start)))
	})
}

// Entries lists scheduled jobs sorted by name.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	out := make([]EntryInfo, 0, len(s.entries))
	for name, id := range s.entries {
		e := s.c.Entry(id)
		out = append(out, EntryInfo{Name: name, Spec: s.specs[name], Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger routes cron's own messages through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
