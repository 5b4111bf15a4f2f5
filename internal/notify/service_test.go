package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/eventbus"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/joiner"
	kit "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/transport"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []sent
	failures int // fail this many sends before succeeding
	ch       chan sent
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{ch: make(chan sent, 32)} }

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return kit.MessageRef{}, errors.New("telegram: 502")
	}
	f.sent = append(f.sent, sent{to: to, text: text})
	f.mu.Unlock()
	f.ch <- sent{to: to, text: text}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) SendDocument(context.Context, kit.ChatTarget, kit.Document, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (f *fakeAdapter) wait(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-f.ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatalf("nothing sent")
		return sent{}
	}
}

func testConfig(targets ...int64) Config {
	cfg := Config{Enabled: true, RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
	for _, id := range targets {
		cfg.Targets = append(cfg.Targets, kit.ChatTarget{ChatID: id})
	}
	return cfg
}

func TestNotifyFansOutToTargets(t *testing.T) {
	ad := newFakeAdapter()
	s := New(testConfig(1, 2), ad, nil, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	got := map[int64]string{}
	for range 2 {
		m := ad.wait(t)
		got[m.to.ChatID] = m.text
	}
	if got[1] != "hello" || got[2] != "hello" {
		t.Fatalf("sent = %v", got)
	}
}

func TestNotifyRetriesFailedSend(t *testing.T) {
	ad := newFakeAdapter()
	ad.failures = 2
	s := New(testConfig(1), ad, nil, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), "retry me"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if m := ad.wait(t); m.text != "retry me" {
		t.Fatalf("sent %q", m.text)
	}
	deadline := time.Now().Add(time.Second)
	for len(s.History()) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("history = %d items, want 1", len(s.History()))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifyStates(t *testing.T) {
	ad := newFakeAdapter()

	disabled := New(Config{}, ad, nil, logx.Nop())
	disabled.Start(context.Background())
	if err := disabled.Notify(context.Background(), "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Notify = %v, want ErrDisabled", err)
	}

	idle := New(testConfig(1), ad, nil, logx.Nop())
	if err := idle.Notify(context.Background(), "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started Notify = %v, want ErrStopped", err)
	}

	none := New(testConfig(), ad, nil, logx.Nop())
	none.Start(context.Background())
	defer none.Stop(context.Background())
	if err := none.Notify(context.Background(), "x"); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("no targets Notify = %v, want ErrNoTargets", err)
	}
}

func TestStopThenNotify(t *testing.T) {
	ad := newFakeAdapter()
	s := New(testConfig(1), ad, nil, logx.Nop())
	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if err := s.Notify(context.Background(), "late"); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after Stop = %v, want ErrStopped", err)
	}
	// Restart works after a full stop.
	s.Start(context.Background())
	defer s.Stop(context.Background())
	if err := s.Notify(context.Background(), "again"); err != nil {
		t.Fatalf("Notify after restart: %v", err)
	}
	ad.wait(t)
}

func TestEventsBecomeReports(t *testing.T) {
	ad := newFakeAdapter()
	bus := eventbus.New()
	cfg := testConfig(7)
	s := New(cfg, ad, bus, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	eventbus.Emit(bus, joiner.EventRunStarted, joiner.RunInfo{RunID: "r1", Sessions: 3})
	if m := ad.wait(t); !strings.Contains(m.text, "Join cycle started") || !strings.Contains(m.text, "r1") {
		t.Fatalf("run started report = %q", m.text)
	}

	// Progress is off unless enabled; a clean worker finish is silent.
	eventbus.Emit(bus, joiner.EventWorkerProgress, joiner.Progress{SessionID: 1, Done: 20, Total: 40})
	eventbus.Emit(bus, joiner.EventWorkerFinished, joiner.WorkerSummary{SessionID: 1})
	eventbus.Emit(bus, joiner.EventWorkerFinished, joiner.WorkerSummary{SessionID: 2, Phone: "+100", Err: "auth key revoked"})
	if m := ad.wait(t); !strings.Contains(m.text, "+100") || !strings.Contains(m.text, "auth key revoked") {
		t.Fatalf("worker error report = %q", m.text)
	}

	start := time.Now()
	eventbus.Emit(bus, joiner.EventRunFinished, joiner.CycleReport{
		RunID:      "r1",
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Workers: []joiner.WorkerSummary{
			{SessionID: 1, Assigned: 4, Success: 3, Dead: 1, Replaced: 1},
			{SessionID: 2, Phone: "+100", Err: "auth key revoked"},
		},
	})
	m := ad.wait(t)
	for _, want := range []string{"Join cycle finished", "1m30s", "#1: 3/4 joined", "+100: 0/0 joined (error)", "Sessions with errors"} {
		if !strings.Contains(m.text, want) {
			t.Fatalf("cycle report missing %q:\n%s", want, m.text)
		}
	}

	cfg.Progress = true
	s.Apply(cfg)
	eventbus.Emit(bus, joiner.EventWorkerProgress, joiner.Progress{SessionID: 1, Done: 20, Total: 40})
	if m := ad.wait(t); !strings.Contains(m.text, "20 / 40") {
		t.Fatalf("progress report = %q", m.text)
	}
}

func TestRetryDelayBounded(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("retryDelay(%d) = %v", attempt, d)
		}
	}
}
