package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/transport"
)

const (
	telegramQueue   = 256
	telegramMaxText = 3500
	telegramMaxVal  = 600
	telegramMaxStk  = 900
)

// leadKeys come right after the header so the ids an operator acts on are
// visible without scrolling; the rest follow sorted.
var leadKeys = []string{"run_id", "session_id", "link", "err"}

var skipKeys = map[string]bool{"time": true, "level": true, "message": true, "comp": true, "stack": true}

type telegramItem struct {
	to  kit.ChatTarget
	msg string
}

// telegramSink is a zerolog.LevelWriter that queues lines for the log
// group. It never blocks the caller: a full queue or an exhausted rate
// drops the line.
type telegramSink struct {
	sender Sender
	queue  chan telegramItem

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newTelegramSink(sender Sender) *telegramSink {
	return &telegramSink{
		sender:   sender,
		queue:    make(chan telegramItem, telegramQueue),
		minLevel: zerolog.WarnLevel,
		limiter:  limiterFor(1),
	}
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = limiterFor(cfg.RatePerSec)
	if cfg.ThreadID != 0 {
		t.threadID = cfg.ThreadID
	}
}

func (t *telegramSink) setTarget(chatID int64, threadID int) {
	t.mu.Lock()
	t.chatID = chatID
	if threadID != 0 {
		t.threadID = threadID
	}
	t.mu.Unlock()
}

func (t *telegramSink) hasTarget() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID != 0
}

func (t *telegramSink) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil || t.sender == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx)
	}()
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		t.wg.Wait()
	}
}

func (t *telegramSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-t.queue:
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, _ = t.sender.SendText(sctx, it.to, it.msg, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	to := kit.ChatTarget{ChatID: t.chatID, ThreadID: t.threadID}
	ok := t.chatID != 0 && t.sender != nil && level >= t.minLevel && t.limiter.Allow()
	t.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if msg := formatTelegramJSON(p); msg != "" {
		select {
		case t.queue <- telegramItem{to: to, msg: msg}:
		default:
		}
	}
	return len(p), nil
}

// formatTelegramJSON turns a zerolog JSON line into a short plain-text
// message: "[LEVEL] message (comp)" then one "- key=value" line per field.
func formatTelegramJSON(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), telegramMaxText)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)
	if comp, _ := m["comp"].(string); comp != "" {
		b.WriteString(" (" + comp + ")")
	}

	writeKV := func(k string) {
		b.WriteString("\n- " + k + "=" + truncate(fmt.Sprint(m[k]), telegramMaxVal))
	}
	for _, k := range leadKeys {
		if _, ok := m[k]; ok {
			writeKV(k)
		}
	}
	rest := make([]string, 0, len(m))
	for k := range m {
		if !skipKeys[k] && !slices.Contains(leadKeys, k) {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	for _, k := range rest {
		writeKV(k)
	}
	if st, ok := m["stack"]; ok {
		b.WriteString("\n- stack=\n" + truncate(fmt.Sprint(st), telegramMaxStk))
	}
	return truncate(b.String(), telegramMaxText)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
