package logx

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	kit "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/transport"
)

type nopSender struct{}

func (nopSender) SendText(context.Context, kit.ChatTarget, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, c := range cases {
		if got := parseLevel(c.in, zerolog.InfoLevel); got != c.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"join failed","comp":"joiner","attempt":2,"err":"boom","session_id":3,"caller":"unit.go:9"}`)
	got := formatTelegramJSON(line)
	if !strings.HasPrefix(got, "[WARN] join failed (joiner)") {
		t.Fatalf("header = %q", got)
	}
	// ids first, then the remaining keys sorted
	order := []string{"- session_id=3", "- err=boom", "- attempt=2", "- caller=unit.go:9"}
	last := -1
	for _, want := range order {
		i := strings.Index(got, want)
		if i < 0 || i < last {
			t.Fatalf("%q missing or out of order in %q", want, got)
		}
		last = i
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("time leaked into message: %q", got)
	}
}

func TestFormatTelegramJSONTruncatesRaw(t *testing.T) {
	t.Parallel()
	got := formatTelegramJSON([]byte(strings.Repeat("a", 5000)))
	if len(got) != 3500 || !strings.HasSuffix(got, "...") {
		t.Fatalf("len = %d", len(got))
	}
}

func TestTelegramSinkFiltersAndLimits(t *testing.T) {
	t.Parallel()
	sink := newTelegramSink(nopSender{})
	sink.configure(TelegramConfig{MinLevel: "error", RatePerSec: 1})
	line := []byte(`{"level":"error","message":"x"}`)

	if _, err := sink.WriteLevel(zerolog.ErrorLevel, line); err != nil {
		t.Fatal(err)
	}
	if len(sink.queue) != 0 {
		t.Fatalf("queued without a target")
	}

	sink.setTarget(-100, 7)
	_, _ = sink.WriteLevel(zerolog.WarnLevel, line)
	_, _ = sink.WriteLevel(zerolog.ErrorLevel, line)
	_, _ = sink.WriteLevel(zerolog.ErrorLevel, line) // over the rate
	if len(sink.queue) != 1 {
		t.Fatalf("queue = %d, want 1", len(sink.queue))
	}
	it := <-sink.queue
	if it.to.ChatID != -100 || it.to.ThreadID != 7 {
		t.Fatalf("target = %+v", it.to)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger IsZero = false")
	}
	l.With(String("k", "v")).Info("ignored")
	Nop().Error("ignored", Err(nil))
}
