package systemd

import (
	"context"
	"testing"
	"time"

	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

func TestNotifyOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	if Ready() || Stopping() || Status("idle") {
		t.Fatalf("notification reported delivered without NOTIFY_SOCKET")
	}
}

func TestWatchdogDisabledReturns(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	done := make(chan struct{})
	go func() {
		Watchdog(context.Background(), logx.Nop())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Watchdog kept running without WATCHDOG_USEC")
	}
}

func TestPropertyHelpers(t *testing.T) {
	t.Parallel()
	props := map[string]any{
		"ActiveState":          "active",
		"ActiveEnterTimestamp": uint64(1_700_000_000_000_000),
		"MemoryCurrent":        ^uint64(0),
	}
	if getString(props, "ActiveState") != "active" || getString(props, "Missing") != "" {
		t.Fatalf("getString mismatch")
	}
	if got := parseTimestamp(props, "ActiveEnterTimestamp"); !got.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("parseTimestamp = %v", got)
	}
	if !parseTimestamp(props, "Missing").IsZero() {
		t.Fatalf("missing timestamp not zero")
	}
	if memoryValue(props) != 0 {
		t.Fatalf("infinity memory not dropped")
	}
	props["MemoryCurrent"] = uint64(4096)
	if memoryValue(props) != 4096 {
		t.Fatalf("memoryValue = %d", memoryValue(props))
	}
}
