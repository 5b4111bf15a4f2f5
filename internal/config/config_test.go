package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const minimalJSON = `{
  "telegram": {"token": "123:abc", "owner_user_ids": [42], "group_log": "-100123"},
  "logging": {"level": "info", "console": true},
  "storage": {"path": "./data/joiner.db"},
  "platform": {"api_id": 1, "api_hash": "hash"},
  "joiner": {},
  "schedule": {"enabled": false}
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rt, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rt.Capacity != 1000 || rt.ReserveTarget != 500 {
		t.Fatalf("capacity/reserve = %d/%d, want 1000/500", rt.Capacity, rt.ReserveTarget)
	}
	if rt.JoinDelay != time.Minute || rt.FloodExtra != 10*time.Second || rt.FloodMaxWait != time.Hour {
		t.Fatalf("durations = %v %v %v", rt.JoinDelay, rt.FloodExtra, rt.FloodMaxWait)
	}
	if rt.FloodRetryMax != 3 || rt.MinCredentialLen != 100 || rt.ProgressEvery != 20 {
		t.Fatalf("joiner defaults = %+v", rt)
	}
	if rt.GroupLogChat != -100123 {
		t.Fatalf("group log chat = %d", rt.GroupLogChat)
	}
	if !rt.NotifierEnabled {
		t.Fatalf("notifier disabled by default")
	}
	if rt.Ops.Addr != "127.0.0.1:6060" {
		t.Fatalf("ops addr = %q", rt.Ops.Addr)
	}
}

func TestResolveExplicitZeroes(t *testing.T) {
	t.Parallel()
	zero := 0
	cfg := &Config{
		Telegram: TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}},
		Platform: PlatformConfig{APIID: 1, APIHash: "h"},
		Joiner:   JoinerConfig{ReserveTarget: &zero, FloodRetryMax: &zero, JoinDelay: "0s"},
	}
	rt, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rt.ReserveTarget != 0 || rt.FloodRetryMax != 0 || rt.JoinDelay != 0 {
		t.Fatalf("explicit zeroes lost: reserve %d retries %d delay %v", rt.ReserveTarget, rt.FloodRetryMax, rt.JoinDelay)
	}
}

func TestResolveCollectsErrors(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Telegram: TelegramConfig{GroupLog: "not-a-chat"},
		Joiner:   JoinerConfig{FloodExtra: "soon"},
		Schedule: ScheduleConfig{Timezone: "Mars/Olympus"},
		Ops:      OpsConfig{Enabled: true, Addr: "0.0.0.0:6060"},
	}
	_, err := Resolve(cfg)
	if err == nil {
		t.Fatalf("Resolve accepted an invalid config")
	}
	for _, want := range []string{
		"telegram.token",
		"telegram.owner_user_ids",
		"telegram.group_log",
		"platform.api_id",
		"platform.api_hash",
		"joiner.flood_extra",
		"schedule.timezone",
		"ops.addr",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	body := strings.Replace(minimalJSON, `"joiner": {}`, `"joiner": {"capacity": 5}`, 1)
	m := NewManager(writeFile(t, "config.json", body))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("Parse accepted an unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", minimalJSON+"{}"))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("Parse accepted trailing data")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	body := `
telegram:
  token: "123:abc"
  owner_user_ids: [42, 43]
platform:
  api_id: 7
  api_hash: h
joiner:
  per_session_capacity: 200
  reserve_target: 50
  join_delay: 5s
schedule:
  enabled: true
  auto_run: "@every 6h"
`
	m := NewManager(writeFile(t, "config.yaml", body))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rt, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rt.Capacity != 200 || rt.ReserveTarget != 50 || rt.JoinDelay != 5*time.Second {
		t.Fatalf("joiner = %d %d %v", rt.Capacity, rt.ReserveTarget, rt.JoinDelay)
	}
	if !slices.Equal(rt.OwnerUserIDs, []int64{42, 43}) || rt.AutoRun != "@every 6h" {
		t.Fatalf("runtime = %+v", rt)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	reserve := 100
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Joiner: JoinerConfig{JoinDelay: "60s"}}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "b"},
		Joiner:   JoinerConfig{JoinDelay: "30s", ReserveTarget: &reserve},
		Ops:      OpsConfig{Enabled: true, Token: "secret"},
	}
	changed, fields, restart := SummarizeConfigChange(oldCfg, newCfg)
	if !slices.Equal(changed, []string{"joiner", "ops", "telegram"}) {
		t.Fatalf("changed = %v", changed)
	}
	if !slices.Equal(restart, []string{"telegram"}) {
		t.Fatalf("restart = %v", restart)
	}
	if len(fields) == 0 {
		t.Fatalf("no log fields")
	}

	same, _, _ := SummarizeConfigChange(oldCfg, oldCfg)
	if len(same) != 0 {
		t.Fatalf("identical configs reported %v", same)
	}
}

func TestDurationFields(t *testing.T) {
	t.Parallel()
	if d, err := durationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := durationField("joiner.join_delay", "-1s"); err == nil {
		t.Fatalf("negative accepted")
	}
	_, err := durationField("joiner.join_delay", "abc")
	if err == nil || !strings.Contains(err.Error(), "joiner.join_delay") {
		t.Fatalf("err = %v, want path in message", err)
	}
	if d, _ := durationOr("x", "0s", time.Second); d != time.Second {
		t.Fatalf("default not applied: %v", d)
	}
}

func TestWatchPublishesValidatedChange(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", minimalJSON)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		_, err := Resolve(cfg)
		return err
	})
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)

	// Rejected: api_hash removed.
	bad := strings.Replace(minimalJSON, `"api_hash": "hash"`, `"api_hash": ""`, 1)
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-ch:
		t.Fatalf("invalid config published")
	case <-time.After(700 * time.Millisecond):
	}

	good := strings.Replace(minimalJSON, `"joiner": {}`, `"joiner": {"join_delay": "5s"}`, 1)
	if err := os.WriteFile(path, []byte(good), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cfg := <-ch:
		if cfg.Joiner.JoinDelay != "5s" {
			t.Fatalf("published join_delay = %q", cfg.Joiner.JoinDelay)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("valid config not published")
	}
	if got := m.Get().Joiner.JoinDelay; got != "5s" {
		t.Fatalf("committed join_delay = %q", got)
	}
}
