package ops

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

func testRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "joiner_test_total", Help: "test"})
	c.Add(3)
	reg.MustRegister(c)
	return reg
}

func serve(h http.Handler, target, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	var healthErr error
	s := New(Config{}, testRegistry(t), func(context.Context) error { return healthErr }, logx.Nop())

	h := s.routes(Config{Token: "s3cret"})
	tests := []struct {
		name   string
		target string
		auth   string
		code   int
	}{
		{name: "no token", target: "/healthz", code: http.StatusUnauthorized},
		{name: "wrong token", target: "/healthz", auth: "Bearer nope", code: http.StatusUnauthorized},
		{name: "bearer", target: "/healthz", auth: "Bearer s3cret", code: http.StatusOK},
		{name: "query", target: "/metrics?token=s3cret", code: http.StatusOK},
		{name: "pprof off", target: "/debug/pprof/?token=s3cret", code: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serve(h, tt.target, tt.auth); rec.Code != tt.code {
				t.Fatalf("GET %s = %d, want %d", tt.target, rec.Code, tt.code)
			}
		})
	}

	rec := serve(h, "/metrics", "Bearer s3cret")
	if !strings.Contains(rec.Body.String(), "joiner_test_total 3") {
		t.Fatalf("metrics body missing counter:\n%s", rec.Body.String())
	}

	healthErr = errors.New("database is locked")
	rec = serve(h, "/healthz", "Bearer s3cret")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "database is locked") {
		t.Fatalf("unhealthy /healthz = %d %s", rec.Code, rec.Body.String())
	}

	open := s.routes(Config{Pprof: true})
	if rec := serve(open, "/debug/pprof/", ""); rec.Code != http.StatusOK {
		t.Fatalf("pprof index = %d", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"garbage":        false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestServeAndReconfigure(t *testing.T) {
	t.Parallel()
	s := New(Config{}, testRegistry(t), nil, logx.Nop())
	ctx := context.Background()
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	defer s.Stop(ctx)

	addr := waitAddr(t, s)
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("/healthz = %d %q", resp.StatusCode, body)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatalf("still serving on %s after disable", s.Addr())
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, nil, logx.Nop())
	if err := s.start(context.Background()); err != nil || s.Addr() != "" {
		t.Fatalf("disabled start = %v, addr %q", err, s.Addr())
	}
	s.cfg = Config{Enabled: true, Addr: "0.0.0.0:0"}
	if err := s.start(context.Background()); !errors.Is(err, errInsecureBind) {
		t.Fatalf("start = %v, want insecure bind refusal", err)
	}
	s.cfg = Config{Enabled: true, Addr: "0.0.0.0:0", Token: "t"}
	if err := s.start(context.Background()); err != nil {
		t.Fatalf("start with token: %v", err)
	}
	s.Stop(context.Background())
}

func waitAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if a := s.Addr(); a != "" {
			return a
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never bound")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
