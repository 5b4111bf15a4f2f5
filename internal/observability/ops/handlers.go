package ops

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

func (s *Service) routes(cfg Config) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.Handler) { mux.Handle(pattern, withAuth(cfg.Token, h)) }

	handle("GET /healthz", http.HandlerFunc(s.healthz))
	handle("GET /metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	if cfg.Pprof {
		handle("/debug/pprof/", http.HandlerFunc(hpprof.Index))
		handle("/debug/pprof/cmdline", http.HandlerFunc(hpprof.Cmdline))
		handle("/debug/pprof/profile", http.HandlerFunc(hpprof.Profile))
		handle("/debug/pprof/symbol", http.HandlerFunc(hpprof.Symbol))
		handle("/debug/pprof/trace", http.HandlerFunc(hpprof.Trace))
	}
	return mux
}

type healthBody struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Service) healthz(w http.ResponseWriter, r *http.Request) {
	body, code := healthBody{Status: "ok"}, http.StatusOK
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := s.health(ctx)
		cancel()
		if err != nil {
			s.log.Warn("health check failed", logx.Err(err))
			body, code = healthBody{Status: "unhealthy", Error: err.Error()}, http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
// An empty token disables the check.
func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && got == "" {
			got = strings.TrimSpace(bearer)
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
