// Package mtproto implements platform.Dialer on top of gotd/td, logging in
// user accounts from Telethon string sessions.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/platform"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

// Config carries the application credentials registered at my.telegram.org.
type Config struct {
	AppID   int
	AppHash string
	// HistoryBatch is the page size for history reads (max 100).
	HistoryBatch int
	// CloseTimeout bounds how long Close waits for the connection to wind down.
	CloseTimeout time.Duration
}

// Dialer opens MTProto sessions.
type Dialer struct {
	cfg Config
	log logx.Logger
}

var _ platform.Dialer = (*Dialer)(nil)

func NewDialer(cfg Config, log logx.Logger) (*Dialer, error) {
	if cfg.AppID <= 0 || strings.TrimSpace(cfg.AppHash) == "" {
		return nil, errors.New("mtproto: api_id and api_hash are required")
	}
	if cfg.HistoryBatch <= 0 || cfg.HistoryBatch > 100 {
		cfg.HistoryBatch = 100
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dialer{cfg: cfg, log: log.With(logx.String("comp", "mtproto"))}, nil
}

// Open decodes a Telethon string session, connects and checks that the
// session is logged in. The connection outlives ctx; it is released by Close.
func (d *Dialer) Open(ctx context.Context, credential string) (platform.Session, error) {
	data, err := session.TelethonSession(strings.TrimSpace(credential))
	if err != nil {
		return nil, platform.Fatal(fmt.Errorf("%w: %v", platform.ErrInvalidCredential, err))
	}
	store := new(session.StorageMemory)
	if err := (&session.Loader{Storage: store}).Save(ctx, data); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	client := telegram.NewClient(d.cfg.AppID, d.cfg.AppHash, telegram.Options{
		SessionStorage: store,
		NoUpdates:      true,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	s := &Session{
		client: client,
		api:    client.API(),
		cancel: cancel,
		done:   done,
		cfg:    d.cfg,
		log:    d.log,
	}
	select {
	case <-ready:
	case err := <-done:
		cancel()
		if err == nil {
			err = errors.New("connection closed")
		}
		return nil, classifyOpenErr(err)
	case <-ctx.Done():
		cancel()
		<-done
		return nil, ctx.Err()
	}

	status, err := client.Auth().Status(ctx)
	if err != nil {
		_ = s.Close()
		return nil, classifyOpenErr(err)
	}
	if !status.Authorized {
		_ = s.Close()
		return nil, platform.Fatal(platform.ErrUnauthorized)
	}
	return s, nil
}

// Session is one connected user account.
type Session struct {
	client *telegram.Client
	api    *tg.Client
	cancel context.CancelFunc
	done   chan error
	cfg    Config
	log    logx.Logger

	closeOnce sync.Once
}

var _ platform.Session = (*Session)(nil)

func (s *Session) Self(ctx context.Context) (platform.Identity, error) {
	u, err := s.client.Self(ctx)
	if err != nil {
		if fatal := fatalErr(err); fatal != nil {
			return platform.Identity{}, fatal
		}
		return platform.Identity{}, err
	}
	return platform.Identity{UserID: u.ID, Phone: u.Phone, Username: u.Username}, nil
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		t := time.NewTimer(s.cfg.CloseTimeout)
		defer t.Stop()
		select {
		case <-s.done:
		case <-t.C:
			s.log.Warn("session close timed out", logx.Duration("timeout", s.cfg.CloseTimeout))
		}
	})
	return nil
}

func classifyOpenErr(err error) error {
	if fatal := fatalErr(err); fatal != nil {
		return fatal
	}
	return fmt.Errorf("connect: %w", err)
}
