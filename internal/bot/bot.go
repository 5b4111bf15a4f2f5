// Package bot is the owner-only Telegram operator surface: slash commands,
// an inline menu and short conversations (pasting a credential or a list of
// source channels) on top of the joiner's components.
package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	rtsup "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/runtime/supervisor"
	kit "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/transport"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

var errNotStarted = errors.New("bot not started")

type Config struct {
	MinCredentialLen int
	VerifyOnAdd      bool
	DialTimeout      time.Duration
	ConversationTTL  time.Duration

	// ReportInline sends cycle results to the chat that started the cycle.
	// Leave it off when the notifier already posts them.
	ReportInline bool
}

func (c Config) withDefaults() Config {
	if c.MinCredentialLen <= 0 {
		c.MinCredentialLen = 100
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 30 * time.Second
	}
	return c
}

type Bot struct {
	mu   sync.Mutex
	cfg  Config
	deps Deps

	adapter kit.Adapter
	router  *Router
	conv    *conversations
	log     logx.Logger

	bgMu       sync.Mutex
	bg         *rtsup.Supervisor
	harvesting atomic.Bool
}

func New(cfg Config, deps Deps, adapter kit.Adapter, owners []int64, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	b := &Bot{
		cfg:     cfg,
		deps:    deps,
		adapter: adapter,
		router:  NewRouter(log, adapter, owners),
		conv:    newConversations(cfg.ConversationTTL),
		log:     log.With(logx.String("comp", "bot")),
	}
	return b
}

func (b *Bot) Router() *Router { return b.router }

func (b *Bot) Apply(cfg Config) {
	b.mu.Lock()
	b.cfg = cfg.withDefaults()
	b.mu.Unlock()
}

func (b *Bot) SetOwners(owners []int64) { b.router.SetOwners(owners) }

func (b *Bot) config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Start registers the command table and the background supervisor that
// runs long operations. It does not consume updates; see Run.
func (b *Bot) Start(ctx context.Context) {
	b.bgMu.Lock()
	if b.bg == nil {
		b.bg = rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(b.log),
			rtsup.WithCancelOnError(false),
		)
	}
	b.bgMu.Unlock()

	b.router.SetRegistry(ctx, b.commands(), b.callbacks())
	b.router.SetFallback(b.onText)
}

// Run dispatches updates until ctx ends or updates closes.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	return b.router.DispatchLoop(ctx, updates)
}

// Stop cancels background operations and waits for them.
func (b *Bot) Stop(ctx context.Context) {
	b.bgMu.Lock()
	bg := b.bg
	b.bg = nil
	b.bgMu.Unlock()
	if bg == nil {
		return
	}
	bg.Cancel()
	_ = bg.Wait(ctx)
}

// background runs fn detached from the request so a long cycle or harvest
// never holds a dispatcher worker.
func (b *Bot) background(name string, fn func(ctx context.Context) error) error {
	b.bgMu.Lock()
	bg := b.bg
	b.bgMu.Unlock()
	if bg == nil {
		return errNotStarted
	}
	bg.Go(name, fn)
	return nil
}
