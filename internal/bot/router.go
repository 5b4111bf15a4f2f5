package bot

import (
	"context"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/runtime/supervisor"
	kit "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/transport"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/tgui"
)

// Command is a slash command. Name must be Telegram-safe ([a-z0-9_]).
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline button data "scope:action[:payload]".
type CallbackRoute struct {
	Scope   string
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Text    string // full text for non-command messages
	Payload string
	ReqID   string
	Logger  logx.Logger

	// MessageID is the message carrying the pressed button (callbacks only).
	MessageID int
}

// Router dispatches updates to owner-only commands, callbacks and a
// fallback for plain text. Handlers run on a bounded worker pool.
type Router struct {
	mu        sync.RWMutex
	commands  map[string]Command
	alias     map[string]string
	callbacks map[string]map[string]CallbackRoute // scope -> action -> route
	fallback  HandlerFunc
	owners    []int64

	log     logx.Logger
	adapter kit.Adapter
	workers int

	runMu   sync.Mutex
	running bool
	jobs    chan func()
}

func NewRouter(log logx.Logger, adapter kit.Adapter, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	return &Router{
		commands:  map[string]Command{},
		alias:     map[string]string{},
		callbacks: map[string]map[string]CallbackRoute{},
		owners:    append([]int64(nil), owners...),
		log:       log.With(logx.String("comp", "bot.router")),
		adapter:   adapter,
		workers:   workers,
	}
}

// SetOwners updates the owner list. Safe to call during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) ownersSnapshot() []int64 {
	r.mu.RLock()
	cp := append([]int64(nil), r.owners...)
	r.mu.RUnlock()
	return cp
}

// SetFallback installs the handler for owner text that is not a command.
func (r *Router) SetFallback(h HandlerFunc) {
	r.mu.Lock()
	r.fallback = h
	r.mu.Unlock()
}

// SetRegistry replaces the command and callback tables and pushes the
// command list to the platform menu when the adapter supports it.
func (r *Router) SetRegistry(ctx context.Context, cmds []Command, cbs []CallbackRoute) {
	commands := map[string]Command{}
	alias := map[string]string{}
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		commands[name] = c
		for _, a := range c.Aliases {
			if sa := sanitizeTelegramCommand(a); sa != "" && sa != name {
				alias[sa] = name
			}
		}
	}

	callbacks := map[string]map[string]CallbackRoute{}
	for _, cb := range cbs {
		s := strings.TrimSpace(cb.Scope)
		a := strings.TrimSpace(cb.Action)
		if s == "" || a == "" || cb.Handle == nil {
			continue
		}
		if callbacks[s] == nil {
			callbacks[s] = map[string]CallbackRoute{}
		}
		callbacks[s][a] = cb
	}

	r.mu.Lock()
	r.commands = commands
	r.alias = alias
	r.callbacks = callbacks
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenuCommands(cmds)
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Commands returns the registered commands sorted by name.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DispatchLoop consumes updates until ctx ends or updates closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	jobs := make(chan func(), 256)
	r.runMu.Lock()
	r.jobs = jobs
	r.running = true
	r.runMu.Unlock()

	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(jobs)))

	for i := range r.workers {
		sup.Go0("command.worker."+strconv.Itoa(i), func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case job, ok := <-jobs:
					if !ok {
						return
					}
					job()
				}
			}
		})
	}

	defer func() {
		r.runMu.Lock()
		r.running = false
		close(jobs)
		r.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := msg.Target()
	text := strings.TrimSpace(msg.Text)
	owner := isOwner(msg.FromID, r.ownersSnapshot())

	if !strings.HasPrefix(text, "/") {
		r.mu.RLock()
		fb := r.fallback
		r.mu.RUnlock()
		if !owner || fb == nil || text == "" {
			return
		}
		req := r.newRequest(up, chat, msg.FromID, "text")
		req.Text = text
		r.enqueue(ctx, req, fb, 0, nil)
		return
	}

	parts := strings.Fields(text)
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	r.mu.RLock()
	cmd, ok := r.commands[word]
	if !ok {
		if name, hit := r.alias[word]; hit {
			cmd, ok = r.commands[name]
		}
	}
	r.mu.RUnlock()

	if !owner {
		_, _ = r.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}
	if !ok {
		_, _ = r.adapter.SendText(ctx, chat, "unknown command, try /help", nil)
		return
	}

	req := r.newRequest(up, chat, msg.FromID, cmd.Name)
	req.Args = parts[1:]
	req.Text = text
	r.enqueue(ctx, req, cmd.Handle, cmd.Timeout, func() {
		_, _ = r.adapter.SendText(ctx, chat, "busy, try again", nil)
	})
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, payload := tgui.ParseData(strings.TrimSpace(cb.Data))
	if scope == "" || action == "" {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	r.mu.RLock()
	route, ok := r.callbacks[scope][action]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if !isOwner(cb.FromID, r.ownersSnapshot()) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}

	req := r.newRequest(up, cb.Target(), cb.FromID, "cb:"+scope+":"+action)
	req.Payload = payload
	req.MessageID = cb.MessageID
	h := func(ctx context.Context, req *Request) error {
		err := route.Handle(ctx, req, payload)
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return err
	}
	r.enqueue(ctx, req, h, route.Timeout, func() {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "busy")
	})
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, command string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
		),
	}
}

func (r *Router) enqueue(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration, busy func()) {
	final := wrap(h, recovered, logged, deadline(timeout))
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) && busy != nil {
		busy()
	}
}

func (r *Router) tryEnqueue(fn func()) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return false
	}
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}

func newReqID() string { return uuid.NewString()[:8] }
