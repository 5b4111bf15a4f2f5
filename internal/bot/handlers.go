package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/joiner"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/notify"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/scheduler"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/stats"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/storage"
	kit "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/transport"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/systemd"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/tgui"
)

func (b *Bot) commands() []Command {
	return []Command{
		{Name: "start", Aliases: []string{"menu"}, Description: "open the menu", Handle: b.cmdMenu},
		{Name: "help", Description: "list commands", Handle: b.cmdHelp},
		{Name: "add_session", Description: "add a worker session", Usage: "/add_session [credential]", Timeout: 2 * time.Minute, Handle: b.cmdAddSession},
		{Name: "sessions", Description: "list active sessions", Timeout: 30 * time.Second, Handle: b.cmdSessions},
		{Name: "remove_session", Aliases: []string{"rm"}, Description: "remove a session, releasing its pending links", Usage: "/remove_session <id>", Timeout: 30 * time.Second, Handle: b.cmdRemove},
		{Name: "harvest", Description: "collect links from source channels", Usage: "/harvest [channel links...]", Handle: b.cmdHarvest},
		{Name: "distribute", Description: "assign reserve links to sessions", Timeout: time.Minute, Handle: b.cmdDistribute},
		{Name: "run", Aliases: []string{"join"}, Description: "distribute, then join with every session", Handle: b.cmdRun},
		{Name: "stop", Description: "stop the running join cycle", Handle: b.cmdStop},
		{Name: "stats", Description: "link and join statistics", Timeout: 30 * time.Second, Handle: b.cmdStats},
		{Name: "export", Description: "download link lists", Timeout: 5 * time.Minute, Handle: b.cmdExport},
		{Name: "status", Description: "host and runtime status", Timeout: 30 * time.Second, Handle: b.cmdStatus},
		{Name: "cancel", Description: "forget a pending prompt", Handle: b.cmdCancel},
	}
}

func (b *Bot) callbacks() []CallbackRoute {
	simple := func(h HandlerFunc) CallbackHandlerFunc {
		return func(ctx context.Context, req *Request, _ string) error { return h(ctx, req) }
	}
	return []CallbackRoute{
		{Scope: scopeMenu, Action: actHome, Handle: b.cbHome},
		{Scope: scopeMenu, Action: actAdd, Handle: simple(b.promptCredential)},
		{Scope: scopeMenu, Action: actSessions, Timeout: 30 * time.Second, Handle: b.cbSessions},
		{Scope: scopeMenu, Action: actRemove, Timeout: 30 * time.Second, Handle: b.cbRemove},
		{Scope: scopeMenu, Action: actRemoveOK, Timeout: 30 * time.Second, Handle: b.cbRemoveOK},
		{Scope: scopeMenu, Action: actHarvest, Handle: simple(b.promptSources)},
		{Scope: scopeMenu, Action: actRun, Handle: simple(b.cmdRun)},
		{Scope: scopeMenu, Action: actStop, Handle: simple(b.cmdStop)},
		{Scope: scopeMenu, Action: actDistribute, Timeout: time.Minute, Handle: simple(b.cmdDistribute)},
		{Scope: scopeMenu, Action: actExport, Timeout: 5 * time.Minute, Handle: simple(b.cmdExport)},
		{Scope: scopeMenu, Action: actStats, Timeout: 30 * time.Second, Handle: simple(b.cmdStats)},
		{Scope: scopeMenu, Action: actStatus, Timeout: 30 * time.Second, Handle: simple(b.cmdStatus)},
	}
}

func (b *Bot) reply(ctx context.Context, req *Request, text string) error {
	_, err := tgui.New().Line(text).Build().Send(ctx, b.adapter, req.Chat)
	return err
}

func (b *Bot) replyHTML(ctx context.Context, req *Request, html string) error {
	_, err := b.adapter.SendText(ctx, req.Chat, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (b *Bot) menuMessage() tgui.Message {
	return tgui.New().
		Title("🤖", "Link joiner").
		Line("Pick an action, or send /help for commands.").
		Inline(mainMenu()).
		Build()
}

func (b *Bot) cmdMenu(ctx context.Context, req *Request) error {
	_, err := b.menuMessage().Send(ctx, b.adapter, req.Chat)
	return err
}

func (b *Bot) cbHome(ctx context.Context, req *Request, _ string) error {
	b.conv.clear(req.FromID)
	return b.menuMessage().Edit(ctx, b.adapter, b.ref(req))
}

func (b *Bot) cmdHelp(ctx context.Context, req *Request) error {
	return b.replyHTML(ctx, req, formatHelp(b.router.Commands()))
}

func (b *Bot) cmdCancel(ctx context.Context, req *Request) error {
	if b.conv.clear(req.FromID) {
		return b.reply(ctx, req, "Cancelled.")
	}
	return b.reply(ctx, req, "Nothing to cancel.")
}

func (b *Bot) ref(req *Request) kit.MessageRef {
	return kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: req.MessageID}
}

// onText receives owner text that is not a command and completes the
// pending prompt, if any.
func (b *Bot) onText(ctx context.Context, req *Request) error {
	switch b.conv.take(req.FromID) {
	case convAwaitCredential:
		return b.addSession(ctx, req, req.Text)
	case convAwaitSources:
		return b.startHarvest(ctx, req, strings.Fields(req.Text))
	default:
		return b.reply(ctx, req, "Send /menu for the actions.")
	}
}

// Sessions

func (b *Bot) promptCredential(ctx context.Context, req *Request) error {
	b.conv.set(req.FromID, convAwaitCredential)
	return b.reply(ctx, req, "Send the session string of the account to add, or /cancel.")
}

func (b *Bot) cmdAddSession(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return b.promptCredential(ctx, req)
	}
	return b.addSession(ctx, req, strings.Join(req.Args, ""))
}

func (b *Bot) addSession(ctx context.Context, req *Request, credential string) error {
	cfg := b.config()
	credential = strings.TrimSpace(credential)
	if n := utf8.RuneCountInString(credential); n < cfg.MinCredentialLen {
		return b.reply(ctx, req, fmt.Sprintf("That does not look like a session string (%d characters, want at least %d).", n, cfg.MinCredentialLen))
	}

	phone := ""
	verified := false
	if cfg.VerifyOnAdd && b.deps.Dialer != nil {
		p, err := b.verify(ctx, credential, cfg.DialTimeout)
		if err != nil {
			req.Logger.Warn("session verification failed", logx.Err(err))
			return b.reply(ctx, req, "Login check failed: "+tgui.TruncRunes(err.Error(), 300))
		}
		phone, verified = p, true
	}

	sess, created, err := b.deps.Store.AddSession(ctx, credential, phone)
	if err != nil {
		return fmt.Errorf("add session: %w", err)
	}
	if !created {
		return b.reply(ctx, req, fmt.Sprintf("Session %s is already active.", sessionLabel(sess)))
	}
	req.Logger.Info("session added", logx.Int64("session_id", sess.ID), logx.Bool("verified", verified))
	return b.reply(ctx, req, fmt.Sprintf("Session %s added.", sessionLabel(sess)))
}

// verify logs in once and returns the account's phone number, which may be
// empty when the account hides it.
func (b *Bot) verify(ctx context.Context, credential string, timeout time.Duration) (string, error) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sess, err := b.deps.Dialer.Open(dctx, credential)
	if err != nil {
		return "", err
	}
	defer sess.Close()
	id, err := sess.Self(dctx)
	if err != nil {
		return "", err
	}
	return id.Phone, nil
}

func (b *Bot) sessionsMessage(ctx context.Context, pageNo int) (tgui.Message, error) {
	all, err := b.deps.Store.ActiveSessions(ctx)
	if err != nil {
		return tgui.Message{}, fmt.Errorf("list sessions: %w", err)
	}
	page := tgui.Paginate(all, pageNo, sessionsPageSize)
	return tgui.New().
		RawLine(formatSessions(page)).
		Inline(sessionsKeyboard(page)).
		Build(), nil
}

func (b *Bot) cmdSessions(ctx context.Context, req *Request) error {
	msg, err := b.sessionsMessage(ctx, 0)
	if err != nil {
		return err
	}
	_, err = msg.Send(ctx, b.adapter, req.Chat)
	return err
}

func (b *Bot) cbSessions(ctx context.Context, req *Request, payload string) error {
	page, _ := strconv.Atoi(payload)
	msg, err := b.sessionsMessage(ctx, page)
	if err != nil {
		return err
	}
	return msg.Edit(ctx, b.adapter, b.ref(req))
}

func (b *Bot) cbRemove(ctx context.Context, req *Request, payload string) error {
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return fmt.Errorf("bad session id %q", payload)
	}
	sess, err := b.deps.Store.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("get session %d: %w", id, err)
	}
	return tgui.New().
		Title("🗑", "Remove session "+sessionLabel(sess)+"?").
		Line("Its pending links go back to the reserve. Joined history is kept.").
		Inline(confirmRemoveKeyboard(id)).
		Build().
		Edit(ctx, b.adapter, b.ref(req))
}

func (b *Bot) cbRemoveOK(ctx context.Context, req *Request, payload string) error {
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return fmt.Errorf("bad session id %q", payload)
	}
	if err := b.removeSession(ctx, req, id); err != nil {
		return err
	}
	msg, err := b.sessionsMessage(ctx, 0)
	if err != nil {
		return err
	}
	return msg.Edit(ctx, b.adapter, b.ref(req))
}

func (b *Bot) cmdRemove(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return b.reply(ctx, req, "Usage: /remove_session <id>")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(req.Args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return b.reply(ctx, req, "Session id must be a positive number.")
	}
	return b.removeSession(ctx, req, id)
}

func (b *Bot) removeSession(ctx context.Context, req *Request, id int64) error {
	sess, err := b.deps.Store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return b.reply(ctx, req, fmt.Sprintf("No session #%d.", id))
	}
	if err != nil {
		return fmt.Errorf("get session %d: %w", id, err)
	}
	if sess.Status != storage.SessionActive {
		return b.reply(ctx, req, fmt.Sprintf("Session #%d is already removed.", id))
	}
	released, err := b.deps.Store.SoftRemoveSession(ctx, id)
	if err != nil {
		return fmt.Errorf("remove session %d: %w", id, err)
	}
	req.Logger.Info("session removed", logx.Int64("session_id", id), logx.Int("released", released))
	return b.reply(ctx, req, fmt.Sprintf("Session %s removed, %d pending links released.", sessionLabel(sess), released))
}

// Harvest

func (b *Bot) promptSources(ctx context.Context, req *Request) error {
	b.conv.set(req.FromID, convAwaitSources)
	return b.reply(ctx, req, "Send the links of the channels or groups to collect from, separated by spaces or new lines, or /cancel.")
}

func (b *Bot) cmdHarvest(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return b.promptSources(ctx, req)
	}
	return b.startHarvest(ctx, req, req.Args)
}

func (b *Bot) startHarvest(ctx context.Context, req *Request, sources []string) error {
	if len(sources) == 0 {
		return b.reply(ctx, req, "No channel links given.")
	}
	if !b.harvesting.CompareAndSwap(false, true) {
		return b.reply(ctx, req, "A harvest is already running.")
	}
	chat := req.Chat
	log := req.Logger
	err := b.background("harvest", func(ctx context.Context) error {
		defer b.harvesting.Store(false)
		rep, err := b.deps.Harvester.Harvest(ctx, sources)
		if err != nil {
			log.Warn("harvest failed", logx.Err(err))
			b.send(ctx, chat, tgui.New().Line("Harvest failed: "+tgui.TruncRunes(err.Error(), 300)).Build().Text)
			return err
		}
		log.Info("harvest finished", logx.Int("found", rep.Found), logx.Int("added", rep.Added))
		b.send(ctx, chat, formatHarvest(rep))
		return nil
	})
	if err != nil {
		b.harvesting.Store(false)
		return err
	}
	return b.reply(ctx, req, fmt.Sprintf("Collecting links from %d sources…", len(sources)))
}

func (b *Bot) send(ctx context.Context, to kit.ChatTarget, html string) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if _, err := b.adapter.SendText(sctx, to, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		b.log.Warn("send result failed", logx.Err(err))
	}
}

// Distribution and joining

func (b *Bot) cmdDistribute(ctx context.Context, req *Request) error {
	if _, running := b.deps.Runner.Running(); running {
		return b.reply(ctx, req, "A join cycle is running; it distributes on its own.")
	}
	rep, err := b.deps.Distributor.Distribute(ctx)
	if err != nil {
		return fmt.Errorf("distribute: %w", err)
	}
	return b.replyHTML(ctx, req, formatDistribution(rep))
}

func (b *Bot) cmdRun(ctx context.Context, req *Request) error {
	if info, running := b.deps.Runner.Running(); running {
		return b.reply(ctx, req, fmt.Sprintf("Cycle %s is already running.", info.RunID))
	}
	chat := req.Chat
	log := req.Logger
	inline := b.config().ReportInline
	err := b.background("cycle", func(ctx context.Context) error {
		rep, err := b.deps.Runner.RunCycle(ctx)
		switch {
		case errors.Is(err, joiner.ErrRunInProgress):
			b.send(ctx, chat, tgui.New().Line("A join cycle is already running.").Build().Text)
			return nil
		case err != nil:
			log.Error("join cycle failed", logx.Err(err))
			b.send(ctx, chat, tgui.New().Line("Join cycle failed: "+tgui.TruncRunes(err.Error(), 300)).Build().Text)
			return err
		}
		if inline {
			b.send(ctx, chat, notify.FormatCycleReport(rep))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return b.reply(ctx, req, "Join cycle started. /stop ends it after the current link.")
}

func (b *Bot) cmdStop(ctx context.Context, req *Request) error {
	if b.deps.Runner.Stop() {
		return b.reply(ctx, req, "Stopping after the current link…")
	}
	return b.reply(ctx, req, "No join cycle is running.")
}

// Reports

func (b *Bot) cmdStats(ctx context.Context, req *Request) error {
	rep, err := b.deps.Stats.Snapshot(ctx)
	if err != nil {
		return err
	}
	return b.replyHTML(ctx, req, stats.FormatHTML(rep))
}

func (b *Bot) cmdExport(ctx context.Context, req *Request) error {
	files, err := b.deps.Exporter.Export(ctx)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	for _, f := range files {
		caption := fmt.Sprintf("%s: %d links", f.Name, f.Count)
		if _, err := b.adapter.SendDocument(ctx, req.Chat, kit.Document{Path: f.Path, FileName: f.Name, Caption: caption}, nil); err != nil {
			return fmt.Errorf("send %s: %w", f.Name, err)
		}
	}
	return b.reply(ctx, req, fmt.Sprintf("Exported %d files.", len(files)))
}

func (b *Bot) cmdStatus(ctx context.Context, req *Request) error {
	host := stats.Host(ctx, b.deps.Store.Path())

	var (
		unit    *systemd.UnitStatus
		unitErr error
	)
	if b.deps.Unit != nil {
		unit, unitErr = b.deps.Unit(ctx)
	}
	var entries []scheduler.EntryInfo
	if b.deps.Scheduler != nil {
		entries = b.deps.Scheduler.Entries()
	}
	run, running := b.deps.Runner.Running()

	return b.replyHTML(ctx, req, stats.FormatHostHTML(host)+"\n\n"+formatRuntime(unit, unitErr, run, running, entries))
}
