package adapter

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/transport"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

func markup(opt *kit.SendOptions) *tele.ReplyMarkup {
	rm, _ := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	return rm
}

// call runs one Bot API request, waiting out a flood limit once when the
// requested wait fits FloodWaitMax and ctx.
func (a *Adapter) call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := fn()
	var flood tele.FloodError
	if !errors.As(err, &flood) {
		return err
	}
	wait := time.Duration(flood.RetryAfter) * time.Second
	if wait > a.cfg.FloodWaitMax {
		return err
	}
	a.log.Warn("bot api flood limit, waiting", logx.Duration("wait", wait))
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return fn()
}

// SendText sends text, split into several messages when it is over the
// Bot API limit. The keyboard goes on the first part; the returned ref
// points at it.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit, opt.ParseMode) {
		so := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		if i == 0 {
			so.ReplyMarkup = markup(opt)
		}
		var msg *tele.Message
		err := a.call(ctx, func() (err error) {
			msg, err = a.bot.Send(chat, chunk, so)
			return err
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText rewrites the message at ref. Overflow beyond the first part is
// sent as new messages below it.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit, opt.ParseMode)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ReplyMarkup:           markup(opt),
	}
	err := a.call(ctx, func() error {
		_, err := a.bot.Edit(m, chunks[0], so)
		return err
	})
	// Pressing a button that re-renders the same screen is not a failure.
	if err != nil && !errors.Is(err, tele.ErrSameMessageContent) {
		return err
	}
	if len(chunks) == 1 {
		return nil
	}
	rest := strings.Join(chunks[1:], "\n")
	_, err = a.SendText(ctx, ref.Target(), rest,
		&kit.SendOptions{ParseMode: opt.ParseMode, DisablePreview: opt.DisablePreview})
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return a.call(ctx, func() error {
		return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
	})
}

// SendDocument uploads a local file, used for link exports.
func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document, opt *kit.SendOptions) (kit.MessageRef, error) {
	if strings.TrimSpace(doc.Path) == "" {
		return kit.MessageRef{}, errors.New("document path is empty")
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	name := doc.FileName
	if name == "" {
		name = filepath.Base(doc.Path)
	}
	file := &tele.Document{File: tele.FromDisk(doc.Path), FileName: name, Caption: doc.Caption}
	var msg *tele.Message
	err := a.call(ctx, func() (err error) {
		msg, err = a.bot.Send(&tele.Chat{ID: to.ChatID}, file, &tele.SendOptions{
			ParseMode: opt.ParseMode,
			ThreadID:  to.ThreadID,
		})
		return err
	})
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}
