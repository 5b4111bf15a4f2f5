package tgui

import (
	"context"
	"html"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/transport"
)

const parseModeHTML = "HTML"

// Message is rendered HTML text plus the options to send it with.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

func (m Message) options() *kit.SendOptions {
	if m.Opt == nil {
		return &kit.SendOptions{ParseMode: parseModeHTML, DisablePreview: true}
	}
	return m.Opt
}

func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	return ad.SendText(ctx, to, m.Text, m.options())
}

// Edit replaces the text and keyboard of the message at ref.
func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef) error {
	return ad.EditText(ctx, ref, m.Text, m.options())
}

// Builder assembles an HTML message. Every text argument is escaped except
// the one given to RawLine.
type Builder struct {
	lines []string
	rm    *tele.ReplyMarkup
}

func New() *Builder { return &Builder{} }

// Inline attaches kb; nil removes the keyboard.
func (b *Builder) Inline(kb *Inline) *Builder {
	b.rm = nil
	if kb != nil {
		b.rm = kb.Markup()
	}
	return b
}

// Title is a bold line, optionally led by an emoji.
func (b *Builder) Title(emoji, title string) *Builder {
	title = strings.TrimSpace(title)
	if title == "" {
		return b
	}
	line := bold(title)
	if emoji = strings.TrimSpace(emoji); emoji != "" {
		line = html.EscapeString(emoji) + " " + line
	}
	return b.RawLine(line)
}

// Section is a bold header, set off from what precedes it by a blank line.
func (b *Builder) Section(title string) *Builder {
	title = strings.TrimSpace(title)
	if title == "" {
		return b
	}
	if n := len(b.lines); n > 0 && b.lines[n-1] != "" {
		b.lines = append(b.lines, "")
	}
	return b.RawLine(bold(title))
}

func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		return b.RawLine("")
	}
	return b.RawLine(html.EscapeString(s))
}

// RawLine appends s as is; it must already be valid Telegram HTML.
func (b *Builder) RawLine(s string) *Builder {
	b.lines = append(b.lines, s)
	return b
}

func (b *Builder) Blank() *Builder { return b.RawLine("") }

// KV is a "• key: value" row with the key in bold.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	return b.RawLine("• " + bold(key) + ": " + html.EscapeString(strings.TrimSpace(value)))
}

// Code is a monospace line.
func (b *Builder) Code(s string) *Builder {
	if s = strings.TrimSpace(s); s == "" {
		return b
	}
	return b.RawLine("<code>" + html.EscapeString(s) + "</code>")
}

func (b *Builder) Build() Message {
	opt := &kit.SendOptions{ParseMode: parseModeHTML, DisablePreview: true}
	if b.rm != nil {
		opt.ReplyMarkupAdapter = b.rm
	}
	return Message{Text: strings.Trim(strings.Join(b.lines, "\n"), "\n"), Opt: opt}
}

func bold(s string) string { return "<b>" + html.EscapeString(s) + "</b>" }
