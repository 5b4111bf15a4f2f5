// Package transport is the chat-platform boundary of the operator bot.
// The bot, notifier and log sink talk to an Adapter; only the Telegram
// adapter package knows about telebot.
package transport

import "context"

// Adapter is a running chat-bot connection.
type Adapter interface {
	// Start begins delivering updates on out until ctx ends or Stop.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	SendDocument(ctx context.Context, to ChatTarget, doc Document, opt *SendOptions) (MessageRef, error)
}

// CommandMenuUpdater is implemented by adapters that can publish the
// slash-command list to the client's command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

type UpdateKind uint8

const (
	UpdateMessage UpdateKind = iota + 1
	UpdateCallback
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateMessage:
		return "message"
	case UpdateCallback:
		return "callback"
	}
	return "unknown"
}

// Update carries exactly one of Message or Callback, matching Kind.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// Message is incoming text. In a private chat ChatID equals FromID.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

func (m *Message) Target() ChatTarget { return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID} }

// Callback is an inline button press on message MessageID.
type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

func (c *Callback) Target() ChatTarget { return ChatTarget{ChatID: c.ChatID, ThreadID: c.ThreadID} }

// ChatTarget addresses a chat, or a forum topic in it when ThreadID is set.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a sent message so it can be edited later.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

func (r MessageRef) Target() ChatTarget { return ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID} }

type SendOptions struct {
	ParseMode      string
	DisablePreview bool

	// ReplyMarkupAdapter is passed through untouched; the Telegram adapter
	// expects a *telebot.ReplyMarkup.
	ReplyMarkupAdapter any
}

// Document is a local file sent as an attachment. FileName defaults to the
// base name of Path.
type Document struct {
	Path     string
	FileName string
	Caption  string
}

type BotCommand struct {
	Command     string
	Description string
}
