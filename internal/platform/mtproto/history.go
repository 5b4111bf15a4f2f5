package mtproto

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/harvest"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/platform"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

// maxHistoryFloodWait caps how long a history read waits out a rate limit
// before giving up on the source.
const maxHistoryFloodWait = 5 * time.Minute

// FetchMessages pages backwards through a chat's history. Text URL entities
// are returned alongside message bodies so hidden links are harvested too.
func (s *Session) FetchMessages(ctx context.Context, source string, limit int) ([]string, error) {
	peer, err := s.resolvePeer(ctx, source)
	if err != nil {
		return nil, err
	}

	var (
		out      []string
		offsetID int
		read     int
	)
	for limit <= 0 || read < limit {
		batch := s.cfg.HistoryBatch
		if limit > 0 && limit-read < batch {
			batch = limit - read
		}
		res, err := s.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    batch,
		})
		if err != nil {
			if d, ok := tgerr.AsFloodWait(err); ok && d <= maxHistoryFloodWait {
				s.log.Warn("history read rate limited", logx.String("source", source), logx.Duration("wait", d))
				if err := sleepCtx(ctx, d); err != nil {
					return out, err
				}
				continue
			}
			if fatal := fatalErr(err); fatal != nil {
				return out, fatal
			}
			return out, fmt.Errorf("read history of %s: %w", source, err)
		}

		msgs := historyMessages(res)
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			offsetID = m.GetID()
			msg, ok := m.(*tg.Message)
			if !ok {
				continue
			}
			if msg.Message != "" {
				out = append(out, msg.Message)
			}
			for _, ent := range msg.Entities {
				if u, ok := ent.(*tg.MessageEntityTextURL); ok && u.URL != "" {
					out = append(out, u.URL)
				}
			}
		}
		read += len(msgs)
		if len(msgs) < batch {
			break
		}
	}
	return out, nil
}

func historyMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch r := res.(type) {
	case *tg.MessagesMessages:
		return r.Messages
	case *tg.MessagesMessagesSlice:
		return r.Messages
	case *tg.MessagesChannelMessages:
		return r.Messages
	default:
		return nil
	}
}

// resolvePeer turns a source link into an input peer. Invite links only
// resolve when the session is already a member (or the chat allows a peek).
func (s *Session) resolvePeer(ctx context.Context, source string) (tg.InputPeerClass, error) {
	kind, key := harvest.ParseLinkType(source)
	switch kind {
	case harvest.LinkUsername:
		ch, err := s.resolveChannel(ctx, key)
		if err != nil {
			if fatal := fatalErr(err); fatal != nil {
				return nil, fatal
			}
			return nil, fmt.Errorf("resolve %s: %w", key, err)
		}
		return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, nil
	case harvest.LinkInvite:
		inv, err := s.api.MessagesCheckChatInvite(ctx, key)
		if err != nil {
			if fatal := fatalErr(err); fatal != nil {
				return nil, fatal
			}
			return nil, fmt.Errorf("check invite: %w", err)
		}
		var chat tg.ChatClass
		switch v := inv.(type) {
		case *tg.ChatInviteAlready:
			chat = v.Chat
		case *tg.ChatInvitePeek:
			chat = v.Chat
		default:
			return nil, fmt.Errorf("%w: session is not a member of %s", platform.ErrUnsupportedSource, source)
		}
		switch c := chat.(type) {
		case *tg.Channel:
			return &tg.InputPeerChannel{ChannelID: c.ID, AccessHash: c.AccessHash}, nil
		case *tg.Chat:
			return &tg.InputPeerChat{ChatID: c.ID}, nil
		}
		return nil, fmt.Errorf("%w: %s", platform.ErrUnsupportedSource, source)
	default:
		return nil, fmt.Errorf("%w: %s", platform.ErrUnsupportedSource, source)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
