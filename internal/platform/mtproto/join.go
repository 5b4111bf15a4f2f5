package mtproto

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/harvest"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/platform"
)

var errNotChannel = errors.New("username does not belong to a channel or group")

// RPC error types that make the link itself unjoinable.
var permanentRPC = []string{
	"INVITE_HASH_EXPIRED",
	"INVITE_HASH_INVALID",
	"INVITE_HASH_EMPTY",
	"CHANNEL_PRIVATE",
	"CHANNEL_INVALID",
	"CHANNEL_PUBLIC_GROUP_NA",
	"CHAT_INVALID",
	"PEER_ID_INVALID",
	"USERNAME_NOT_OCCUPIED",
	"USERNAME_INVALID",
}

// RPC error types that make the session unusable.
var fatalRPC = []string{
	"AUTH_KEY_UNREGISTERED",
	"AUTH_KEY_INVALID",
	"AUTH_KEY_DUPLICATED",
	"SESSION_REVOKED",
	"SESSION_EXPIRED",
	"USER_DEACTIVATED",
	"USER_DEACTIVATED_BAN",
	"CHANNELS_TOO_MUCH",
}

// Join joins the chat behind a canonical link.
func (s *Session) Join(ctx context.Context, link string) (platform.Outcome, error) {
	kind, key := harvest.ParseLinkType(link)
	if key == "" {
		return platform.PermanentFailure("not a joinable Telegram link"), nil
	}

	var err error
	switch kind {
	case harvest.LinkInvite:
		_, err = s.api.MessagesImportChatInvite(ctx, key)
	case harvest.LinkUsername:
		var ch *tg.Channel
		ch, err = s.resolveChannel(ctx, key)
		if err == nil {
			_, err = s.api.ChannelsJoinChannel(ctx, &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash})
		}
	case harvest.LinkFolder:
		return platform.PermanentFailure("folder links cannot be joined by a session"), nil
	default:
		return platform.PermanentFailure("not a joinable Telegram link"), nil
	}
	return classifyJoin(err)
}

func (s *Session) resolveChannel(ctx context.Context, username string) (*tg.Channel, error) {
	res, err := s.api.ContactsResolveUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	for _, c := range res.Chats {
		if ch, ok := c.(*tg.Channel); ok {
			return ch, nil
		}
	}
	return nil, errNotChannel
}

// classifyJoin maps a join error to an outcome. Only session-level failures
// are returned as errors.
func classifyJoin(err error) (platform.Outcome, error) {
	if err == nil {
		return platform.Success("joined"), nil
	}
	if errors.Is(err, errNotChannel) {
		return platform.PermanentFailure(err.Error()), nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return platform.TransientWait(d, rpcType(err)), nil
	}
	if fatal := fatalErr(err); fatal != nil {
		return platform.Outcome{}, fatal
	}
	switch {
	case tgerr.Is(err, "USER_ALREADY_PARTICIPANT"):
		return platform.Success("already a participant"), nil
	case tgerr.Is(err, "INVITE_REQUEST_SENT"):
		return platform.RequestPending("join request sent"), nil
	case tgerr.Is(err, permanentRPC...):
		return platform.PermanentFailure(rpcType(err)), nil
	}
	return platform.Failure(err.Error()), nil
}

func fatalErr(err error) error {
	if tgerr.Is(err, fatalRPC...) {
		return platform.Fatal(fmt.Errorf("%s: %w", rpcType(err), err))
	}
	return nil
}

func rpcType(err error) string {
	var rpc *tgerr.Error
	if errors.As(err, &rpc) {
		return rpc.Type
	}
	return err.Error()
}
