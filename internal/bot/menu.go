package bot

import (
	"slices"
	"strings"

	kit "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/transport"
)

const maxCommandLen = 32

// sanitizeTelegramCommand maps a name onto Telegram's [a-z0-9_]{1,32}
// command alphabet. Separators collapse into one underscore, other runes
// are dropped, and a leading digit gets a "cmd_" prefix.
func sanitizeTelegramCommand(s string) string {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/"))
	var b strings.Builder
	pendingSep := false
	for _, r := range s {
		if r == '_' || r == '-' || r == ' ' || r == '\t' {
			pendingSep = b.Len() > 0
			continue
		}
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out != "" && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > maxCommandLen {
		out = strings.TrimRight(out[:maxCommandLen], "_")
	}
	return out
}

// buildMenuCommands lists every routable command once, sorted by name.
// Platform limits on count and description length are the adapter's job.
func buildMenuCommands(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		out = append(out, kit.BotCommand{
			Command:     name,
			Description: strings.Join(strings.Fields(c.Description), " "),
		})
	}
	slices.SortStableFunc(out, func(a, b kit.BotCommand) int { return strings.Compare(a.Command, b.Command) })
	return slices.CompactFunc(out, func(a, b kit.BotCommand) bool { return a.Command == b.Command })
}
