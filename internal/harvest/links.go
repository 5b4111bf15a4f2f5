package harvest

import (
	"net/url"
	"regexp"
	"strings"
)

// LinkKind is the shape of a canonical t.me link.
type LinkKind string

const (
	LinkUnknown  LinkKind = "unknown"
	LinkFolder   LinkKind = "folder"   // t.me/addlist/<slug>
	LinkInvite   LinkKind = "invite"   // t.me/+<hash> or t.me/joinchat/<hash>
	LinkUsername LinkKind = "username" // t.me/<username>
)

var linkRe = regexp.MustCompile(`(?i)((?:https?://)?(?:t\.me|telegram\.me)/(?:addlist/|joinchat/|\+)?[A-Za-z0-9_\-+]+)`)

const (
	trailingJunk = ").,;:!؟…]}>\"'`"
	leadingJunk  = "(<[{\"'`"
)

// Extract returns every raw Telegram link found in text, in order of
// appearance, with surrounding punctuation stripped. Values are not
// normalized or deduplicated.
func Extract(text string) []string {
	if text == "" {
		return nil
	}
	matches := linkRe.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimSpace(m)
		m = strings.TrimRight(m, trailingJunk)
		m = strings.TrimLeft(m, leadingJunk)
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

// Normalize canonicalizes a Telegram link to https://t.me/<path> with no
// query, fragment or duplicate slashes. Anything that is not a t.me or
// telegram.me link yields "".
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "t.me/") || strings.HasPrefix(lower, "telegram.me/") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Host) {
	case "t.me", "telegram.me", "www.t.me", "www.telegram.me":
	default:
		return ""
	}
	path := strings.Trim(u.Path, "/")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if path == "" {
		return ""
	}
	return "https://t.me/" + path
}

// ParseLinkType splits a link into its kind and key (folder slug, invite
// hash or username).
func ParseLinkType(link string) (LinkKind, string) {
	link = Normalize(link)
	if link == "" {
		return LinkUnknown, ""
	}
	path := strings.TrimPrefix(link, "https://t.me/")
	switch {
	case strings.HasPrefix(path, "addlist/"):
		return LinkFolder, strings.Trim(strings.TrimPrefix(path, "addlist/"), "/")
	case strings.HasPrefix(path, "+"):
		return LinkInvite, strings.Trim(strings.TrimPrefix(path, "+"), "/")
	case strings.HasPrefix(path, "joinchat/"):
		return LinkInvite, strings.Trim(strings.TrimPrefix(path, "joinchat/"), "/")
	default:
		return LinkUsername, strings.Trim(path, "/")
	}
}

// Collect extracts and normalizes links from many texts, dropping duplicates
// while keeping first-seen order.
func Collect(texts ...string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range texts {
		for _, raw := range Extract(t) {
			v := Normalize(raw)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
