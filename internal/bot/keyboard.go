package bot

import (
	"strconv"

	tele "gopkg.in/telebot.v4"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/storage"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/tgui"
)

// Callback scope and actions of the inline menu.
const (
	scopeMenu = "m"

	actHome       = "home"
	actAdd        = "add"
	actSessions   = "sessions"
	actRemove     = "rm"
	actRemoveOK   = "rmok"
	actHarvest    = "harvest"
	actRun        = "run"
	actStop       = "stop"
	actDistribute = "dist"
	actExport     = "export"
	actStats      = "stats"
	actStatus     = "status"
)

const sessionsPageSize = 8

func menuBtn(text, action, payload string) tele.Btn {
	return tgui.Btn(text, tgui.MustData(scopeMenu, action, payload))
}

func mainMenu() *tgui.Inline {
	return tgui.NewInline().
		Row(menuBtn("➕ Add session", actAdd, ""), menuBtn("👥 Sessions", actSessions, "0")).
		Row(menuBtn("📥 Harvest links", actHarvest, ""), menuBtn("🔀 Distribute", actDistribute, "")).
		Row(menuBtn("🚀 Start joining", actRun, ""), menuBtn("🛑 Stop", actStop, "")).
		Row(menuBtn("📊 Stats", actStats, ""), menuBtn("📤 Export", actExport, "")).
		Row(menuBtn("🖥 Status", actStatus, ""))
}

func backRow() tele.Btn { return menuBtn("⬅ Back", actHome, "") }

// sessionsKeyboard has one remove button per listed session, a pager row
// when there is more than one page, and a way back to the menu.
func sessionsKeyboard(page tgui.Page[storage.Session]) *tgui.Inline {
	kb := tgui.NewInline()
	for _, s := range page.Items {
		id := strconv.FormatInt(s.ID, 10)
		kb.Row(menuBtn("🗑 Remove "+sessionLabel(s), actRemove, id))
	}
	var nav []tele.Btn
	if page.HasPrev() {
		nav = append(nav, menuBtn("◀", actSessions, strconv.Itoa(page.Index-1)))
	}
	if page.HasNext() {
		nav = append(nav, menuBtn("▶", actSessions, strconv.Itoa(page.Index+1)))
	}
	return kb.Row(nav...).Row(backRow())
}

func confirmRemoveKeyboard(id int64) *tgui.Inline {
	sid := strconv.FormatInt(id, 10)
	return tgui.ConfirmInline(
		menuBtn("✅ Remove", actRemoveOK, sid),
		menuBtn("✖ Keep", actSessions, "0"),
	)
}

func sessionLabel(s storage.Session) string {
	if s.Phone != "" {
		return "#" + strconv.FormatInt(s.ID, 10) + " " + s.Phone
	}
	return "#" + strconv.FormatInt(s.ID, 10)
}
