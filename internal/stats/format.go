package stats

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/tgui"
)

// maxSessionRows bounds the per-session table so the message stays under
// Telegram's size limit.
const maxSessionRows = 40

// FormatHTML renders r for ParseMode=HTML.
func FormatHTML(r Report) string {
	s := r.Snapshot
	b := tgui.New().Title("📊", "Statistics")

	b.Section("Links")
	b.KV("Total", humanize.Comma(int64(s.TotalLinks)))
	b.KV("Reserve", fmt.Sprintf("%s (target %s)", humanize.Comma(int64(s.ReserveLinks)), humanize.Comma(int64(r.ReserveTarget))))
	b.KV("Dead", humanize.Comma(int64(s.DeadLinks)))
	b.KV("Assigned", humanize.Comma(int64(s.Assigned)))
	b.Blank()

	b.Section("Joins")
	b.KV("Pending", strconv.Itoa(s.Pending))
	b.KV("Joined", strconv.Itoa(s.Success))
	b.KV("Requested", strconv.Itoa(s.Requested))
	b.KV("Failed", strconv.Itoa(s.Failed))
	b.KV("Success rate", fmt.Sprintf("%.1f%%", r.SuccessRate*100))
	b.Blank()

	b.Section("Sessions")
	b.KV("Active", strconv.Itoa(s.Sessions))
	e := r.Estimate
	b.KV("Needed for backlog", fmt.Sprintf("%d (%d above reserve, %d per session)", e.Needed, e.Distributable, e.Capacity))
	for i, ps := range s.PerSession {
		if i == maxSessionRows {
			b.Line(fmt.Sprintf("… and %d more", len(s.PerSession)-maxSessionRows))
			break
		}
		name := ps.Phone
		if name == "" {
			name = "#" + strconv.FormatInt(ps.SessionID, 10)
		}
		b.Line(fmt.Sprintf("%s: %d held, %d joined, %d pending, %d requested, %d failed",
			name, ps.Assigned, ps.Success, ps.Pending, ps.Requested, ps.Failed))
	}
	b.Blank()

	if r.Running {
		state := "running"
		if r.Run.Stopping {
			state = "stopping"
		}
		b.KV("Cycle", fmt.Sprintf("%s since %s (%d sessions)", state, humanize.Time(r.Run.StartedAt), r.Run.Sessions))
	} else {
		b.KV("Cycle", "idle")
	}
	b.KV("Taken", s.TakenAt.UTC().Format(time.DateTime)+" UTC")

	if len(r.Recent) > 0 {
		b.Blank()
		b.Section("Recent attempts")
		for _, e := range r.Recent {
			line := fmt.Sprintf("%s #%d %s %s", e.CreatedAt.UTC().Format(time.TimeOnly), e.SessionID, e.Status, e.LinkValue)
			if e.Error != "" {
				line += ": " + tgui.TruncRunes(e.Error, 80)
			}
			b.Line(line)
		}
	}
	return b.Build().Text
}

// FormatHostHTML renders the process and machine view.
func FormatHostHTML(h HostStatus) string {
	b := tgui.New().Title("🖥", "Status")
	b.KV("Uptime", h.ProcessUptime.Truncate(time.Second).String())
	b.KV("Memory (RSS)", humanize.IBytes(h.ProcessRSS))
	b.KV("Go heap", humanize.IBytes(h.HeapAlloc))
	b.KV("Goroutines", strconv.Itoa(h.Goroutines))
	if h.SystemTotal > 0 {
		b.KV("System memory", fmt.Sprintf("%s / %s (%.1f%%)", humanize.IBytes(h.SystemUsed), humanize.IBytes(h.SystemTotal), h.SystemUsedPercent))
	}
	if h.HostUptime > 0 {
		b.KV("Host uptime", h.HostUptime.String())
	}
	b.KV("Database", humanize.IBytes(uint64(h.DBBytes)))
	for _, e := range h.Errors {
		b.Line("⚠ " + e)
	}
	return b.Build().Text
}
