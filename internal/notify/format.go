package notify

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/joiner"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/tgui"
)

func sessionName(id int64, phone string) string {
	if phone != "" {
		return phone
	}
	return "#" + strconv.FormatInt(id, 10)
}

func FormatRunStarted(info joiner.RunInfo) string {
	b := tgui.New().Title("🚀", "Join cycle started")
	b.KV("Run", info.RunID)
	b.KV("Sessions", strconv.Itoa(info.Sessions))
	return b.Build().Text
}

func FormatProgress(p joiner.Progress) string {
	b := tgui.New().Title("⏳", "Progress "+sessionName(p.SessionID, p.Phone))
	b.KV("Done", fmt.Sprintf("%d / %d", p.Done, p.Total))
	b.KV("Joined", strconv.Itoa(p.Success))
	b.KV("Failed", strconv.Itoa(p.Failed))
	b.KV("Dead", strconv.Itoa(p.Dead))
	return b.Build().Text
}

func FormatWorkerError(w joiner.WorkerSummary) string {
	b := tgui.New().Title("⚠️", "Session stopped "+sessionName(w.SessionID, w.Phone))
	b.KV("Processed", fmt.Sprintf("%d / %d", w.Processed(), w.Assigned))
	b.Code(tgui.TruncRunes(w.Err, 500))
	return b.Build().Text
}

// FormatCycleReport summarises a finished cycle: totals first, then one
// line per session.
func FormatCycleReport(r joiner.CycleReport) string {
	title := "Join cycle finished"
	if r.Cancelled {
		title = "Join cycle stopped"
	}
	t := r.Totals()
	b := tgui.New().Title("✅", title)
	b.KV("Duration", t.Duration.Truncate(time.Second).String())
	b.KV("Distributed", humanize.Comma(int64(r.Distribution.AssignedTotal)))
	b.KV("Joined", humanize.Comma(int64(t.Success)))
	b.KV("Requested", humanize.Comma(int64(t.Requested)))
	b.KV("Failed", humanize.Comma(int64(t.Failed)))
	b.KV("Dead", fmt.Sprintf("%s (%d replaced)", humanize.Comma(int64(t.Dead)), t.Replaced))
	b.KV("Flood waits", strconv.Itoa(t.FloodWaits))
	if n := r.Errored(); n > 0 {
		b.KV("Sessions with errors", strconv.Itoa(n))
	}
	if len(r.Workers) > 0 {
		b.Blank()
		b.Section("Sessions")
		for i, w := range r.Workers {
			if i == 40 {
				b.Line(fmt.Sprintf("… and %d more", len(r.Workers)-40))
				break
			}
			line := fmt.Sprintf("%s: %d/%d joined", sessionName(w.SessionID, w.Phone), w.Success, w.Assigned)
			switch {
			case w.Err != "":
				line += " (error)"
			case w.Removed:
				line += " (removed)"
			case w.Cancelled:
				line += " (stopped)"
			}
			b.Line(line)
		}
	}
	return b.Build().Text
}
