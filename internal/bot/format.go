package bot

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/distributor"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/harvest"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/joiner"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/scheduler"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/storage"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/systemd"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/tgui"
)

func formatDistribution(r distributor.Report) string {
	b := tgui.New().Title("🔀", "Distribution")
	if r.Sessions == 0 {
		b.Line("No active sessions. Add one first.")
		return b.Build().Text
	}
	b.KV("Sessions", strconv.Itoa(r.Sessions))
	b.KV("Unassigned before", humanize.Comma(int64(r.UnassignedActiveBefore)))
	b.KV("Reserve target", humanize.Comma(int64(r.ReserveTarget)))
	b.KV("Distributable", humanize.Comma(int64(r.DistributableBefore)))
	b.KV("Assigned", humanize.Comma(int64(r.AssignedTotal)))
	b.KV("Reserve now", humanize.Comma(int64(r.ReserveAfter)))
	for _, ps := range r.PerSession {
		if ps.Assigned == 0 {
			continue
		}
		name := ps.Phone
		if name == "" {
			name = "#" + strconv.FormatInt(ps.SessionID, 10)
		}
		b.Line(fmt.Sprintf("%s: +%d (held %d)", name, ps.Assigned, ps.Held))
	}
	return b.Build().Text
}

func formatHarvest(r harvest.Report) string {
	b := tgui.New().Title("📥", "Harvest finished")
	b.KV("Read with", "#"+strconv.FormatInt(r.SessionID, 10))
	b.KV("Links found", humanize.Comma(int64(r.Found)))
	b.KV("New links", humanize.Comma(int64(r.Added)))
	b.Blank()
	for _, s := range r.Sources {
		if s.Err != "" {
			b.Line(fmt.Sprintf("%s: %s", s.Source, tgui.TruncRunes(s.Err, 200)))
			continue
		}
		b.Line(fmt.Sprintf("%s: %d messages, %d links, %d new", s.Source, s.Messages, s.Found, s.Added))
	}
	return b.Build().Text
}

func formatSessions(page tgui.Page[storage.Session]) string {
	b := tgui.New().Title("👥", "Sessions")
	if page.Total == 0 {
		b.Line("No active sessions.")
		return b.Build().Text
	}
	for _, s := range page.Items {
		b.Line(fmt.Sprintf("%s, added %s", sessionLabel(s), humanize.Time(s.CreatedAt)))
	}
	b.Blank()
	b.Line(page.Label())
	return b.Build().Text
}

// formatRuntime renders the parts of /status that are not host metrics.
func formatRuntime(unit *systemd.UnitStatus, unitErr error, run joiner.RunInfo, running bool, entries []scheduler.EntryInfo) string {
	b := tgui.New().Section("Runtime")
	switch {
	case unit != nil:
		b.KV("Unit", fmt.Sprintf("%s (%s/%s)", unit.Name, unit.Active, unit.SubState))
		if !unit.ActiveSince.IsZero() {
			b.KV("Active since", humanize.Time(unit.ActiveSince))
		}
		b.KV("Restarts", strconv.FormatUint(uint64(unit.Restarts), 10))
		if unit.Memory > 0 {
			b.KV("Unit memory", humanize.IBytes(unit.Memory))
		}
	case unitErr != nil:
		b.KV("Unit", "n/a ("+unitErr.Error()+")")
	}

	if running {
		state := "running"
		if run.Stopping {
			state = "stopping"
		}
		b.KV("Cycle", fmt.Sprintf("%s %s, %d sessions, started %s", state, run.RunID, run.Sessions, humanize.Time(run.StartedAt)))
	} else {
		b.KV("Cycle", "idle")
	}

	if len(entries) == 0 {
		b.KV("Schedule", "off")
	}
	for _, e := range entries {
		b.KV("Next "+e.Name, e.Next.Format(time.DateTime)+" ("+e.Spec+")")
	}
	return b.Build().Text
}

func formatHelp(cmds []Command) string {
	b := tgui.New().Title("ℹ", "Commands")
	for _, c := range cmds {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.Line(usage + " - " + c.Description)
	}
	b.Blank()
	b.Line("/menu opens the buttons.")
	return b.Build().Text
}
