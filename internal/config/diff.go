package config

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

// Sections whose changes only take effect after a restart.
var restartSections = map[string]bool{
	"telegram": true,
	"storage":  true,
	"platform": true,
}

// SummarizeConfigChange returns (1) a sorted list of changed sections,
// (2) safe structured fields for logging (never includes secrets like tokens
// or api hashes), and (3) the changed sections that need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) ||
		strings.TrimSpace(oldCfg.Telegram.ReportChat) != strings.TrimSpace(newCfg.Telegram.ReportChat) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
			logx.Bool("telegram.report_chat_set", strings.TrimSpace(newCfg.Telegram.ReportChat) != ""),
		)
	}

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Storage
	if strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Platform (never log api hash)
	if oldCfg.Platform != newCfg.Platform {
		changed = append(changed, "platform")
		attrs = append(attrs,
			logx.Int("platform.api_id", newCfg.Platform.APIID),
			logx.String("platform.dial_timeout", strings.TrimSpace(newCfg.Platform.DialTimeout)),
			logx.String("platform.join_timeout", strings.TrimSpace(newCfg.Platform.JoinTimeout)),
			logx.Int("platform.extract_limit", newCfg.Platform.ExtractLimit),
		)
	}

	// Joiner
	if !reflect.DeepEqual(oldCfg.Joiner, newCfg.Joiner) {
		changed = append(changed, "joiner")
		attrs = append(attrs,
			logx.Int("joiner.per_session_capacity", newCfg.Joiner.PerSessionCapacity),
			logx.String("joiner.join_delay", strings.TrimSpace(newCfg.Joiner.JoinDelay)),
			logx.Bool("joiner.verify_on_add", newCfg.Joiner.VerifyOnAdd),
		)
		if newCfg.Joiner.ReserveTarget != nil {
			attrs = append(attrs, logx.Int("joiner.reserve_target", *newCfg.Joiner.ReserveTarget))
		}
	}

	// Schedule
	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
			logx.String("schedule.auto_run", strings.TrimSpace(newCfg.Schedule.AutoRun)),
			logx.String("schedule.stats_report", strings.TrimSpace(newCfg.Schedule.StatsReport)),
		)
	}

	// Notifier. A nil section means the runtime defaults.
	defN := NotifierConfig{Enabled: true}
	oldN, newN := defN, defN
	if oldCfg.Notifier != nil {
		oldN = *oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		newN = *newCfg.Notifier
	}
	if oldN != newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.queue_size", newN.QueueSize),
		)
	}

	// Ops (never log token)
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
			logx.Bool("ops.allow_insecure", newCfg.Ops.AllowInsecure),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
	}

	sort.Strings(changed)
	var restart []string
	for _, s := range changed {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
