package app

import (
	"time"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/bot"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/config"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/distributor"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/export"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/joiner"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/notify"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/observability/ops"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/scheduler"
	kit "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/transport"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

// resolve validates cfg the way a hot reload does: field rules first, then
// the schedule specs.
func resolve(cfg *config.Config) (config.Runtime, error) {
	rt, err := config.Resolve(cfg)
	if err != nil {
		return rt, err
	}
	return rt, scheduler.Validate(schedulerConfig(rt))
}

func logConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func distributorConfig(rt config.Runtime) distributor.Config {
	return distributor.Config{Capacity: rt.Capacity, ReserveTarget: rt.ReserveTarget}
}

func joinerConfig(rt config.Runtime) joiner.Config {
	return joiner.Config{
		Capacity:      rt.Capacity,
		JoinDelay:     rt.JoinDelay,
		FloodRetryMax: rt.FloodRetryMax,
		FloodExtra:    rt.FloodExtra,
		FloodMaxWait:  rt.FloodMaxWait,
		DialTimeout:   rt.DialTimeout,
		JoinTimeout:   rt.JoinTimeout,
		ProgressEvery: rt.ProgressEvery,
	}
}

func exportConfig(rt config.Runtime) export.Config {
	return export.Config{Dir: rt.ExportDir, Capacity: rt.Capacity}
}

// notifyConfig sends reports to the report chat, or to every owner's
// private chat when none is set.
func notifyConfig(rt config.Runtime) notify.Config {
	var targets []kit.ChatTarget
	if rt.ReportChat != 0 {
		targets = []kit.ChatTarget{{ChatID: rt.ReportChat}}
	} else {
		for _, id := range rt.OwnerUserIDs {
			targets = append(targets, kit.ChatTarget{ChatID: id})
		}
	}
	return notify.Config{
		Enabled:    rt.NotifierEnabled,
		Targets:    targets,
		QueueSize:  rt.NotifyQueue,
		RatePerSec: rt.NotifyRate,
		RetryMax:   3,
		Progress:   true,
	}
}

func schedulerConfig(rt config.Runtime) scheduler.Config {
	return scheduler.Config{
		Enabled:  rt.ScheduleEnabled,
		Location: rt.Location,
		Specs: map[string]string{
			scheduler.JobAutoRun:     rt.AutoRun,
			scheduler.JobStatsReport: rt.StatsReport,
		},
	}
}

func opsConfig(rt config.Runtime) ops.Config {
	return ops.Config{
		Enabled:       rt.Ops.Enabled,
		Addr:          rt.Ops.Addr,
		Token:         rt.Ops.Token,
		AllowInsecure: rt.Ops.AllowInsecure,
		Pprof:         rt.Ops.Pprof,
		ReadTimeout:   10 * time.Second,
		IdleTimeout:   time.Minute,
	}
}

func botConfig(rt config.Runtime) bot.Config {
	return bot.Config{
		MinCredentialLen: rt.MinCredentialLen,
		VerifyOnAdd:      rt.VerifyOnAdd,
		DialTimeout:      rt.DialTimeout,
		// Without the notifier the operator would never see the result.
		ReportInline: !rt.NotifierEnabled,
	}
}
