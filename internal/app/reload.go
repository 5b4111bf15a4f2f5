package app

import (
	"context"
	"strings"
	"time"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/config"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

// startReload fans validated config changes out to the components that can
// apply them live. Token, storage and platform changes are only logged.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	rt, err := resolve(newCfg)
	if err != nil {
		// The manager validates before publishing, so this is unexpected.
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	// Target first so Apply does not warn when Telegram logging is enabled.
	a.logs.SetTelegramTarget(rt.GroupLogChat, newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(logConfig(newCfg))

	a.bot.SetOwners(rt.OwnerUserIDs)
	a.bot.Apply(botConfig(rt))

	a.dist.Apply(distributorConfig(rt))
	a.joiner.Apply(joinerConfig(rt))
	a.exporter.Apply(exportConfig(rt))

	wasNotifying := a.notif.Enabled()
	ncfg := notifyConfig(rt)
	a.notif.Apply(ncfg)
	switch {
	case wasNotifying && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasNotifying && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}

	a.sched.Apply(schedulerConfig(rt))
	a.ops.Reconfigure(ctx, opsConfig(rt))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
