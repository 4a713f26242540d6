package app

import (
	"context"
	"slices"
	"strings"

	"studysched/internal/config"
	"studysched/internal/eventbus"
	logx "studysched/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if a.applyConfig(ctx, lastApplied, next) {
				lastApplied = next
			}
		}
	}
}

// applyConfig pushes a committed config into the running services. Storage
// changes need a restart and are only reported.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) bool {
	settings, err := config.Resolve(next)
	if err != nil {
		a.log.Warn("reloaded config does not resolve; keeping previous", logx.Err(err))
		return false
	}

	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return true
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.logs.Apply(a.logConfig(next))
	if err := a.events.SetOptions(mapEventOptions(next)); err != nil {
		a.log.Warn("invalid study events; keeping previous", logx.Err(err))
	}
	a.plans.SetValidator(mapValidator(next))
	a.sched.Apply(mapSchedulingConfig(settings))

	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()
	if err := a.registerMaintenance(settings); err != nil {
		a.log.Warn("maintenance job not rescheduled", logx.Err(err))
	}
	a.jobs.Apply(ctx, mapJobsConfig(settings))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.TopicConfigReloaded, Data: eventbus.ConfigReloaded{Sections: sections}})
	return true
}
