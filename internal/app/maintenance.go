package app

import (
	"context"
	"time"

	"studysched/internal/config"
	"studysched/internal/eventbus"
	"studysched/internal/task/scheduler"
	logx "studysched/pkg/logx"
)

const PruneJob = "activities.prune"

func (a *App) registerMaintenance(s config.Settings) error {
	return a.jobs.Register(scheduler.Job{
		Name:    PruneJob,
		Spec:    s.MaintenanceSchedule,
		Timeout: 10 * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := a.Prune(ctx)
			return err
		},
	})
}

// Prune deletes finished or expired activities older than the configured
// retention and returns how many went. `serve` runs it on the maintenance
// schedule; the CLI can run it on demand.
func (a *App) Prune(ctx context.Context) (int, error) {
	retention := a.Settings().Retention
	cutoff := a.now().Add(-retention)
	n, err := a.store.PruneActivities(ctx, cutoff)
	if err != nil {
		a.log.Warn("activity prune failed", logx.Time("cutoff", cutoff), logx.Err(err))
		return 0, err
	}
	a.log.Info("activities pruned", logx.Int("deleted", n), logx.Duration("retention", retention))
	a.bus.Publish(eventbus.Event{Type: eventbus.TopicActivitiesPruned, Data: eventbus.Pruned{Deleted: n}})
	return n, nil
}
