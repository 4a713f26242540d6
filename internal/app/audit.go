package app

import (
	"context"
	"encoding/json"
	"time"

	"studysched/internal/eventbus"
	"studysched/internal/storage"
	logx "studysched/pkg/logx"
)

// auditLoop persists domain events from the bus until ctx is done.
// Audit writes are best-effort; a failed write is logged and dropped.
func (a *App) auditLoop(ctx context.Context, ch <-chan eventbus.Event) {
	log := a.log.With(logx.String("comp", "audit"))
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			entry, keep := auditEntry(e)
			if !keep {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, time.Second)
			if err := a.store.AppendAudit(wctx, entry); err != nil {
				log.Warn("audit write failed", logx.String("type", e.Type), logx.Err(err))
			}
			cancel()
		}
	}
}

// auditEntry maps a bus event to an audit row. Reconciliations that changed
// nothing are not recorded.
func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	a := storage.AuditEntry{At: e.Time, Type: e.Type}
	switch d := e.Data.(type) {
	case eventbus.EventPublished:
		a.HealthCode, a.Subject = d.HealthCode, d.EventID
	case eventbus.Reconciled:
		if d.Saves == 0 && d.Deletes == 0 {
			return a, false
		}
		a.HealthCode = d.HealthCode
	case eventbus.ActivityUpdated:
		a.HealthCode, a.Subject = d.HealthCode, d.Guid
	case eventbus.PlanChanged:
		a.Subject = d.PlanGuid
	case eventbus.CleanupDone:
		a.Subject = d.PlanGuid
	}
	if e.Data != nil {
		if b, err := json.Marshal(e.Data); err == nil {
			a.MetaJSON = string(b)
		}
	}
	return a, true
}
