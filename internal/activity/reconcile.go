package activity

import "studysched/internal/schedule"

// Operations is the outcome of one reconciliation. It is never cached.
type Operations struct {
	// Results is what the participant should see.
	Results []schedule.ScheduledActivity
	// Saves are fresh activities never persisted before.
	Saves []schedule.ScheduledActivity
	// Deletes are persisted, unstarted activities that are no longer scheduled.
	Deletes []schedule.ScheduledActivity
}

// Reconcile diffs freshly materialized activities against persisted ones by guid.
//
//   - an activity in both sets keeps its persisted copy and is not re-saved
//   - a started persisted activity always stays in Results, scheduled or not
//   - only unstarted persisted activities missing from fresh are deleted
//
// Saves and Deletes are disjoint, and nothing in Deletes appears in Results.
// Results keep fresh order, followed by started leftovers in persisted order.
func Reconcile(fresh, persisted []schedule.ScheduledActivity) Operations {
	byGuid := make(map[string]schedule.ScheduledActivity, len(persisted))
	order := make([]string, 0, len(persisted))
	for _, p := range persisted {
		prev, seen := byGuid[p.Guid]
		if !seen {
			order = append(order, p.Guid)
			byGuid[p.Guid] = p
			continue
		}
		// duplicate rows: the started copy is authoritative
		if !prev.Started() && p.Started() {
			byGuid[p.Guid] = p
		}
	}

	var ops Operations
	inFresh := make(map[string]struct{}, len(fresh))
	for _, f := range fresh {
		if _, dup := inFresh[f.Guid]; dup {
			continue
		}
		inFresh[f.Guid] = struct{}{}

		if p, ok := byGuid[f.Guid]; ok {
			p.Persistent = p.Persistent || f.Persistent
			if p.Zone == nil {
				p.Zone = f.Zone
			}
			ops.Results = append(ops.Results, p)
			continue
		}
		ops.Results = append(ops.Results, f)
		ops.Saves = append(ops.Saves, f)
	}

	for _, guid := range order {
		if _, ok := inFresh[guid]; ok {
			continue
		}
		p := byGuid[guid]
		if p.Started() {
			ops.Results = append(ops.Results, p)
			continue
		}
		ops.Deletes = append(ops.Deletes, p)
	}
	return ops
}
