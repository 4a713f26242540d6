package eventbus

// Event types published by the scheduling services.
const (
	TopicEventPublished       = "event.published"
	TopicActivitiesReconciled = "activities.reconciled"
	TopicActivityUpdated      = "activity.updated"
	TopicPlanCreated          = "plan.created"
	TopicPlanUpdated          = "plan.updated"
	TopicPlanDeleted          = "plan.deleted"
	TopicPlanCleanup          = "plan.cleanup"
	TopicActivitiesPruned     = "activities.pruned"
	TopicConfigReloaded       = "config.reloaded"
)

// Payloads. Keep them small and flat; the audit subscriber serializes them as JSON.

type EventPublished struct {
	HealthCode string `json:"health_code"`
	EventID    string `json:"event_id"`
}

type Reconciled struct {
	HealthCode string `json:"health_code"`
	Results    int    `json:"results"`
	Saves      int    `json:"saves"`
	Deletes    int    `json:"deletes"`
}

type ActivityUpdated struct {
	HealthCode string `json:"health_code"`
	Guid       string `json:"guid"`
	Started    bool   `json:"started,omitempty"`
	Finished   bool   `json:"finished,omitempty"`
}

type PlanChanged struct {
	PlanGuid string `json:"plan_guid"`
	StudyID  string `json:"study_id"`
	Version  int64  `json:"version"`
}

type CleanupDone struct {
	PlanGuid string `json:"plan_guid"`
	Deleted  int    `json:"deleted"`
}

type Pruned struct {
	Deleted int `json:"deleted"`
}

type ConfigReloaded struct {
	Sections []string `json:"sections"`
}
