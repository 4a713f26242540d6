package schedule

import "time"

// ClientInfo describes the calling app. AppVersion 0 means unknown.
type ClientInfo struct {
	AppName    string `json:"appName,omitempty"`
	AppVersion int    `json:"appVersion,omitempty"`
}

// Context is everything a single scheduling request knows about the participant.
// It is built once per request and not shared.
type Context struct {
	StudyID    string
	HealthCode string
	Zone       *time.Location
	Now        time.Time
	EndsOn     time.Time

	Events     map[string]time.Time
	DataGroups []string
	Client     ClientInfo

	AccountCreatedOn time.Time
	// MinimumPerSchedule keeps recurring schedules producing occurrences past
	// EndsOn until this many are available. Zero disables it.
	MinimumPerSchedule int
}

// Location never returns nil.
func (c *Context) Location() *time.Location {
	if c == nil || c.Zone == nil {
		return time.UTC
	}
	return c.Zone
}

// HasDataGroup reports membership in the participant's data groups.
func (c *Context) HasDataGroup(g string) bool {
	for _, dg := range c.DataGroups {
		if dg == g {
			return true
		}
	}
	return false
}
