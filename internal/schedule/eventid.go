package schedule

import "strings"

// Well-known event ids. Schedules name them in EventID; the event service
// publishes them.
const (
	ActivitiesRetrievedEvent = "activities_retrieved"
	customEventPrefix        = "custom:"
)

// ActivityFinishedEvent is published when any instance of the template finishes.
func ActivityFinishedEvent(templateGuid string) string {
	return "activity:" + templateGuid + ":finished"
}

func SurveyFinishedEvent(surveyGuid string) string {
	return "survey:" + surveyGuid + ":finished"
}

func QuestionAnsweredEvent(questionGuid string) string {
	return "question:" + questionGuid + ":answered"
}

func CustomEvent(key string) string {
	return customEventPrefix + strings.TrimSpace(key)
}

// IsCustomEvent reports whether id was built by CustomEvent.
func IsCustomEvent(id string) bool { return strings.HasPrefix(id, customEventPrefix) }

// PersistentlyRescheduledBy reports whether s re-issues a right after it is
// finished: a ONCE schedule with no delay anchored on a's own finish event.
func PersistentlyRescheduledBy(a Activity, s *Schedule) bool {
	if s.ScheduleType != Once || (s.Delay != nil && !s.Delay.IsZero()) {
		return false
	}
	for _, id := range s.EventIDs() {
		if a.Guid != "" && id == ActivityFinishedEvent(a.Guid) {
			return true
		}
		if a.Survey != nil && id == SurveyFinishedEvent(a.Survey.Guid) {
			return true
		}
	}
	return false
}
