// Package schedule holds the study scheduling model: schedule plans and their
// selection strategies, schedules, activity templates, the per-request
// scheduling context, and the scheduled activity instances produced from them.
//
// Wall-clock values (LocalTime, LocalDateTime) carry no zone. They are turned
// into instants only when a participant's zone is known, so the same schedule
// yields the same time of day for a participant who travels across zones.
package schedule
