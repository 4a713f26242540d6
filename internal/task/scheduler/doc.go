// Package scheduler runs named housekeeping jobs on cron or @every specs.
//
// It is used by `studysched serve` for the activity retention job. Runs of the
// same job never overlap; a trigger that fires while the previous run is still
// going is skipped and logged.
package scheduler
