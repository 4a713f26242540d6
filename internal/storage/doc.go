// Package storage persists events, scheduled activities, schedule plans,
// survey versions and the audit trail.
//
// Two drivers share one Store interface: an in-memory map store for tests and
// one-shot CLI use, and SQLite (modernc, pure Go) for anything long-lived.
package storage
