// Package alarms evaluates threshold rules against tag updates and keeps the
// resulting alarm state.
//
// A RuleSet is built once from configuration and never mutated; invalid
// rules are rejected individually. The Engine holds, behind one mutex, the
// ACTIVE record per (rule, tag) Key, the per-key debounce timestamps and a
// bounded history of trigger and clear snapshots. Each transition is logged
// and, when the rule asks for it, handed to a Dispatcher on its own goroutine
// after the lock is released.
//
// State machine per Key:
//
//	none   -> ACTIVE   condition true and outside the debounce window
//	ACTIVE -> ACTIVE   condition still true; last value refreshed, no notification
//	ACTIVE -> CLEARED  condition false and auto_clear set; optional clear notification
package alarms
