// Package task defines the immutable schedulable unit handled by the scheduler.
//
// A Task carries an identity, a human readable name, a priority in [1,5] and
// the absolute instant at which it becomes eligible to fire. Tasks are values:
// every "change" returns a new Task that keeps the original ID.
package task
