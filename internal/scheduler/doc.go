// Package scheduler holds the in-memory task registry and dispatches each task
// exactly once at (or after) its execution time.
//
// # Registry
//
// The registry is an ordered list of tasks plus a map from task id to the
// pending timer armed for it. Both are guarded by one mutex: every
// read-modify-write (insert+arm, remove+cancel, replace) is a single critical
// section, and the firing callback takes the same lock before it retires a task.
//
// # Firing
//
// Timers come from a timer.Source whose callbacks never overlap. Each armed
// timer carries a generation number; a callback only retires the task if its
// generation is still the one registered, so a late callback of a renamed or
// removed task is ignored.
//
// # Ordering
//
// Sorting only changes enumeration order (Snapshot, List). Firing order is
// decided by each task's execution time alone.
package scheduler
