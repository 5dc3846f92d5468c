// Package storage persists the scheduler's task set.
//
// Two drivers are available:
//   - "file": one task per line, tab separated, replaced atomically on save
//   - "sqlite": a single tasks table in an SQLite database (modernc.org/sqlite)
//
// Stores only see task values. The scheduler is fed back through Restore.
package storage
