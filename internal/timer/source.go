// Package timer provides the deadline sources the scheduler arms tasks on.
//
// Callbacks of a Source never overlap: Serial runs them on one dedicated
// goroutine, Manual runs them on the goroutine calling Advance.
package timer

import (
	"errors"
	"time"
)

var ErrStopped = errors.New("timer source stopped")

// Handle cancels one armed callback.
type Handle interface {
	// Cancel reports true if the callback is guaranteed not to run.
	// It is a no-op returning false once the callback has started or finished.
	Cancel() bool
}

type Source interface {
	Now() time.Time
	// Arm schedules fn to run no earlier than d from now. Negative d is treated as 0.
	Arm(d time.Duration, fn func()) (Handle, error)
	// Stop abandons every outstanding callback and rejects further Arm calls.
	Stop()
}
