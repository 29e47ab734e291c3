package cancel

import "sync/atomic"

// Signal is a cooperative cancellation flag shared between the owner of a
// run and the tasks observing it.
//
// A Signal never clears itself. The owner of a run clears it right before the
// run starts and is the only party allowed to do so; observers only read it.
// The zero value is a clear signal ready for use.
type Signal struct {
	set atomic.Bool
}

// New returns a clear signal.
func New() *Signal {
	return &Signal{}
}

// Set asks every observer to stop at its next checkpoint.
func (s *Signal) Set() {
	s.set.Store(true)
}

// Clear resets the signal for a fresh run.
func (s *Signal) Clear() {
	s.set.Store(false)
}

// IsSet reports whether cancellation was requested. A nil signal is never set.
func (s *Signal) IsSet() bool {
	if s == nil {
		return false
	}

	return s.set.Load()
}
