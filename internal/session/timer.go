package session

import (
	"sync"
	"time"
)

// StopTimer is a one-shot auto-stop timer. Exactly one of {fire, cancel}
// wins: the first to take the commit lock determines the outcome and the
// other becomes a no-op.
type StopTimer struct {
	mu        sync.Mutex
	timer     *time.Timer
	fired     bool
	cancelled bool
}

// NewStopTimer arms a timer that runs onFire after d, unless cancelled
// first. onFire runs on the timer goroutine.
func NewStopTimer(d time.Duration, onFire func()) *StopTimer {
	st := &StopTimer{}
	st.timer = time.AfterFunc(d, func() {
		st.mu.Lock()
		if st.cancelled {
			st.mu.Unlock()
			return
		}
		st.fired = true
		st.mu.Unlock()
		onFire()
	})
	return st
}

// Cancel prevents the timer from firing. Cancelling after the timer has
// fired is a no-op and returns false; cancelling twice is harmless.
func (st *StopTimer) Cancel() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.fired {
		return false
	}
	st.cancelled = true
	st.timer.Stop()
	return true
}

// Fired reports whether the timer committed to firing
func (st *StopTimer) Fired() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.fired
}
