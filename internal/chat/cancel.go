package chat

import "sync/atomic"

// CancelFlag is the cooperative stop signal for a streaming turn. It is
// checked once per received chunk; chunks arriving after Stop are
// dropped without mutating the message, and already-buffered text is
// kept.
type CancelFlag struct {
	stopped atomic.Bool
}

// Stop requests cancellation. It does not abort the in-flight request.
func (f *CancelFlag) Stop() {
	f.stopped.Store(true)
}

// Stopped reports whether cancellation was requested. A nil flag never
// cancels.
func (f *CancelFlag) Stopped() bool {
	return f != nil && f.stopped.Load()
}
