package conversation

import "sync"

// Cancellations holds per-session cancellation flags. The orchestrator clears
// a session's flag when a turn starts, unless configured not to, and checks
// it before every round-trip.
type Cancellations struct {
	mu    sync.Mutex
	flags map[string]bool
}

// NewCancellations creates an empty flag set.
func NewCancellations() *Cancellations {
	return &Cancellations{flags: make(map[string]bool)}
}

// Cancel requests that the session's running turn stop at its next
// round-trip boundary.
func (c *Cancellations) Cancel(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags[sessionID] = true
}

// Cancelled reports whether the session's flag is set.
func (c *Cancellations) Cancelled(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags[sessionID]
}

// Clear resets the session's flag.
func (c *Cancellations) Clear(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flags, sessionID)
}
