/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Transport-wide connection accounting
 */

package mux

import "sync/atomic"

// ConnSnapshot is a point-in-time summary of one Connection, exposed
// without leaking the Connection type itself
type ConnSnapshot struct {
	SrcPort uint16
	DstPort uint16
	State   State
	Reading bool
	Writing bool
}

// Snapshot returns a summary of every live connection, ordered by
// SrcPort
func (t *Transport) Snapshot() []ConnSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ConnSnapshot, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, ConnSnapshot{
			SrcPort: c.SrcPort,
			DstPort: c.DstPort,
			State:   c.State(),
			Reading: atomic.LoadInt32(&c.stats.reading) > 0,
			Writing: atomic.LoadInt32(&c.stats.writing) > 0,
		})
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].SrcPort < out[j-1].SrcPort; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}

	return out
}

// ConnCount returns the number of live connections
func (t *Transport) ConnCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
