/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * MuxConnection: one logical TCP-like stream multiplexed over the
 * device's bulk-USB pipe
 */

package mux

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-imobiledevice/usbmuxd/internal/muxerr"
)

// State enumerates the lifecycle states of a Connection, per
// SPEC_FULL.md §4.2's state machine:
//
//	Connecting --SYN/ACK--> Open --FIN(local)--> HalfClosed
//	    --FIN(peer) | timeout--> Closed
//
// Any RST or protocol violation drives directly to Closed.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateHalfClosed
	StateClosed
)

// String returns a short name for the state
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateHalfClosed:
		return "half-closed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection is one logical stream, multiplexed over the transport's
// single bulk-USB pipe. Callers reach it only through Transport.Connect;
// they never construct one directly.
type Connection struct {
	transport *Transport
	SrcPort   uint16
	DstPort   uint16

	mu    sync.Mutex
	state State
	seq   uint32 // bytes sent so far
	ack   uint32 // bytes accepted from peer so far
	rx    bytes.Buffer
	err   error // sticky error once state == Closed

	// notify is closed and replaced whenever rx gains data, the state
	// changes, or the connection closes -- the Go-channel analogue of
	// a per-connection condition variable described in SPEC_FULL.md §5.
	notify chan struct{}

	openAck     chan struct{} // closed once the connect attempt resolves, success or failure
	openAckOnce sync.Once

	finRecv chan struct{} // closed once peer's FIN arrives

	stats connStats
}

// closeOpenAck unblocks Connect exactly once, regardless of whether it
// was markOpen or markClosed that resolved the attempt
func (c *Connection) closeOpenAck() {
	c.openAckOnce.Do(func() { close(c.openAck) })
}

func newConnection(t *Transport, srcPort, dstPort uint16) *Connection {
	return &Connection{
		transport: t,
		SrcPort:   srcPort,
		DstPort:   dstPort,
		state:     StateConnecting,
		notify:    make(chan struct{}),
		openAck:   make(chan struct{}),
		finRecv:   make(chan struct{}),
	}
}

// State returns the connection's current state
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// wake closes and replaces the notify channel, waking any blocked
// reader
func (c *Connection) wake() {
	close(c.notify)
	c.notify = make(chan struct{})
}

// deliver appends inbound payload to the rx queue and advances ack.
// Called only from the transport's single reader goroutine.
func (c *Connection) deliver(payload []byte) {
	c.mu.Lock()
	c.rx.Write(payload)
	c.ack += uint32(len(payload))
	c.wake()
	c.mu.Unlock()
}

// markOpen transitions Connecting -> Open on SYN+ACK
func (c *Connection) markOpen() {
	c.mu.Lock()
	if c.state == StateConnecting {
		c.state = StateOpen
	}
	c.mu.Unlock()
	c.closeOpenAck()
}

// markPeerFin records the peer's FIN, used by disconnect's
// HalfClosed->Closed transition
func (c *Connection) markPeerFin() {
	c.mu.Lock()
	select {
	case <-c.finRecv:
		// already recorded
	default:
		close(c.finRecv)
	}
	c.mu.Unlock()
}

// markClosed forces Closed, recording err as the sticky reason, and
// wakes everyone blocked on Send/Recv
func (c *Connection) markClosed(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	if c.err == nil {
		c.err = err
	}
	c.wake()
	c.mu.Unlock()
	c.closeOpenAck()
}

// Send writes b to the peer, emitting one or more MuxPackets as
// needed. seq advances by exactly len(b) on success; on a short
// bulk-write the connection transitions to Closed and this and all
// future Send/Recv calls return MuxError.
func (c *Connection) Send(b []byte) error {
	c.stats.beginWrite()
	defer c.stats.doneWrite()

	c.mu.Lock()
	if c.state == StateClosed {
		err := c.err
		c.mu.Unlock()
		if err == nil {
			err = muxerr.New(muxerr.Closed, "connection closed")
		}
		return err
	}
	ack := c.ack
	c.mu.Unlock()

	const chunk = 0xFFFF - headerSize
	for len(b) > 0 {
		n := len(b)
		if n > chunk {
			n = chunk
		}

		c.mu.Lock()
		seq := c.seq
		ack = c.ack
		c.mu.Unlock()

		p := &packet{
			SrcPort: c.SrcPort,
			DstPort: c.DstPort,
			Seq:     seq,
			Ack:     ack,
			Flags:   FlagACK,
			Payload: b[:n],
		}

		if err := c.transport.sendPacket(p); err != nil {
			c.markClosed(err)
			return err
		}

		c.mu.Lock()
		c.seq += uint32(n)
		c.mu.Unlock()

		b = b[n:]
	}

	return nil
}

// Recv reads buffered payload into buf, blocking until at least one
// byte is available, the connection closes, or timeout elapses.
// timeout == 0 returns Timeout immediately if no data is buffered.
func (c *Connection) Recv(buf []byte, timeout time.Duration) (int, error) {
	c.stats.beginRead()
	defer c.stats.doneRead()

	deadline := time.Now().Add(timeout)

	for {
		c.mu.Lock()
		if c.rx.Len() > 0 {
			n, _ := c.rx.Read(buf)
			notify := c.notify
			c.mu.Unlock()
			_ = notify
			return n, nil
		}

		if c.state == StateClosed {
			err := c.err
			c.mu.Unlock()
			if err == nil {
				err = muxerr.New(muxerr.Closed, "connection closed")
			}
			return 0, err
		}

		notify := c.notify
		c.mu.Unlock()

		remain := time.Until(deadline)
		if remain <= 0 {
			return 0, muxerr.New(muxerr.Timeout, "recv timed out")
		}

		select {
		case <-notify:
			// loop: either data arrived or state changed
		case <-time.After(remain):
			return 0, muxerr.New(muxerr.Timeout, "recv timed out")
		}
	}
}

// closeWait bounds how long Close accepts inbound payload while
// waiting for the peer's FIN before forcing Closed.
const closeWait = 500 * time.Millisecond

// Close sends FIN and moves the connection to HalfClosed, then Closed
// once the peer's FIN arrives or closeWait elapses. It never blocks
// past closeWait, matching the teacher's bounded-wait shutdown in
// usbtransport.go.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateHalfClosed {
		c.mu.Unlock()
		return nil
	}
	seq := c.seq
	ack := c.ack
	c.state = StateHalfClosed
	c.wake()
	c.mu.Unlock()

	fin := &packet{
		SrcPort: c.SrcPort,
		DstPort: c.DstPort,
		Seq:     seq,
		Ack:     ack,
		Flags:   FlagFIN | FlagACK,
	}
	if err := c.transport.sendPacket(fin); err != nil {
		c.markClosed(err)
		return err
	}

	select {
	case <-c.finRecv:
	case <-time.After(closeWait):
	}

	c.markClosed(muxerr.New(muxerr.Closed, "connection closed"))
	c.transport.forget(c.SrcPort)
	return nil
}

// connStats tracks per-connection read/write activity, for the status
// socket. Grounded on the teacher's usbConnState (usb.go).
type connStats struct {
	reading int32
	writing int32
}

func (s *connStats) beginRead()  { atomic.AddInt32(&s.reading, 1) }
func (s *connStats) doneRead()   { atomic.AddInt32(&s.reading, -1) }
func (s *connStats) beginWrite() { atomic.AddInt32(&s.writing, 1) }
func (s *connStats) doneWrite()  { atomic.AddInt32(&s.writing, -1) }
