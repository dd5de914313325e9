/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * MuxTransport: the single reader goroutine that drains the device's
 * bulk-IN pipe and fans packets out to Connections, and the
 * mutex-serialized writer path that feeds the bulk-OUT pipe
 *
 * Grounded on the teacher's usbtransport.go/usb.go: one dedicated
 * reader per device, a lock protecting the single physical write path,
 * and a registry of live per-connection state keyed by local port.
 */

package mux

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-imobiledevice/usbmuxd/internal/logger"
	"github.com/go-imobiledevice/usbmuxd/internal/muxerr"
	"github.com/go-imobiledevice/usbmuxd/usb"
)

// firstEphemeralPort is the first local port this transport hands out,
// matching the value usbmuxd has used historically
const firstEphemeralPort = 0x1234

const (
	writeTimeout    = 2 * time.Second
	readPollTimeout = 500 * time.Millisecond
)

// Transport owns one device's bulk-USB pipe and multiplexes it into
// any number of logical Connections.
type Transport struct {
	backend usb.Backend
	log     *logger.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	conns    map[uint16]*Connection
	nextPort uint32

	closed   int32
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewTransport takes ownership of backend -- Transport.Close closes it
// -- and starts the reader goroutine
func NewTransport(backend usb.Backend, log *logger.Logger) *Transport {
	if log == nil {
		log = logger.Log
	}

	t := &Transport{
		backend:  backend,
		log:      log,
		conns:    make(map[uint16]*Connection),
		nextPort: firstEphemeralPort,
		done:     make(chan struct{}),
	}

	t.wg.Add(1)
	go t.readLoop()

	return t
}

func (t *Transport) allocPort() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()

	port := uint16(t.nextPort)
	t.nextPort++
	if t.nextPort > 0xFFFF {
		t.nextPort = firstEphemeralPort
	}
	return port
}

// Connect opens a new logical stream to dstPort on the device,
// blocking until the peer's SYN+ACK arrives, an RST arrives, or
// timeout elapses.
func (t *Transport) Connect(dstPort uint16, timeout time.Duration) (*Connection, error) {
	if atomic.LoadInt32(&t.closed) != 0 {
		return nil, muxerr.New(muxerr.Closed, "transport closed")
	}

	srcPort := t.allocPort()
	c := newConnection(t, srcPort, dstPort)

	t.mu.Lock()
	t.conns[srcPort] = c
	t.mu.Unlock()

	syn := &packet{
		SrcPort: srcPort,
		DstPort: dstPort,
		Flags:   FlagSYN,
	}

	if err := t.sendPacket(syn); err != nil {
		t.forget(srcPort)
		return nil, err
	}

	select {
	case <-c.openAck:
		if c.State() == StateClosed {
			t.forget(srcPort)
			return nil, c.err
		}
		return c, nil
	case <-time.After(timeout):
		t.forget(srcPort)
		c.markClosed(muxerr.New(muxerr.Timeout, "connect to port %d timed out", dstPort))
		return nil, muxerr.New(muxerr.Timeout, "connect to port %d timed out", dstPort)
	}
}

func (t *Transport) forget(srcPort uint16) {
	t.mu.Lock()
	delete(t.conns, srcPort)
	t.mu.Unlock()
}

// sendPacket serializes p and writes it to the bulk-OUT endpoint as a
// single atomic transfer; the writeMu lock is what makes that
// atomicity hold even with many Connections sending concurrently.
func (t *Transport) sendPacket(p *packet) error {
	buf := p.marshal()

	t.log.Begin().TraceMux(' ', "mux: -> port %d->%d flags=%s seq=%d ack=%d len=%d",
		p.SrcPort, p.DstPort, p.Flags, p.Seq, p.Ack, len(p.Payload)).Commit()

	t.writeMu.Lock()
	n, err := t.backend.BulkWrite(buf, writeTimeout)
	t.writeMu.Unlock()

	if err != nil {
		return err
	}
	if n < len(buf) {
		return muxerr.New(muxerr.MuxError, "short bulk write: %d of %d bytes", n, len(buf))
	}
	return nil
}

// readLoop is the transport's single reader: it owns the bulk-IN pipe
// exclusively, reassembles packets from USB transfer boundaries, and
// dispatches each to its Connection.
func (t *Transport) readLoop() {
	defer t.wg.Done()

	var acc []byte
	chunk := make([]byte, 1<<16)

	for {
		select {
		case <-t.done:
			return
		default:
		}

		n, err := t.backend.BulkRead(chunk, readPollTimeout)
		if err != nil {
			if muxerr.IsTimeout(err) {
				continue
			}
			t.log.Begin().Error(' ', "mux: read error: %v", err).Commit()
			t.shutdownConnections(muxerr.Wrap(muxerr.MuxError, err))
			return
		}
		if n == 0 {
			continue
		}

		acc = append(acc, chunk[:n]...)
		acc = t.drainPackets(acc)
	}
}

// drainPackets extracts as many complete packets as acc currently
// holds, dispatches them, and returns the unconsumed remainder
func (t *Transport) drainPackets(acc []byte) []byte {
	for {
		if len(acc) < headerSize {
			return acc
		}

		total := int(acc[20])<<8 | int(acc[21])
		if total < headerSize {
			t.log.Begin().Error(' ', "mux: bogus packet length %d, resyncing", total).Commit()
			return nil
		}
		if len(acc) < total {
			return acc
		}

		p, err := parsePacket(acc[:total])
		acc = acc[total:]

		if err != nil {
			t.log.Begin().Error(' ', "mux: dropping malformed packet: %v", err).Commit()
			continue
		}

		t.dispatch(p)
	}
}

func (t *Transport) dispatch(p *packet) {
	msg := t.log.Begin()
	msg.TraceMux(' ', "mux: <- port %d->%d flags=%s seq=%d ack=%d len=%d",
		p.SrcPort, p.DstPort, p.Flags, p.Seq, p.Ack, len(p.Payload))
	if len(p.Payload) > 0 {
		msg.HexDump(logger.LevelTraceMux, p.Payload)
	}
	msg.Commit()

	t.mu.Lock()
	c, ok := t.conns[p.DstPort]
	t.mu.Unlock()

	if !ok {
		// Packet for a port we no longer track -- peer retransmit
		// racing our own teardown. Not an error.
		return
	}

	switch {
	case p.Flags&FlagRST != 0:
		c.markClosed(muxerr.New(muxerr.MuxError, "connection reset by peer"))
		t.forget(p.DstPort)

	case p.Flags&FlagSYN != 0 && p.Flags&FlagACK != 0:
		c.markOpen()

	case p.Flags&FlagFIN != 0:
		c.markPeerFin()
		if len(p.Payload) > 0 {
			c.deliver(p.Payload)
		}

	default:
		if len(p.Payload) > 0 {
			c.deliver(p.Payload)
		}
	}
}

func (t *Transport) shutdownConnections(err error) {
	t.mu.Lock()
	conns := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[uint16]*Connection)
	t.mu.Unlock()

	for _, c := range conns {
		c.markClosed(err)
	}
}

// Close stops the reader goroutine, sends RST for and closes every live
// Connection, and closes the underlying backend
func (t *Transport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}

	close(t.done)
	t.wg.Wait()

	t.mu.Lock()
	live := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		live = append(live, c)
	}
	t.mu.Unlock()
	for _, c := range live {
		c.mu.Lock()
		rst := &packet{SrcPort: c.SrcPort, DstPort: c.DstPort, Seq: c.seq, Ack: c.ack, Flags: FlagRST}
		c.mu.Unlock()
		t.sendPacket(rst)
	}

	t.shutdownConnections(muxerr.New(muxerr.Closed, "transport closed"))

	return t.backend.Close()
}
