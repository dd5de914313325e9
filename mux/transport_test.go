package mux

import (
	"sync"
	"testing"
	"time"

	"github.com/go-imobiledevice/usbmuxd/internal/muxerr"
)

// loopbackBackend is a usb.Backend stand-in that hands writes straight
// to an in-process "device" goroutine instead of real hardware, so the
// Transport state machine can be exercised without USB.
type loopbackBackend struct {
	mu     sync.Mutex
	toDev  [][]byte
	toHost [][]byte
	cond   *sync.Cond
	closed bool
}

func newLoopbackBackend() *loopbackBackend {
	b := &loopbackBackend{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *loopbackBackend) BulkWrite(buf []byte, timeout time.Duration) (int, error) {
	cp := append([]byte(nil), buf...)

	b.mu.Lock()
	b.toDev = append(b.toDev, cp)
	b.cond.Broadcast()
	b.mu.Unlock()

	return len(buf), nil
}

func (b *loopbackBackend) BulkRead(buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)

	for {
		b.mu.Lock()
		if len(b.toHost) > 0 {
			msg := b.toHost[0]
			b.toHost = b.toHost[1:]
			b.mu.Unlock()
			return copy(buf, msg), nil
		}
		if b.closed {
			b.mu.Unlock()
			return 0, muxerr.New(muxerr.Closed, "loopback backend closed")
		}
		b.mu.Unlock()

		if time.Now().After(deadline) {
			return 0, muxerr.New(muxerr.Timeout, "loopback read timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

func (b *loopbackBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	return nil
}

// popFromDev blocks until the device side has something to read, or
// returns ok=false once the backend is closed
func (b *loopbackBackend) popFromDev(timeout time.Duration) (raw []byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for len(b.toDev) == 0 && !b.closed {
		if time.Now().After(deadline) {
			return nil, false
		}
		b.mu.Unlock()
		time.Sleep(time.Millisecond)
		b.mu.Lock()
	}

	if len(b.toDev) == 0 {
		return nil, false
	}

	raw = b.toDev[0]
	b.toDev = b.toDev[1:]
	return raw, true
}

func (b *loopbackBackend) pushToHost(raw []byte) {
	b.mu.Lock()
	b.toHost = append(b.toHost, raw)
	b.cond.Broadcast()
	b.mu.Unlock()
}

// runEchoDevice simulates a peer that accepts every SYN and echoes
// back any payload it receives, until stop is closed
func runEchoDevice(b *loopbackBackend, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		raw, ok := b.popFromDev(50 * time.Millisecond)
		if !ok {
			continue
		}

		p, err := parsePacket(raw)
		if err != nil {
			continue
		}

		switch {
		case p.Flags&FlagSYN != 0:
			reply := &packet{
				SrcPort: p.DstPort,
				DstPort: p.SrcPort,
				Flags:   FlagSYN | FlagACK,
			}
			b.pushToHost(reply.marshal())

		case p.Flags&FlagFIN != 0:
			reply := &packet{
				SrcPort: p.DstPort,
				DstPort: p.SrcPort,
				Flags:   FlagFIN | FlagACK,
			}
			b.pushToHost(reply.marshal())

		case len(p.Payload) > 0:
			reply := &packet{
				SrcPort: p.DstPort,
				DstPort: p.SrcPort,
				Flags:   FlagACK,
				Payload: p.Payload,
			}
			b.pushToHost(reply.marshal())
		}
	}
}

func TestTransportConnectAndEcho(t *testing.T) {
	backend := newLoopbackBackend()
	stop := make(chan struct{})
	defer close(stop)
	go runEchoDevice(backend, stop)

	tr := NewTransport(backend, nil)
	defer tr.Close()

	conn, err := tr.Connect(62078, time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if conn.State() != StateOpen {
		t.Fatalf("expected Open, got %v", conn.State())
	}

	msg := []byte("ping")
	if err := conn.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 64)
	n, err := conn.Recv(buf, time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("got %q, want %q", buf[:n], "ping")
	}
}

func TestTransportConnectTimeout(t *testing.T) {
	backend := newLoopbackBackend() // no device goroutine: SYN goes unanswered

	tr := NewTransport(backend, nil)
	defer tr.Close()

	_, err := tr.Connect(62078, 50*time.Millisecond)
	if !muxerr.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestTransportPortsAreUnique(t *testing.T) {
	backend := newLoopbackBackend()
	stop := make(chan struct{})
	defer close(stop)
	go runEchoDevice(backend, stop)

	tr := NewTransport(backend, nil)
	defer tr.Close()

	seen := map[uint16]bool{}
	for i := 0; i < 5; i++ {
		conn, err := tr.Connect(62078, time.Second)
		if err != nil {
			t.Fatalf("Connect #%d: %v", i, err)
		}
		if seen[conn.SrcPort] {
			t.Fatalf("source port %d reused", conn.SrcPort)
		}
		seen[conn.SrcPort] = true
	}
}
