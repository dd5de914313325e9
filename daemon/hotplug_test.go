package daemon

import (
	"sync"
	"testing"
	"time"

	"github.com/go-imobiledevice/usbmuxd/usb"
)

func TestPollHotplugArrivalAndRemoval(t *testing.T) {
	orig := pollInterval
	pollInterval = 5 * time.Millisecond
	defer func() { pollInterval = orig }()

	addr := usb.Addr{Bus: 1, Address: 1}

	var mu sync.Mutex
	current := []usb.DeviceInfo{}

	enumerate := func() ([]usb.DeviceInfo, error) {
		mu.Lock()
		defer mu.Unlock()
		return append([]usb.DeviceInfo(nil), current...), nil
	}

	events := make(chan hotplugEvent, 8)
	stop := make(chan struct{})
	defer close(stop)

	go pollHotplug(enumerate, events, stop)

	// Nothing attached yet: no event should arrive promptly.
	select {
	case ev := <-events:
		t.Fatalf("unexpected event with nothing attached: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}

	mu.Lock()
	current = []usb.DeviceInfo{{Addr: addr, Product: 0x1290}}
	mu.Unlock()

	select {
	case ev := <-events:
		if !ev.Arrived || ev.Info.Addr != addr {
			t.Fatalf("expected arrival of %v, got %+v", addr, ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for arrival event")
	}

	mu.Lock()
	current = nil
	mu.Unlock()

	select {
	case ev := <-events:
		if ev.Arrived || ev.Info.Addr != addr {
			t.Fatalf("expected removal of %v, got %+v", addr, ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for removal event")
	}
}

func TestHasAddr(t *testing.T) {
	list := []usb.DeviceInfo{{Addr: usb.Addr{Bus: 1, Address: 1}}}
	if !hasAddr(list, usb.Addr{Bus: 1, Address: 1}) {
		t.Fatal("expected hasAddr to find matching address")
	}
	if hasAddr(list, usb.Addr{Bus: 2, Address: 2}) {
		t.Fatal("expected hasAddr to miss non-matching address")
	}
}
