package device

import (
	"testing"

	"github.com/go-imobiledevice/usbmuxd/usb"
)

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	addr := usb.Addr{Bus: 1, Address: 2}
	d := &Device{Addr: addr}

	r.Add(d)
	if r.Len() != 1 {
		t.Fatalf("expected 1 device, got %d", r.Len())
	}

	got, ok := r.Get(addr)
	if !ok || got != d {
		t.Fatalf("Get returned (%v, %v), want (%v, true)", got, ok, d)
	}

	r.Remove(addr)
	if r.Len() != 0 {
		t.Fatalf("expected 0 devices after Remove, got %d", r.Len())
	}
	if _, ok := r.Get(addr); ok {
		t.Fatal("expected Get to miss after Remove")
	}
}

func TestRegistryFindByUUID(t *testing.T) {
	r := NewRegistry()
	d1 := &Device{Addr: usb.Addr{Bus: 1, Address: 1}, UUID: "aaa"}
	d2 := &Device{Addr: usb.Addr{Bus: 1, Address: 2}, UUID: "bbb"}
	r.Add(d1)
	r.Add(d2)

	got, ok := r.FindByUUID("bbb")
	if !ok || got != d2 {
		t.Fatalf("FindByUUID(bbb) = (%v, %v), want (%v, true)", got, ok, d2)
	}

	if _, ok := r.FindByUUID("nope"); ok {
		t.Fatal("expected FindByUUID miss for unknown uuid")
	}
}

func TestRegistryAllSorted(t *testing.T) {
	r := NewRegistry()
	d2 := &Device{Addr: usb.Addr{Bus: 1, Address: 2}}
	d1 := &Device{Addr: usb.Addr{Bus: 1, Address: 1}}
	r.Add(d2)
	r.Add(d1)

	all := r.All()
	if len(all) != 2 || all[0] != d1 || all[1] != d2 {
		t.Fatalf("expected [d1, d2] in address order, got %+v", all)
	}
}
