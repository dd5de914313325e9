package device

import (
	"testing"

	"github.com/go-imobiledevice/usbmuxd/usb"
)

func TestProfileForDefault(t *testing.T) {
	p := ProfileFor(0x1290)
	if p.VersionMajor != usb.VersionMajor || p.VersionMinor != usb.VersionMinor {
		t.Fatalf("expected default version handshake, got %+v", p)
	}
}

func TestProfileForOverride(t *testing.T) {
	const product = 0xbeef
	override := Profile{VersionMajor: 9, VersionMinor: 9}
	productOverrides[product] = override
	defer delete(productOverrides, product)

	p := ProfileFor(product)
	if p != override {
		t.Fatalf("got %+v, want %+v", p, override)
	}
}
