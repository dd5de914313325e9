/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Device-specific exceptions
 *
 * Grounded on the teacher's quirks.go: a small lookup table of
 * per-product-ID exceptions, consulted at open time. This repo's table
 * is far smaller than the teacher's (no config-file loader, no
 * per-quirk parser functions) because the domain has only one
 * documented exception class: the USB version-handshake major/minor
 * pair a device is expected to echo back.
 */

package device

import "github.com/go-imobiledevice/usbmuxd/usb"

// Profile carries the per-device exceptions the Mux Transport and
// Device Handle consult at open time
type Profile struct {
	// VersionMajor/VersionMinor override the values the device is
	// expected to echo during the USB version handshake (usb.VersionMajor/Minor
	// for everything not listed here)
	VersionMajor uint32
	VersionMinor uint32
}

var defaultProfile = Profile{
	VersionMajor: usb.VersionMajor,
	VersionMinor: usb.VersionMinor,
}

// productOverrides lists, by USB product ID, the devices known to deviate
// from the default version handshake. Empty today -- every product in
// Apple's documented 0x1290-0x1293 range uses the default -- but kept
// as a table rather than a single constant so a future exception has
// somewhere to go without restructuring callers.
var productOverrides = map[uint16]Profile{}

// ProfileFor returns the Profile to use for a device with the given
// USB product ID
func ProfileFor(product uint16) Profile {
	if p, ok := productOverrides[product]; ok {
		return p
	}
	return defaultProfile
}
