/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * USB hotplug polling
 *
 * gousb does not expose libusb's hotplug callback API, unlike the
 * teacher's cgo-based hotplug.go. Grounded on the same "wake on
 * change, diff the device list" shape, but driven by periodically
 * re-enumerating instead of a libusb_hotplug_register_callback.
 */

package daemon

import (
	"time"

	"github.com/go-imobiledevice/usbmuxd/usb"
)

// pollInterval is how often the hotplug poller re-enumerates attached
// devices. A var, not a const, so tests can shrink it.
var pollInterval = 2 * time.Second

// hotplugEvent reports one device's arrival or removal
type hotplugEvent struct {
	Info    usb.DeviceInfo
	Arrived bool
}

// enumerateFunc returns the currently attached devices, as
// usb.EnumerateDetail does once its vendor/product range is bound;
// pollHotplug takes one as a parameter so tests can drive it without a
// real USB context
type enumerateFunc func() ([]usb.DeviceInfo, error)

// pollHotplug polls enumerate for USB device arrival/removal until
// stop is closed, sending one event per change to events
func pollHotplug(enumerate enumerateFunc, events chan<- hotplugEvent, stop <-chan struct{}) {
	var known []usb.DeviceInfo

	scan := func() {
		current, err := enumerate()
		if err != nil {
			return
		}

		for _, c := range current {
			if !hasAddr(known, c.Addr) {
				select {
				case events <- hotplugEvent{Info: c, Arrived: true}:
				case <-stop:
					return
				}
			}
		}

		for _, k := range known {
			if !hasAddr(current, k.Addr) {
				select {
				case events <- hotplugEvent{Info: k, Arrived: false}:
				case <-stop:
					return
				}
			}
		}

		known = current
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	scan()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			scan()
		}
	}
}

func hasAddr(list []usb.DeviceInfo, addr usb.Addr) bool {
	for _, d := range list {
		if d.Addr == addr {
			return true
		}
	}
	return false
}
