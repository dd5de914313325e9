/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Device handle: owns one physical device's USB backend and Mux
 * Transport, and hands out logical connections to callers
 */

package device

import (
	"time"

	"github.com/go-imobiledevice/usbmuxd/internal/logger"
	"github.com/go-imobiledevice/usbmuxd/internal/muxerr"
	"github.com/go-imobiledevice/usbmuxd/lockdown"
	"github.com/go-imobiledevice/usbmuxd/mux"
	"github.com/go-imobiledevice/usbmuxd/pairrecord"
	"github.com/go-imobiledevice/usbmuxd/usb"
)

// Device represents one attached Apple mobile device: a claimed USB
// backend plus the Mux Transport layered over it. A UUID is not known
// until the caller dials lockdown and queries it (see DialLockdown);
// until then UUID is empty.
type Device struct {
	Addr      usb.Addr
	UUID      string
	Profile   Profile
	Transport *mux.Transport

	log *logger.Logger
}

// Open claims the USB device at addr, drains it, runs the version
// handshake, and wraps it in a Mux Transport. Per §4.6, closing a
// Device with live connections is allowed; they are forcibly reset
// first.
func Open(addr usb.Addr, product uint16, log *logger.Logger) (*Device, error) {
	if log == nil {
		log = logger.Log
	}

	profile := ProfileFor(product)

	backend, err := usb.Open(addr, profile.VersionMajor, profile.VersionMinor)
	if err != nil {
		return nil, err
	}

	return &Device{
		Addr:      addr,
		Profile:   profile,
		Transport: mux.NewTransport(backend, log),
		log:       log,
	}, nil
}

// Connect opens a fresh logical connection to port on the device
func (d *Device) Connect(port uint16, timeout time.Duration) (*mux.Connection, error) {
	return d.Transport.Connect(port, timeout)
}

// DialLockdown opens a lockdown.Client over a fresh connection to the
// well-known lockdown port, and -- if UUID is not yet known -- queries
// and caches it via GetValue(UniqueDeviceID).
func (d *Device) DialLockdown(systemBUID string, store pairrecord.Store) (*lockdown.Client, error) {
	// The pair record store is keyed by UUID; until it's known (first
	// dial on a fresh Device), the store lookup below is keyed by "",
	// which simply never matches an existing record -- correct,
	// since there is no way to have paired this device before knowing
	// its UUID.
	client, err := lockdown.Dial(d.Transport, d.UUID, systemBUID, store, d.log)
	if err != nil {
		return nil, err
	}

	if err := client.QueryType(); err != nil {
		client.Close()
		return nil, err
	}

	if d.UUID == "" {
		val, err := client.GetValue("", "UniqueDeviceID")
		if err != nil {
			client.Close()
			return nil, err
		}
		if val.String == "" {
			client.Close()
			return nil, muxerr.New(muxerr.Unknown, "device did not report UniqueDeviceID")
		}
		d.UUID = val.String
	}

	return client, nil
}

// Close resets every live connection, drains the backend, and closes
// the underlying USB handle
func (d *Device) Close() error {
	return d.Transport.Close()
}
