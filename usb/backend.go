/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * USB backend contract
 *
 * Per the "Dynamic polymorphism over connection types" design note,
 * this is a tagged-variant-as-interface: the only implementation
 * shipped is the gousb-backed one in gousb_backend.go, but the mux
 * transport depends only on this capability set.
 */

package usb

import "time"

// Backend is the contract the mux transport consumes from whatever
// carries bulk USB traffic to the device.
type Backend interface {
	// BulkWrite writes buf to the bulk-OUT endpoint, blocking up to
	// timeout. It returns the number of bytes written; a short write
	// (n < len(buf)) is reported by the caller as MuxError, never
	// retried transparently here.
	BulkWrite(buf []byte, timeout time.Duration) (n int, err error)

	// BulkRead reads up to len(buf) bytes from the bulk-IN endpoint,
	// blocking up to timeout.
	BulkRead(buf []byte, timeout time.Duration) (n int, err error)

	// Close releases the interface and closes the device handle
	Close() error
}
