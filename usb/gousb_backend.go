/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * gousb-backed reference USB backend
 *
 * Grounded on the teacher's own USB handling (usb.go, usbtransport.go,
 * usbio_libusb.go): claim a configuration/interface, read/write the
 * bulk endpoints with a per-call timeout, and drain
 * residual bulk-in data on open and on close.
 */

package usb

import (
	"time"

	"github.com/google/gousb"

	"github.com/go-imobiledevice/usbmuxd/internal/muxerr"
)

// Apple's USB interface number and alternate setting for the
// usbmuxd control interface, and the configuration index it lives
// under. See SPEC_FULL.md §4.1/§6.
const (
	Configuration   = 3
	InterfaceNumber = 1
	AlternateSetting = 0
)

// VersionMajor, VersionMinor are the values the device must echo back
// during the version handshake performed on open
const (
	VersionMajor = 1
	VersionMinor = 0
)

// versionHeaderSize is the size, in bytes, of the version handshake
// packet written then read back on open
const versionHeaderSize = 20

var usbCtx = gousb.NewContext()

// GousbBackend is a Backend implementation over github.com/google/gousb
type GousbBackend struct {
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	in    *gousb.InEndpoint
	out   *gousb.OutEndpoint
}

// Enumerate lists attached devices whose vendor/product ID fall within
// [vendor, productMin, productMax], the documented Apple mobile device
// ID range (default 0x05AC, 0x1290-0x1293)
func Enumerate(vendor, productMin, productMax uint16) (AddrList, error) {
	list, err := EnumerateDetail(vendor, productMin, productMax)
	if err != nil {
		return nil, err
	}

	var addrs AddrList
	for _, d := range list {
		addrs.Add(d.Addr)
	}
	return addrs, nil
}

// DeviceInfo pairs a USB address with the product ID found there,
// consumed by the daemon's hotplug poller to pick a DeviceProfile
// before a connection is ever opened
type DeviceInfo struct {
	Addr    Addr
	Product uint16
}

// EnumerateDetail is Enumerate, but also reports each match's product
// ID, needed to pick a DeviceProfile before opening the device
func EnumerateDetail(vendor, productMin, productMax uint16) ([]DeviceInfo, error) {
	var list []DeviceInfo

	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vendor &&
			uint16(desc.Product) >= productMin &&
			uint16(desc.Product) <= productMax
	})

	for _, d := range devs {
		list = append(list, DeviceInfo{
			Addr:    Addr{Bus: d.Desc.Bus, Address: d.Desc.Address},
			Product: uint16(d.Desc.Product),
		})
		d.Close()
	}

	if err != nil {
		return list, err
	}

	return list, nil
}

// Open opens the device at addr, claims Configuration/InterfaceNumber,
// drains any pending bulk-in data, and performs the version handshake.
// versionMajor/versionMinor are the values this host asserts and
// expects the device to echo back; callers with no per-product
// override pass VersionMajor/VersionMinor.
func Open(addr Addr, versionMajor, versionMinor uint32) (*GousbBackend, error) {
	found := false
	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if found {
			return false
		}
		if addr.Bus == desc.Bus && addr.Address == desc.Address {
			found = true
			return true
		}
		return false
	})
	if err != nil {
		return nil, muxerr.Wrap(muxerr.NoDevice, err)
	}
	if len(devs) == 0 {
		return nil, muxerr.New(muxerr.NoDevice, "%s: device not found", addr)
	}

	dev := devs[0]
	dev.SetAutoDetach(true)

	cfg, err := dev.Config(Configuration)
	if err != nil {
		dev.Close()
		return nil, muxerr.Wrap(muxerr.NoDevice, err)
	}

	intf, err := cfg.Interface(InterfaceNumber, AlternateSetting)
	if err != nil {
		cfg.Close()
		dev.Close()
		return nil, muxerr.Wrap(muxerr.NoDevice, err)
	}

	in, err := firstInEndpoint(intf)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		return nil, err
	}

	out, err := firstOutEndpoint(intf)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		return nil, err
	}

	b := &GousbBackend{dev: dev, cfg: cfg, intf: intf, in: in, out: out}

	b.drain(100 * time.Millisecond)

	if err := b.versionHandshake(versionMajor, versionMinor); err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}

func firstInEndpoint(intf *gousb.Interface) (*gousb.InEndpoint, error) {
	for _, epDesc := range intf.Setting.Endpoints {
		if epDesc.Direction == gousb.EndpointDirectionIn {
			ep, err := intf.InEndpoint(epDesc.Number)
			if err != nil {
				return nil, muxerr.Wrap(muxerr.NoDevice, err)
			}
			return ep, nil
		}
	}
	return nil, muxerr.New(muxerr.NoDevice, "no bulk-IN endpoint on interface %d", InterfaceNumber)
}

func firstOutEndpoint(intf *gousb.Interface) (*gousb.OutEndpoint, error) {
	for _, epDesc := range intf.Setting.Endpoints {
		if epDesc.Direction == gousb.EndpointDirectionOut {
			ep, err := intf.OutEndpoint(epDesc.Number)
			if err != nil {
				return nil, muxerr.Wrap(muxerr.NoDevice, err)
			}
			return ep, nil
		}
	}
	return nil, muxerr.New(muxerr.NoDevice, "no bulk-OUT endpoint on interface %d", InterfaceNumber)
}

// drain reads and discards any data the device already has buffered,
// reading with a short timeout until a read comes back empty
func (b *GousbBackend) drain(timeout time.Duration) {
	buf := make([]byte, 4096)
	for {
		n, err := b.readTimeout(buf, timeout)
		if n == 0 || err != nil {
			return
		}
	}
}

// versionHandshake writes the {major, minor} header and verifies the
// device echoes it back unchanged
func (b *GousbBackend) versionHandshake(versionMajor, versionMinor uint32) error {
	req := make([]byte, versionHeaderSize)
	putU32BE(req[0:4], versionMajor)
	putU32BE(req[4:8], versionMinor)

	if _, err := b.BulkWrite(req, time.Second); err != nil {
		return err
	}

	resp := make([]byte, versionHeaderSize)
	if err := b.readFull(resp, 2*time.Second); err != nil {
		return err
	}

	major := getU32BE(resp[0:4])
	minor := getU32BE(resp[4:8])
	if major != versionMajor || minor != versionMinor {
		return muxerr.New(muxerr.BadHeader,
			"version mismatch: got %d.%d, want %d.%d", major, minor, versionMajor, versionMinor)
	}

	return nil
}

// readFull loops reading into buf until it is completely filled or an
// error/timeout occurs, since a single bulk-in read may return fewer
// bytes than requested
func (b *GousbBackend) readFull(buf []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	got := 0

	for got < len(buf) {
		remain := time.Until(deadline)
		if remain <= 0 {
			return muxerr.New(muxerr.Timeout, "version handshake read timed out")
		}

		n, err := b.readTimeout(buf[got:], remain)
		if err != nil {
			return err
		}
		if n == 0 {
			return muxerr.New(muxerr.NotEnoughData, "short read during version handshake")
		}
		got += n
	}

	return nil
}

// BulkWrite implements Backend
func (b *GousbBackend) BulkWrite(buf []byte, timeout time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}

	ch := make(chan result, 1)
	go func() {
		n, err := b.out.Write(buf)
		ch <- result{n, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return r.n, muxerr.Wrap(muxerr.MuxError, r.err)
		}
		return r.n, nil
	case <-time.After(timeout):
		return 0, muxerr.New(muxerr.Timeout, "bulk write timed out")
	}
}

// BulkRead implements Backend
func (b *GousbBackend) BulkRead(buf []byte, timeout time.Duration) (int, error) {
	return b.readTimeout(buf, timeout)
}

func (b *GousbBackend) readTimeout(buf []byte, timeout time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}

	ch := make(chan result, 1)
	go func() {
		n, err := b.in.Read(buf)
		ch <- result{n, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return r.n, muxerr.Wrap(muxerr.MuxError, r.err)
		}
		return r.n, nil
	case <-time.After(timeout):
		return 0, muxerr.New(muxerr.Timeout, "bulk read timed out")
	}
}

// Close implements Backend
func (b *GousbBackend) Close() error {
	b.drain(50 * time.Millisecond)

	if b.intf != nil {
		b.intf.Close()
	}
	if b.cfg != nil {
		b.cfg.Close()
	}
	if b.dev != nil {
		return b.dev.Close()
	}
	return nil
}

func putU32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getU32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
