/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Daemon status table
 *
 * Grounded on the teacher's status.go: an in-memory, mutex-guarded
 * table of per-device status, formatted as plain text for the control
 * socket to serve. Reworked per device (USB address, UUID, pairing
 * state) instead of per allocated HTTP port.
 */

package status

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/go-imobiledevice/usbmuxd/usb"
)

// Version is the daemon version string reported in the status dump
const Version = "0.1.0"

// Entry represents the status of one attached device
type Entry struct {
	Addr    usb.Addr // USB bus/address
	UUID    string   // Device UUID, empty until lockdown has been dialed
	Product uint16   // USB product ID
	Paired  bool     // Whether a pair record exists for this device
	Err     error    // Last initialization/connection error, nil if none
}

var (
	// table maintains a per-device status, indexed by USB address
	table = make(map[usb.Addr]*Entry)

	// lock protects access to table
	lock sync.RWMutex
)

// Set adds a device to the table, or updates its entry
func Set(addr usb.Addr, entry Entry) {
	entry.Addr = addr
	lock.Lock()
	table[addr] = &entry
	lock.Unlock()
}

// Del removes a device from the table
func Del(addr usb.Addr) {
	lock.Lock()
	delete(table, addr)
	lock.Unlock()
}

// Snapshot returns every tracked entry, sorted by USB address
func Snapshot() []Entry {
	lock.RLock()
	defer lock.RUnlock()

	out := make([]Entry, 0, len(table))
	for _, e := range table {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.Less(out[j].Addr) })
	return out
}

// Format renders the current status table as human-readable text, the
// same payload the control socket serves at /status
func Format() []byte {
	buf := &bytes.Buffer{}

	fmt.Fprintf(buf, "usbmuxd-go daemon %s: running\n", Version)

	entries := Snapshot()

	buf.WriteString("usbmuxd-go devices:")
	if len(entries) == 0 {
		buf.WriteString(" not found\n")
		return buf.Bytes()
	}

	buf.WriteString("\n")
	fmt.Fprintf(buf, " Num  Device              Product  UUID                              Paired  Status\n")
	for i, e := range entries {
		uuid := e.UUID
		if uuid == "" {
			uuid = "(unknown)"
		}

		s := "OK"
		if e.Err != nil {
			s = e.Err.Error()
		}

		fmt.Fprintf(buf, " %3d. %s  0x%.4x   %-32s  %-6v  %s\n",
			i+1, e.Addr, e.Product, uuid, e.Paired, s)
	}

	return buf.Bytes()
}
