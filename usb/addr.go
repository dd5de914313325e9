/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * USB device addressing
 */

package usb

import (
	"fmt"
	"sort"
)

// Addr identifies a physical USB device by bus/address, independent of
// its UUID (which is only known once lockdown has been reached)
type Addr struct {
	Bus     int
	Address int
}

// String returns a human-readable representation of Addr
func (addr Addr) String() string {
	return fmt.Sprintf("Bus %.3d Device %.3d", addr.Bus, addr.Address)
}

// Less reports whether addr sorts before addr2
func (addr Addr) Less(addr2 Addr) bool {
	return addr.Bus < addr2.Bus ||
		(addr.Bus == addr2.Bus && addr.Address < addr2.Address)
}

// AddrList is a list of USB addresses, always kept sorted in ascending
// order for fast lookup and stable logging. Never append directly; use
// Add.
type AddrList []Addr

// Add inserts addr into the list, preserving sort order and
// deduplicating
func (list *AddrList) Add(addr Addr) {
	i := sort.Search(len(*list), func(n int) bool {
		return !(*list)[n].Less(addr)
	})

	if i < len(*list) && (*list)[i] == addr {
		return
	}

	if i == len(*list) {
		*list = append(*list, addr)
		return
	}

	*list = append(*list, addr)
	copy((*list)[i+1:], (*list)[i:])
	(*list)[i] = addr
}

// Find returns the index of addr in the list, or -1
func (list AddrList) Find(addr Addr) int {
	i := sort.Search(len(list), func(n int) bool {
		return !list[n].Less(addr)
	})

	if i < len(list) && list[i] == addr {
		return i
	}

	return -1
}

// Diff computes the addresses present in list2 but not list, and vice
// versa
func (list AddrList) Diff(list2 AddrList) (added, removed AddrList) {
	for _, a := range list2 {
		if list.Find(a) < 0 {
			added.Add(a)
		}
	}

	for _, a := range list {
		if list2.Find(a) < 0 {
			removed.Add(a)
		}
	}

	return
}
