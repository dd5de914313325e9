/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * DeviceRegistry: tracks every currently-open Device for the daemon
 * and control-socket layers
 *
 * Grounded on the teacher's implicit single-map-of-devices pattern in
 * main.go's standalone loop (devices tracked by UsbAddr across
 * hotplug scans).
 */

package device

import (
	"sort"
	"sync"

	"github.com/go-imobiledevice/usbmuxd/usb"
)

// Registry tracks all Devices currently opened by this process, keyed
// by USB address (UUID may still be empty if lockdown hasn't been
// dialed yet)
type Registry struct {
	mu      sync.Mutex
	devices map[usb.Addr]*Device
}

// NewRegistry returns an empty Registry
func NewRegistry() *Registry {
	return &Registry{devices: make(map[usb.Addr]*Device)}
}

// Add registers d under its USB address
func (r *Registry) Add(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.Addr] = d
}

// Remove drops the Device at addr from the registry, if present. It
// does not close the Device.
func (r *Registry) Remove(addr usb.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, addr)
}

// Get returns the Device at addr, if tracked
func (r *Registry) Get(addr usb.Addr) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[addr]
	return d, ok
}

// FindByUUID returns the Device whose UUID matches uuid, if any device
// has dialed lockdown and learned it
func (r *Registry) FindByUUID(uuid string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.UUID == uuid {
			return d, true
		}
	}
	return nil, false
}

// Addrs returns every currently-tracked USB address, sorted
func (r *Registry) Addrs() usb.AddrList {
	r.mu.Lock()
	defer r.mu.Unlock()

	var list usb.AddrList
	for addr := range r.devices {
		list.Add(addr)
	}
	return list
}

// All returns every tracked Device, ordered by USB address
func (r *Registry) All() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.Less(out[j].Addr) })
	return out
}

// Len returns the number of tracked devices
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}
