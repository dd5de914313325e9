/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Standalone daemon loop
 *
 * Grounded on the teacher's main.go RunStandalone/RunUdev modes plus
 * device.go's per-device lifecycle: discover devices, open each,
 * track it in a registry, publish status, and clean up on removal.
 * There is no IPP proxy here, so there is nothing equivalent to the
 * teacher's per-device HTTP server goroutine -- devices just sit open
 * and reachable via Connect until the CLI or another process needs a
 * service port.
 */

package daemon

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-imobiledevice/usbmuxd/ctrlsock"
	"github.com/go-imobiledevice/usbmuxd/device"
	"github.com/go-imobiledevice/usbmuxd/internal/conf"
	"github.com/go-imobiledevice/usbmuxd/internal/flock"
	"github.com/go-imobiledevice/usbmuxd/internal/logger"
	"github.com/go-imobiledevice/usbmuxd/internal/paths"
	"github.com/go-imobiledevice/usbmuxd/pairrecord"
	"github.com/go-imobiledevice/usbmuxd/status"
	"github.com/go-imobiledevice/usbmuxd/usb"
)

// Daemon discovers attached Apple mobile devices, keeps a Device open
// for each, and serves the control socket's status endpoint
type Daemon struct {
	registry   *device.Registry
	store      pairrecord.Store
	systemBUID string
	ctrl       *ctrlsock.Server
	log        *logger.Logger

	lockFile *os.File

	stop   chan struct{}
	done   sync.WaitGroup
	events chan hotplugEvent
}

// New builds a Daemon persisting pair records in store and logging
// through log. It loads this host's persisted SystemBUID from
// conf.Conf.PairRecordDir, generating one on first run.
func New(store pairrecord.Store, log *logger.Logger) (*Daemon, error) {
	if log == nil {
		log = logger.Log
	}

	systemBUID, err := pairrecord.LoadOrCreateSystemBUID(conf.Conf.PairRecordDir)
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	return &Daemon{
		registry:   device.NewRegistry(),
		store:      store,
		systemBUID: systemBUID,
		ctrl:       ctrlsock.NewServer(log),
		log:        log,
		stop:       make(chan struct{}),
		events:     make(chan hotplugEvent, 8),
	}, nil
}

// Run acquires the single-instance lock, starts the hotplug poller
// and the control socket, and blocks until Stop is called
func (d *Daemon) Run() error {
	lockFile, err := acquireSingleInstanceLock()
	if err != nil {
		return err
	}
	d.lockFile = lockFile

	if err := d.ctrl.Start(); err != nil {
		flock.Unlock(d.lockFile)
		d.lockFile.Close()
		return err
	}

	d.done.Add(1)
	go func() {
		defer d.done.Done()
		enumerate := func() ([]usb.DeviceInfo, error) {
			return usb.EnumerateDetail(conf.Conf.UsbVendor, conf.Conf.UsbProductMin, conf.Conf.UsbProductMax)
		}
		pollHotplug(enumerate, d.events, d.stop)
	}()

	d.done.Add(1)
	go func() {
		defer d.done.Done()
		d.dispatchEvents()
	}()

	<-d.stop
	return nil
}

// Stop tears down every open device and the control socket, and
// returns once the daemon's goroutines have exited
func (d *Daemon) Stop() {
	select {
	case <-d.stop:
		return // already stopped
	default:
	}
	close(d.stop)
	d.done.Wait()

	d.ctrl.Stop()

	for _, dev := range d.registry.All() {
		d.closeDevice(dev)
	}

	if d.lockFile != nil {
		flock.Unlock(d.lockFile)
		d.lockFile.Close()
	}
}

// acquireSingleInstanceLock ensures only one daemon runs against a
// given state directory at a time, grounded on the teacher's own
// flock-based single-instance guard
func acquireSingleInstanceLock() (*os.File, error) {
	if err := os.MkdirAll(paths.LockDir, 0755); err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	f, err := os.OpenFile(paths.LockFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	if err := flock.Lock(f, true, false); err != nil {
		f.Close()
		if err == flock.ErrBusy {
			return nil, fmt.Errorf("daemon: another usbmuxd-go daemon is already running")
		}
		return nil, fmt.Errorf("daemon: %w", err)
	}

	return f, nil
}

func (d *Daemon) dispatchEvents() {
	for {
		select {
		case <-d.stop:
			return
		case ev := <-d.events:
			if ev.Arrived {
				d.handleArrival(ev.Info)
			} else {
				d.handleRemoval(ev.Info)
			}
		}
	}
}

func (d *Daemon) handleArrival(info usb.DeviceInfo) {
	dev, err := device.Open(info.Addr, info.Product, d.log)
	if err != nil {
		d.log.Begin().Error(' ', "daemon: open %s: %v", info.Addr, err).Commit()
		status.Set(info.Addr, status.Entry{Product: info.Product, Err: err})
		return
	}

	d.registry.Add(dev)
	status.Set(info.Addr, status.Entry{Product: info.Product})

	client, err := dev.DialLockdown(d.systemBUID, d.store)
	if err != nil {
		d.log.Begin().Error(' ', "daemon: lockdown %s: %v", info.Addr, err).Commit()
		status.Set(info.Addr, status.Entry{Product: info.Product, Err: err})
		return
	}
	defer client.Close()

	status.Set(info.Addr, status.Entry{
		Product: info.Product,
		UUID:    dev.UUID,
		Paired:  client.PairRecord() != nil,
	})

	d.log.Begin().Info(' ', "daemon: device %s attached, uuid=%s", info.Addr, dev.UUID).Commit()
}

func (d *Daemon) handleRemoval(info usb.DeviceInfo) {
	dev, ok := d.registry.Get(info.Addr)
	if !ok {
		return
	}
	d.closeDevice(dev)
	d.log.Begin().Info(' ', "daemon: device %s removed", info.Addr).Commit()
}

func (d *Daemon) closeDevice(dev *device.Device) {
	d.registry.Remove(dev.Addr)
	status.Del(dev.Addr)
	dev.Close()
}
