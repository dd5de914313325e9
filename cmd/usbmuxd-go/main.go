/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * The main function
 *
 * Grounded on the teacher's main.go: a single binary dispatching on a
 * mode argument (standalone/udev/debug/check/status), reworked for
 * this domain's run modes (list/pair/forward/standalone/status).
 */

package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-imobiledevice/usbmuxd/ctrlsock"
	"github.com/go-imobiledevice/usbmuxd/daemon"
	"github.com/go-imobiledevice/usbmuxd/device"
	"github.com/go-imobiledevice/usbmuxd/internal/conf"
	"github.com/go-imobiledevice/usbmuxd/internal/logger"
	"github.com/go-imobiledevice/usbmuxd/internal/muxerr"
	"github.com/go-imobiledevice/usbmuxd/internal/paths"
	"github.com/go-imobiledevice/usbmuxd/pairrecord"
	"github.com/go-imobiledevice/usbmuxd/usb"
)

const usageText = `Usage:
    %s mode [options]

Modes are:
    list                           - enumerate attached devices and exit
    pair <bus> <address>           - pair with a device, persist credentials
    forward <uuid> <port> <addr>   - bridge a TCP listener at addr to a
                                      device port
    standalone                     - run forever, discover devices and
                                      serve the status control socket
    status                         - print daemon status and exit
`

func usage() {
	fmt.Printf(usageText, os.Args[0])
	os.Exit(0)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	if err := conf.Load(); err != nil {
		fail("usbmuxd-go: %s", err)
	}
	logger.SetDebugMask(conf.Conf.LogMain)

	store, err := pairrecord.NewFileStore(conf.Conf.PairRecordDir)
	if err != nil {
		fail("usbmuxd-go: %s", err)
	}

	buid, err := pairrecord.LoadOrCreateSystemBUID(conf.Conf.PairRecordDir)
	if err != nil {
		fail("usbmuxd-go: %s", err)
	}

	switch os.Args[1] {
	case "list":
		runList()
	case "pair":
		runPair(os.Args[2:], store, buid)
	case "forward":
		runForward(os.Args[2:], store, buid)
	case "standalone":
		runStandalone(store)
	case "status":
		runStatus()
	default:
		usage()
	}
}

func runList() {
	infos, err := usb.EnumerateDetail(conf.Conf.UsbVendor, conf.Conf.UsbProductMin, conf.Conf.UsbProductMax)
	if err != nil {
		fail("usbmuxd-go: %s", err)
	}

	if len(infos) == 0 {
		fmt.Println("No devices found")
		return
	}

	for _, info := range infos {
		fmt.Printf("%s  product=0x%.4x\n", info.Addr, info.Product)
	}
}

func runPair(args []string, store pairrecord.Store, buid string) {
	if len(args) != 2 {
		fail("usage: %s pair <bus> <address>", os.Args[0])
	}
	bus, err1 := strconv.Atoi(args[0])
	address, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		fail("usbmuxd-go: bus and address must be integers")
	}

	dev := openDeviceAt(usb.Addr{Bus: bus, Address: address})
	defer dev.Close()

	client, err := dev.DialLockdown(buid, store)
	if err != nil {
		fail("usbmuxd-go: %s", err)
	}
	defer client.Close()

	if err := client.Pair(); err != nil {
		fail("usbmuxd-go: pairing failed: %s", err)
	}

	fmt.Printf("Paired with device %s (uuid %s)\n", dev.Addr, dev.UUID)
}

func runForward(args []string, store pairrecord.Store, buid string) {
	if len(args) != 3 {
		fail("usage: %s forward <uuid> <dest-port> <local-addr>", os.Args[0])
	}
	uuid := args[0]
	destPort, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		fail("usbmuxd-go: invalid dest-port: %s", err)
	}
	localAddr := args[2]

	infos, err := usb.EnumerateDetail(conf.Conf.UsbVendor, conf.Conf.UsbProductMin, conf.Conf.UsbProductMax)
	if err != nil {
		fail("usbmuxd-go: %s", err)
	}

	var dev *device.Device
	for _, info := range infos {
		d, err := device.Open(info.Addr, info.Product, nil)
		if err != nil {
			continue
		}
		client, err := d.DialLockdown(buid, store)
		if err != nil {
			d.Close()
			continue
		}
		match := d.UUID == uuid
		client.Close()
		if match {
			dev = d
			break
		}
		d.Close()
	}
	if dev == nil {
		fail("usbmuxd-go: device %s not found", uuid)
	}
	defer dev.Close()

	listener, err := net.Listen("tcp", localAddr)
	if err != nil {
		fail("usbmuxd-go: %s", err)
	}
	defer listener.Close()

	fmt.Printf("Forwarding %s -> device port %d\n", localAddr, destPort)

	for {
		conn, err := listener.Accept()
		if err != nil {
			fail("usbmuxd-go: %s", err)
		}
		go bridgeConnection(dev, uint16(destPort), conn)
	}
}

func bridgeConnection(dev *device.Device, destPort uint16, local net.Conn) {
	defer local.Close()

	muxConn, err := dev.Connect(destPort, conf.Conf.ConnectTimeout)
	if err != nil {
		logger.Log.Begin().Error(' ', "forward: connect: %v", err).Commit()
		return
	}
	defer muxConn.Close()

	go func() {
		defer muxConn.Close()
		buf := make([]byte, 64*1024)
		for {
			n, err := local.Read(buf)
			if n > 0 {
				if err := muxConn.Send(buf[:n]); err != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	const recvPoll = 30 * time.Second

	buf := make([]byte, 64*1024)
	for {
		n, err := muxConn.Recv(buf, recvPoll)
		if n > 0 {
			if _, werr := local.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil && !muxerr.IsTimeout(err) {
			return
		}
	}
}

// runStandalone lets daemon.New load its own SystemBUID alongside store,
// since the daemon owns that identity for the life of the process.
func runStandalone(store pairrecord.Store) {
	if err := os.MkdirAll(paths.StateDir, 0755); err != nil {
		fail("usbmuxd-go: %s", err)
	}

	d, err := daemon.New(store, logger.Log)
	if err != nil {
		fail("usbmuxd-go: %s", err)
	}
	fmt.Println("usbmuxd-go: running, control socket at", paths.ControlSocket)
	if err := d.Run(); err != nil {
		fail("usbmuxd-go: %s", err)
	}
}

func runStatus() {
	out, err := ctrlsock.Retrieve()
	if err != nil {
		fail("usbmuxd-go: %s", err)
	}
	os.Stdout.Write(out)
}

func openDeviceAt(addr usb.Addr) *device.Device {
	infos, err := usb.EnumerateDetail(conf.Conf.UsbVendor, conf.Conf.UsbProductMin, conf.Conf.UsbProductMax)
	if err != nil {
		fail("usbmuxd-go: %s", err)
	}

	var product uint16
	found := false
	for _, info := range infos {
		if info.Addr == addr {
			product = info.Product
			found = true
			break
		}
	}
	if !found {
		fail("usbmuxd-go: device %s not found", addr)
	}

	dev, err := device.Open(addr, product, nil)
	if err != nil {
		fail("usbmuxd-go: %s", err)
	}
	return dev
}
