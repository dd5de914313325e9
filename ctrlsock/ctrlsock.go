/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Control socket
 *
 * Grounded on the teacher's ctrlsock.go: a small HTTP server run atop
 * a unix-domain socket, currently serving only a /status endpoint.
 * Reused near-verbatim since the mechanism (not its payload) is what
 * the teacher's file actually provides.
 */

package ctrlsock

import (
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/go-imobiledevice/usbmuxd/internal/logger"
	"github.com/go-imobiledevice/usbmuxd/internal/paths"
	"github.com/go-imobiledevice/usbmuxd/status"
)

// ErrNoDaemon is returned by Dial when no daemon appears to be
// listening on the control socket
var ErrNoDaemon = errors.New("usbmuxd-go daemon not running")

// ErrAccess is returned by Dial when the control socket exists but is
// not accessible to the calling user
var ErrAccess = errors.New("access denied")

// Addr is the control socket address, in net.UnixAddr form
var Addr = &net.UnixAddr{Name: paths.ControlSocket, Net: "unix"}

// Server runs the control socket's HTTP server
type Server struct {
	http     http.Server
	listener net.Listener
}

// NewServer builds a Server logging errors through log
func NewServer(log *logger.Logger) *Server {
	s := &Server{}
	s.http = http.Server{
		Handler:  http.HandlerFunc(s.handle),
		ErrorLog: stdlog(log),
	}
	return s
}

func stdlog(l *logger.Logger) *log.Logger {
	return log.New(l.Begin().LineWriter(logger.LevelError, '!'), "", 0)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if v := recover(); v != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	if r.Method != http.MethodGet {
		http.Error(w, r.Method+": method not supported", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/status" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(status.Format())
}

// Start listens on the control socket and begins serving requests in
// the background
func (s *Server) Start() error {
	os.Remove(paths.ControlSocket)

	listener, err := net.ListenUnix("unix", Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	os.Chmod(paths.ControlSocket, 0777)

	go s.http.Serve(listener)
	return nil
}

// Stop shuts down the control socket server
func (s *Server) Stop() {
	s.http.Close()
}

// Dial connects to the control socket of a running usbmuxd-go daemon
func Dial() (net.Conn, error) {
	conn, err := net.DialUnix("unix", nil, Addr)
	if err == nil {
		return conn, nil
	}

	if neterr, ok := err.(*net.OpError); ok {
		if syserr, ok := neterr.Err.(*os.SyscallError); ok {
			switch syserr.Err {
			case syscall.ECONNREFUSED, syscall.ENOENT:
				return nil, ErrNoDaemon
			case syscall.EACCES, syscall.EPERM:
				return nil, ErrAccess
			}
		}
	}

	return nil, err
}

// Retrieve connects to the running daemon and returns its formatted
// status text
func Retrieve() ([]byte, error) {
	client := &http.Client{
		Transport: &http.Transport{
			Dial: func(network, addr string) (net.Conn, error) {
				return Dial()
			},
		},
	}

	rsp, err := client.Get("http://localhost/status")
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := rsp.Body.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	return buf, nil
}
