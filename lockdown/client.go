/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Lockdown control-channel client and its session state machine
 */

package lockdown

import (
	"crypto/tls"
	"io"
	"time"

	"github.com/go-imobiledevice/usbmuxd/internal/conf"
	"github.com/go-imobiledevice/usbmuxd/internal/logger"
	"github.com/go-imobiledevice/usbmuxd/internal/muxerr"
	"github.com/go-imobiledevice/usbmuxd/mux"
	"github.com/go-imobiledevice/usbmuxd/pairrecord"
	"github.com/go-imobiledevice/usbmuxd/plist"
	"sync"
)

// Port is lockdownd's well-known control-channel destination port
const Port = 62078

// State enumerates the lockdown session lifecycle from SPEC_FULL.md
// §4.4:
//
//	Fresh --QueryType ok--> Handshook
//	Handshook --Pair ok--> Paired
//	Handshook --StartSession--> Sessioned
//	Sessioned --StartSession{SSL}+handshake--> Secured
//	Any --StopSession--> Handshook
//	Any --error/close--> Closed
type State int

const (
	StateFresh State = iota
	StateHandshook
	StatePaired
	StateSessioned
	StateSecured
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateHandshook:
		return "handshook"
	case StatePaired:
		return "paired"
	case StateSessioned:
		return "sessioned"
	case StateSecured:
		return "secured"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ioStream is the minimal surface Client needs from either a raw
// *mux.Connection or a TLS-upgraded one
type ioStream interface {
	io.Reader
	io.Writer
	Close() error
}

// rawStream adapts a *mux.Connection to ioStream before any TLS
// upgrade has happened
type rawStream struct {
	*muxNetConn
}

// Client is a lockdown control-channel session. Create one with
// Dial, call QueryType/Pair/StartSession/StartService/GetValue/SetValue
// as needed, and Close when done.
type Client struct {
	mu sync.Mutex

	// reqMu serializes request/response pairs on the wire, independent
	// of mu which only guards state fields -- a request can block on
	// I/O for seconds and must not hold mu while doing so.
	reqMu sync.Mutex

	conn   *mux.Connection
	stream ioStream
	tls    *tls.Conn

	state      State
	sessionID  string
	systemBUID string
	pairRecord *pairrecord.Record
	store      pairrecord.Store
	deviceUUID string

	// pairRetries/pairRetryWait bound Pair's PairingDialogResponsePending
	// retry loop, sourced from conf.Conf at Dial time
	pairRetries   int
	pairRetryWait time.Duration

	log *logger.Logger
}

// Dial opens a MuxConnection to lockdownd's well-known port and
// returns a fresh Client in StateFresh
func Dial(transport *mux.Transport, deviceUUID, systemBUID string, store pairrecord.Store, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.Log
	}

	conn, err := transport.Connect(Port, 5*time.Second)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:          conn,
		stream:        rawStream{newMuxNetConn(conn)},
		state:         StateFresh,
		systemBUID:    systemBUID,
		store:         store,
		deviceUUID:    deviceUUID,
		pairRetries:   conf.Conf.PairingRetries,
		pairRetryWait: conf.Conf.PairingRetryWait,
		log:           log,
	}

	if rec, ok, err := store.Load(deviceUUID); err == nil && ok {
		c.pairRecord = rec
	}

	return c, nil
}

// newClientForTest builds a Client directly over an arbitrary
// ioStream, bypassing Dial's MuxConnection setup. Used by this
// package's own tests to exercise the RPC state machine without a
// simulated USB device.
func newClientForTest(stream ioStream, systemBUID string, store pairrecord.Store, deviceUUID string) *Client {
	c := &Client{
		stream:        stream,
		state:         StateFresh,
		systemBUID:    systemBUID,
		store:         store,
		deviceUUID:    deviceUUID,
		pairRetries:   conf.Conf.PairingRetries,
		pairRetryWait: conf.Conf.PairingRetryWait,
		log:           logger.Log,
	}
	if rec, ok, err := store.Load(deviceUUID); err == nil && ok {
		c.pairRecord = rec
	}
	return c
}

// State returns the client's current session state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// request sends req and returns the decoded response, failing with
// PlistError on malformed plist and translating an Error string in
// the response via muxerr.FromLockdownString.
func (c *Client) request(req plist.Value) (plist.Value, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	c.log.Begin().TraceLockdown(' ', "lockdown: -> %s", req.GetString("Request")).Commit()

	if err := plist.WriteMessage(stream, req); err != nil {
		return plist.Value{}, muxerr.Wrap(muxerr.PlistError, err)
	}

	resp, err := plist.ReadMessage(stream)
	if err != nil {
		return plist.Value{}, muxerr.Wrap(muxerr.PlistError, err)
	}

	msg := c.log.Begin()
	msg.TraceLockdown(' ', "lockdown: <- %s", resp.GetString("Request"))
	if body, err := plist.MarshalXML(resp); err == nil {
		msg.HexDump(logger.LevelTraceLockdown, body)
	}
	msg.Commit()

	if errStr, ok := resp.Get("Error"); ok && errStr.Kind == plist.KindString {
		return resp, muxerr.FromLockdownString(errStr.String)
	}

	return resp, nil
}

// QueryType performs the handshake RPC every session starts with
func (c *Client) QueryType() error {
	req := plist.NewDict()
	req.Set("Request", plist.String("QueryType"))

	resp, err := c.request(req)
	if err != nil {
		return err
	}

	if got := resp.GetString("Type"); got != "com.apple.mobile.lockdown" {
		return muxerr.New(muxerr.InvalidService, "unexpected lockdown type %q", got)
	}

	c.mu.Lock()
	c.state = StateHandshook
	c.mu.Unlock()
	return nil
}

// GetValue fetches Key within the optional domain, rejecting any
// domain outside the known-safe allowlist before it reaches the wire
func (c *Client) GetValue(domain, key string) (plist.Value, error) {
	if !isKnownDomain(domain) {
		return plist.Value{}, muxerr.New(muxerr.InvalidArg, "domain %q is not in the known-safe allowlist", domain)
	}

	req := plist.NewDict()
	req.Set("Request", plist.String("GetValue"))
	if domain != "" {
		req.Set("Domain", plist.String(domain))
	}
	if key != "" {
		req.Set("Key", plist.String(key))
	}

	resp, err := c.request(req)
	if err != nil {
		return plist.Value{}, err
	}

	val, ok := resp.Get("Value")
	if !ok {
		return plist.Value{}, muxerr.New(muxerr.Unknown, "GetValue response missing Value")
	}
	return val, nil
}

// SetValue sets Key within the optional domain to value, subject to
// the same domain allowlist as GetValue
func (c *Client) SetValue(domain, key string, value plist.Value) error {
	if !isKnownDomain(domain) {
		return muxerr.New(muxerr.InvalidArg, "domain %q is not in the known-safe allowlist", domain)
	}

	req := plist.NewDict()
	req.Set("Request", plist.String("SetValue"))
	if domain != "" {
		req.Set("Domain", plist.String(domain))
	}
	req.Set("Key", plist.String(key))
	req.Set("Value", value)

	_, err := c.request(req)
	return err
}

// Pair performs first-time pairing: generating a host identity,
// exchanging it with the device, and persisting the resulting
// PairRecord. If a PairRecord is already loaded, Pair is a no-op that
// transitions straight to StatePaired.
func (c *Client) Pair() error {
	c.mu.Lock()
	already := c.pairRecord
	c.mu.Unlock()

	if already != nil {
		c.mu.Lock()
		c.state = StatePaired
		c.mu.Unlock()
		return nil
	}

	devicePub, err := c.GetValue("", "DevicePublicKey")
	if err != nil {
		return err
	}
	if devicePub.Kind != plist.KindData {
		return muxerr.New(muxerr.InvalidPairRecord, "DevicePublicKey is not binary data")
	}

	identity, err := generateIdentity(devicePub.Data)
	if err != nil {
		return err
	}

	req := pairRequestPlist(identity, c.systemBUID)

	retries := c.pairRetries
	if retries <= 0 {
		retries = 1
	}
	wait := c.pairRetryWait

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		_, err := c.request(req)
		if err == nil {
			lastErr = nil
			break
		}
		if !muxerr.Is(err, muxerr.PairingDialogResponsePending) {
			return err
		}
		lastErr = err
		c.log.Begin().Info(' ', "lockdown: waiting for pairing dialog on device (attempt %d/%d)", attempt+1, retries).Commit()
		time.Sleep(wait)
	}
	if lastErr != nil {
		return lastErr
	}

	rec := identity.toRecord(c.systemBUID)
	if err := c.store.Save(c.deviceUUID, rec); err != nil {
		return err
	}

	c.mu.Lock()
	c.pairRecord = rec
	c.state = StatePaired
	c.mu.Unlock()

	return nil
}

// StartSession sends StartSession and, if the device requests it,
// immediately upgrades the connection to TLS using the PairRecord.
func (c *Client) StartSession() error {
	c.mu.Lock()
	rec := c.pairRecord
	c.mu.Unlock()

	if rec == nil {
		return muxerr.New(muxerr.InvalidPairRecord, "StartSession requires a pair record; call Pair first")
	}

	req := plist.NewDict()
	req.Set("Request", plist.String("StartSession"))
	req.Set("HostID", plist.String(rec.HostID))
	req.Set("SystemBUID", plist.String(rec.SystemBUID))

	resp, err := c.request(req)
	if err != nil {
		return err
	}

	sessionID := resp.GetString("SessionID")
	if sessionID == "" {
		return muxerr.New(muxerr.Unknown, "StartSession response missing SessionID")
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.state = StateSessioned
	c.mu.Unlock()

	if resp.GetBool("EnableSessionSSL") {
		tlsConn, err := upgradeTLS(c.conn, rec)
		if err != nil {
			return err
		}

		c.mu.Lock()
		c.tls = tlsConn
		c.stream = tlsConn
		c.state = StateSecured
		c.mu.Unlock()
	}

	return nil
}

// StartService requests name be started, returning the port the
// caller should open a fresh MuxConnection to, and whether that new
// connection requires its own TLS upgrade before use.
func (c *Client) StartService(name string) (port uint16, enableSSL bool, err error) {
	req := plist.NewDict()
	req.Set("Request", plist.String("StartService"))
	req.Set("Service", plist.String(name))

	resp, err := c.request(req)
	if err != nil {
		return 0, false, err
	}

	portVal, ok := resp.Get("Port")
	if !ok || portVal.Kind != plist.KindInteger {
		return 0, false, muxerr.New(muxerr.InvalidService, "StartService response missing Port")
	}

	return uint16(portVal.Integer), resp.GetBool("EnableServiceSSL"), nil
}

// PairRecord returns the client's current pair record, or nil if
// pairing has not completed
func (c *Client) PairRecord() *pairrecord.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairRecord
}

// StopSession tears down TLS (if active) and clears the session,
// returning to StateHandshook. It is safe to call from any state.
func (c *Client) StopSession() error {
	c.mu.Lock()
	tlsConn := c.tls
	c.mu.Unlock()

	if tlsConn != nil {
		tlsConn.Close() // sends close-notify
	}

	if c.sessionStarted() {
		req := plist.NewDict()
		req.Set("Request", plist.String("StopSession"))
		req.Set("SessionID", plist.String(c.sessionIDLocked()))
		c.request(req) // best-effort
	}

	c.mu.Lock()
	if c.tls != nil && c.conn != nil {
		c.stream = rawStream{newMuxNetConn(c.conn)}
	}
	c.tls = nil
	c.sessionID = ""
	c.state = StateHandshook
	c.mu.Unlock()

	return nil
}

func (c *Client) sessionStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID != ""
}

func (c *Client) sessionIDLocked() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Close performs a best-effort StopSession and then FIN-closes the
// underlying MuxConnection
func (c *Client) Close() error {
	c.StopSession()

	c.mu.Lock()
	c.state = StateClosed
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return c.stream.Close()
}
