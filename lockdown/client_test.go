package lockdown

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"net"
	"testing"
	"time"

	"github.com/go-imobiledevice/usbmuxd/pairrecord"
	"github.com/go-imobiledevice/usbmuxd/plist"
)

// memStore is an in-process pairrecord.Store for tests
type memStore struct {
	records map[string]*pairrecord.Record
}

func newMemStore() *memStore { return &memStore{records: make(map[string]*pairrecord.Record)} }

func (s *memStore) Load(uuid string) (*pairrecord.Record, bool, error) {
	rec, ok := s.records[uuid]
	return rec, ok, nil
}

func (s *memStore) Save(uuid string, rec *pairrecord.Record) error {
	s.records[uuid] = rec
	return nil
}

func (s *memStore) Delete(uuid string) error {
	delete(s.records, uuid)
	return nil
}

// pipeStream adapts a net.Conn (from net.Pipe) to this package's
// ioStream
type pipeStream struct {
	net.Conn
}

func newTestClientPair(t *testing.T, store pairrecord.Store, uuid string) (*Client, net.Conn) {
	t.Helper()
	clientSide, deviceSide := net.Pipe()
	c := newClientForTest(pipeStream{clientSide}, "test-system-buid", store, uuid)
	return c, deviceSide
}

// serveOne reads one framed request off deviceSide, hands it to
// handler, and writes back the response
func serveOne(t *testing.T, deviceSide net.Conn, handler func(req plist.Value) plist.Value) {
	t.Helper()
	req, err := plist.ReadMessage(deviceSide)
	if err != nil {
		t.Errorf("fake device: ReadMessage: %v", err)
		return
	}
	resp := handler(req)
	if err := plist.WriteMessage(deviceSide, resp); err != nil {
		t.Errorf("fake device: WriteMessage: %v", err)
	}
}

func TestClientQueryType(t *testing.T) {
	c, deviceSide := newTestClientPair(t, newMemStore(), "uuid-1")
	defer deviceSide.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOne(t, deviceSide, func(req plist.Value) plist.Value {
			if req.GetString("Request") != "QueryType" {
				t.Errorf("unexpected request %q", req.GetString("Request"))
			}
			resp := plist.NewDict()
			resp.Set("Request", plist.String("QueryType"))
			resp.Set("Type", plist.String("com.apple.mobile.lockdown"))
			return resp
		})
	}()

	if err := c.QueryType(); err != nil {
		t.Fatalf("QueryType: %v", err)
	}
	if c.State() != StateHandshook {
		t.Fatalf("expected Handshook, got %v", c.State())
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fake device never completed")
	}
}

func TestClientGetValueRejectsUnknownDomain(t *testing.T) {
	c, deviceSide := newTestClientPair(t, newMemStore(), "uuid-1")
	defer deviceSide.Close()

	_, err := c.GetValue("com.apple.mobile.debug", "Foo")
	if err == nil {
		t.Fatal("expected error for disallowed domain")
	}
}

func TestClientGetValueRoundTrip(t *testing.T) {
	c, deviceSide := newTestClientPair(t, newMemStore(), "uuid-1")
	defer deviceSide.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOne(t, deviceSide, func(req plist.Value) plist.Value {
			resp := plist.NewDict()
			resp.Set("Request", plist.String("GetValue"))
			resp.Set("Value", plist.String("17.0"))
			return resp
		})
	}()

	v, err := c.GetValue("", "ProductVersion")
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if v.String != "17.0" {
		t.Fatalf("got %q, want %q", v.String, "17.0")
	}

	<-done
}

func TestClientGetValuePropagatesLockdownError(t *testing.T) {
	c, deviceSide := newTestClientPair(t, newMemStore(), "uuid-1")
	defer deviceSide.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOne(t, deviceSide, func(req plist.Value) plist.Value {
			resp := plist.NewDict()
			resp.Set("Request", plist.String("GetValue"))
			resp.Set("Error", plist.String("PasswordProtected"))
			return resp
		})
	}()

	_, err := c.GetValue("", "ProductVersion")
	if err == nil {
		t.Fatal("expected error")
	}

	<-done
}

// TestClientPairRetriesUntilDialogAccepted drives Pair() through one
// PairingDialogResponsePending retry before the device finally accepts,
// exercising the retry loop fed by conf.Conf.PairingRetries/
// PairingRetryWait via newClientForTest.
func TestClientPairRetriesUntilDialogAccepted(t *testing.T) {
	devKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate device key: %v", err)
	}
	devicePub, err := x509.MarshalPKIXPublicKey(&devKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal device public key: %v", err)
	}

	store := newMemStore()
	c, deviceSide := newTestClientPair(t, store, "uuid-1")
	defer deviceSide.Close()

	// Keep the test fast regardless of conf.Conf's production defaults.
	c.pairRetries = 3
	c.pairRetryWait = time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)

		serveOne(t, deviceSide, func(req plist.Value) plist.Value {
			if req.GetString("Request") != "GetValue" {
				t.Errorf("unexpected request %q", req.GetString("Request"))
			}
			resp := plist.NewDict()
			resp.Set("Request", plist.String("GetValue"))
			resp.Set("Value", plist.Data(devicePub))
			return resp
		})

		pairAttempts := 0
		for {
			pairAttempts++
			req, err := plist.ReadMessage(deviceSide)
			if err != nil {
				t.Errorf("fake device: ReadMessage: %v", err)
				return
			}
			if req.GetString("Request") != "Pair" {
				t.Errorf("unexpected request %q", req.GetString("Request"))
				return
			}

			resp := plist.NewDict()
			if pairAttempts < 2 {
				resp.Set("Error", plist.String("PairingDialogResponsePending"))
			} else {
				resp.Set("Request", plist.String("Pair"))
			}
			if err := plist.WriteMessage(deviceSide, resp); err != nil {
				t.Errorf("fake device: WriteMessage: %v", err)
				return
			}
			if pairAttempts >= 2 {
				return
			}
		}
	}()

	if err := c.Pair(); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if c.State() != StatePaired {
		t.Fatalf("expected Paired, got %v", c.State())
	}
	if _, ok, _ := store.Load("uuid-1"); !ok {
		t.Fatal("expected a pair record to be persisted")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fake device never completed")
	}
}

// TestClientPairGivesUpAfterMaxRetries checks Pair surfaces the
// PairingDialogResponsePending error once pairRetries is exhausted,
// rather than retrying forever.
func TestClientPairGivesUpAfterMaxRetries(t *testing.T) {
	devKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate device key: %v", err)
	}
	devicePub, err := x509.MarshalPKIXPublicKey(&devKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal device public key: %v", err)
	}

	c, deviceSide := newTestClientPair(t, newMemStore(), "uuid-1")
	defer deviceSide.Close()

	c.pairRetries = 2
	c.pairRetryWait = time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)

		serveOne(t, deviceSide, func(req plist.Value) plist.Value {
			resp := plist.NewDict()
			resp.Set("Request", plist.String("GetValue"))
			resp.Set("Value", plist.Data(devicePub))
			return resp
		})

		for i := 0; i < 2; i++ {
			serveOne(t, deviceSide, func(req plist.Value) plist.Value {
				resp := plist.NewDict()
				resp.Set("Error", plist.String("PairingDialogResponsePending"))
				return resp
			})
		}
	}()

	err = c.Pair()
	if err == nil {
		t.Fatal("expected Pair to fail once retries are exhausted")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fake device never completed")
	}
}

func TestClientStartSessionRequiresPairRecord(t *testing.T) {
	c, deviceSide := newTestClientPair(t, newMemStore(), "uuid-1")
	defer deviceSide.Close()

	if err := c.StartSession(); err == nil {
		t.Fatal("expected error starting a session with no pair record")
	}
}

func TestClientStartSessionWithoutSSL(t *testing.T) {
	store := newMemStore()
	rec := &pairrecord.Record{
		HostID:            "host-id",
		SystemBUID:        "test-system-buid",
		DeviceCertificate: []byte("dc"),
		HostCertificate:   []byte("hc"),
		RootCertificate:   []byte("rc"),
		HostPrivateKey:    []byte("hk"),
		RootPrivateKey:    []byte("rk"),
	}
	store.Save("uuid-1", rec)

	c, deviceSide := newTestClientPair(t, store, "uuid-1")
	defer deviceSide.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOne(t, deviceSide, func(req plist.Value) plist.Value {
			if req.GetString("HostID") != "host-id" {
				t.Errorf("unexpected HostID %q", req.GetString("HostID"))
			}
			resp := plist.NewDict()
			resp.Set("Request", plist.String("StartSession"))
			resp.Set("SessionID", plist.String("session-123"))
			resp.Set("EnableSessionSSL", plist.Bool(false))
			return resp
		})
	}()

	if err := c.StartSession(); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if c.State() != StateSessioned {
		t.Fatalf("expected Sessioned, got %v", c.State())
	}

	<-done
}
