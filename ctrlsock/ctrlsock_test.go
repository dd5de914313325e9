package ctrlsock

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-imobiledevice/usbmuxd/status"
	"github.com/go-imobiledevice/usbmuxd/usb"
)

func TestHandleStatus(t *testing.T) {
	addr := usb.Addr{Bus: 3, Address: 4}
	status.Set(addr, status.Entry{UUID: "handler-test-uuid"})
	defer status.Del(addr)

	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	s.handle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !strings.Contains(string(body), "handler-test-uuid") {
		t.Fatalf("expected uuid in body, got %q", body)
	}
}

func TestHandleMethodNotAllowed(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()

	s.handle(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleNotFound(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()

	s.handle(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
