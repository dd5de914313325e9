package pairrecord

import (
	"testing"
)

func sampleRecord() *Record {
	return &Record{
		HostID:            "11111111-2222-3333-4444-555555555555",
		SystemBUID:        "AAAAAAAA-BBBB-CCCC-DDDD-EEEEEEEEEEEE",
		DeviceCertificate: []byte("device-cert"),
		HostCertificate:   []byte("host-cert"),
		RootCertificate:   []byte("root-cert"),
		HostPrivateKey:    []byte("host-key"),
		RootPrivateKey:    []byte("root-key"),
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	const uuid = "00008030-001A2C3D4E5F6A01"
	rec := sampleRecord()

	if err := store.Save(uuid, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := store.Load(uuid)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected record to exist")
	}

	if got.HostID != rec.HostID || got.SystemBUID != rec.SystemBUID {
		t.Fatalf("identity fields mismatch: got %+v", got)
	}
	if string(got.HostPrivateKey) != string(rec.HostPrivateKey) {
		t.Fatalf("HostPrivateKey mismatch")
	}
}

func TestFileStoreLoadMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	_, ok, err := store.Load("does-not-exist")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing record")
	}
}

func TestFileStoreDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	const uuid = "some-uuid"
	if err := store.Save(uuid, sampleRecord()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(uuid); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, ok, err := store.Load(uuid)
	if err != nil {
		t.Fatalf("Load after delete: %v", err)
	}
	if ok {
		t.Fatal("expected record to be gone after Delete")
	}

	if err := store.Delete(uuid); err != nil {
		t.Fatalf("Delete of already-absent record should not error: %v", err)
	}
}
