package pairrecord

import "testing"

func TestLoadOrCreateSystemBUIDPersists(t *testing.T) {
	dir := t.TempDir()

	id1, err := LoadOrCreateSystemBUID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateSystemBUID: %v", err)
	}
	if id1 == "" {
		t.Fatal("expected a non-empty SystemBUID")
	}

	id2, err := LoadOrCreateSystemBUID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateSystemBUID (second call): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected the same SystemBUID across calls, got %q then %q", id1, id2)
	}
}

func TestLoadOrCreateSystemBUIDDistinctPerDir(t *testing.T) {
	id1, err := LoadOrCreateSystemBUID(t.TempDir())
	if err != nil {
		t.Fatalf("LoadOrCreateSystemBUID: %v", err)
	}
	id2, err := LoadOrCreateSystemBUID(t.TempDir())
	if err != nil {
		t.Fatalf("LoadOrCreateSystemBUID: %v", err)
	}
	if id1 == id2 {
		t.Fatal("expected distinct SystemBUIDs for distinct state directories")
	}
}
