/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * File-backed pair record storage, one plist per device UUID
 */

package pairrecord

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-imobiledevice/usbmuxd/plist"
)

// Store is the abstract contract the lockdown client consumes: load a
// device's pair record if one exists, or save a freshly negotiated
// one. A file-backed implementation is provided below; tests and
// embedders may supply their own.
type Store interface {
	Load(uuid string) (*Record, bool, error)
	Save(uuid string, rec *Record) error
	Delete(uuid string) error
}

// FileStore persists each device's Record as a bplist00 file named
// <uuid>.plist under Dir
type FileStore struct {
	Dir string
}

// NewFileStore returns a FileStore rooted at dir, creating it if
// necessary
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("pairrecord: create %s: %w", dir, err)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) path(uuid string) string {
	return filepath.Join(s.Dir, uuid+".plist")
}

// Load reads the pair record for uuid. ok is false, with a nil error,
// if no record exists yet.
func (s *FileStore) Load(uuid string) (*Record, bool, error) {
	data, err := os.ReadFile(s.path(uuid))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pairrecord: read %s: %w", uuid, err)
	}

	v, err := plist.Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("pairrecord: parse %s: %w", uuid, err)
	}

	rec, err := FromPlist(v)
	if err != nil {
		return nil, false, fmt.Errorf("pairrecord: decode %s: %w", uuid, err)
	}

	return rec, true, nil
}

// Save writes rec for uuid, replacing any prior record. The write
// goes to a temp file in the same directory and is renamed into place
// so a crash mid-write never leaves a half-written pair record that
// `Load` would trip over.
func (s *FileStore) Save(uuid string, rec *Record) error {
	data, err := plist.MarshalBinary(rec.ToPlist())
	if err != nil {
		return fmt.Errorf("pairrecord: encode %s: %w", uuid, err)
	}

	tmp := s.path(uuid) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("pairrecord: write %s: %w", uuid, err)
	}

	if err := os.Rename(tmp, s.path(uuid)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("pairrecord: rename %s into place: %w", uuid, err)
	}

	return nil
}

// Delete removes the pair record for uuid, if any. It is not an error
// for the record to already be absent.
func (s *FileStore) Delete(uuid string) error {
	err := os.Remove(s.path(uuid))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pairrecord: delete %s: %w", uuid, err)
	}
	return nil
}
