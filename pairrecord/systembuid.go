/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Host-wide SystemBUID, persisted once and reused across every pairing
 */

package pairrecord

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// systemBUIDFile is the name of the file holding the host's SystemBUID,
// stored alongside the per-device pair records it's saved into.
const systemBUIDFile = "system-buid"

// LoadOrCreateSystemBUID returns the host's persisted SystemBUID,
// generating and saving a fresh one under dir on first use. Every
// device this host pairs with shares the same SystemBUID for as long
// as dir survives, matching how a real usbmuxd's on-disk identity
// works -- a constant string here would make every re-paired device
// look like a different host each time.
func LoadOrCreateSystemBUID(dir string) (string, error) {
	path := filepath.Join(dir, systemBUIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("pairrecord: read %s: %w", path, err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("pairrecord: create %s: %w", dir, err)
	}

	id := uuid.NewString()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("pairrecord: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("pairrecord: rename %s into place: %w", path, err)
	}

	return id, nil
}
