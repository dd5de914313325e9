/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Common paths
 */

package paths

const (
	// ConfDir is the path to the configuration directory
	ConfDir = "/etc/usbmuxd-go"

	// StateDir is the path to the program state directory
	StateDir = "/var/lib/usbmuxd-go"

	// PairRecordDir is where per-device pair records are persisted
	PairRecordDir = StateDir + "/pair-records"

	// LogDir is where per-device log files are written
	LogDir = "/var/log/usbmuxd-go"

	// LockDir holds the daemon's single-instance lock file
	LockDir = StateDir + "/lock"

	// LockFile is the daemon's single-instance lock file
	LockFile = LockDir + "/usbmuxd-go.lock"

	// ControlSocket is the path to the daemon's status control socket
	ControlSocket = StateDir + "/ctrl"
)
