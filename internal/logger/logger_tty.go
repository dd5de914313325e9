/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Console color/tty detection
 */

package logger

import (
	"io"
	"os"
)

// isAtty returns true if the file refers to a character device (a
// terminal). No ecosystem tty-detection library appears anywhere in the
// example pack for this teacher, so this uses the standard os.FileMode
// bit, rather than the teacher's cgo isatty(3) call, to avoid pulling in
// cgo for a one-line check.
func isAtty(file *os.File) bool {
	stat, err := file.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}

// colorConsoleWrite writes a colorized line to console
func colorConsoleWrite(out io.Writer, level Level, line []byte) {
	var beg, end string

	switch {
	case level&LevelError != 0:
		beg, end = "\033[31;1m", "\033[0m" // Red
	case level&LevelInfo != 0:
		beg, end = "\033[32;1m", "\033[0m" // Green
	case level&LevelDebug != 0:
		beg, end = "\033[37;1m", "\033[0m" // White
	case level&LevelTraceAll != 0:
		beg, end = "\033[37m", "\033[0m" // Gray
	}

	out.Write([]byte(beg))
	out.Write(line)
	out.Write([]byte(end))
}
