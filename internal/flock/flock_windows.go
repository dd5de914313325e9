//go:build windows

/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * File locking -- Windows version
 */

package flock

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

// ErrBusy is returned when a non-blocking lock attempt fails because
// another process already holds the lock
var ErrBusy = errors.New("lock is busy")

// Lock locks the file. If exclusive is false, a shared lock is taken.
// If wait is false, the call does not block and returns ErrBusy if the
// lock cannot be acquired immediately.
func Lock(file *os.File, exclusive, wait bool) error {
	var flags uint32

	if exclusive {
		flags |= windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	if !wait {
		flags |= windows.LOCKFILE_FAIL_IMMEDIATELY
	}

	ol := new(windows.Overlapped)
	err := windows.LockFileEx(windows.Handle(file.Fd()), flags, 0,
		0xffffffff, 0xffffffff, ol)

	if err == windows.ERROR_LOCK_VIOLATION {
		return ErrBusy
	}
	return err
}

// Unlock unlocks the file
func Unlock(file *os.File) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(file.Fd()), 0,
		0xffffffff, 0xffffffff, ol)
}
