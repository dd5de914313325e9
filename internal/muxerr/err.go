/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Common error kinds
 */

package muxerr

import "fmt"

// Kind enumerates the error kinds the core can report. A single enum is
// used across every layer (USB backend, mux transport, plist framing,
// lockdown) instead of per-layer bespoke error types.
type Kind int

const (
	Unknown Kind = iota
	InvalidArg
	NoDevice
	NotEnoughData
	BadHeader
	Timeout
	MuxError
	PlistError
	SslError
	PairingDialogResponsePending
	InvalidPairRecord
	PasswordProtected
	InvalidService
	Closed
)

// String returns a short name for the error kind
func (k Kind) String() string {
	switch k {
	case InvalidArg:
		return "InvalidArg"
	case NoDevice:
		return "NoDevice"
	case NotEnoughData:
		return "NotEnoughData"
	case BadHeader:
		return "BadHeader"
	case Timeout:
		return "Timeout"
	case MuxError:
		return "MuxError"
	case PlistError:
		return "PlistError"
	case SslError:
		return "SslError"
	case PairingDialogResponsePending:
		return "PairingDialogResponsePending"
	case InvalidPairRecord:
		return "InvalidPairRecord"
	case PasswordProtected:
		return "PasswordProtected"
	case InvalidService:
		return "InvalidService"
	case Closed:
		return "Closed"
	}
	return "Unknown"
}

// Error is the concrete error type returned across the core. It carries
// a Kind for programmatic dispatch, a human-readable message, and for
// Unknown errors mapped from a device-reported string, the original
// string in Diag.
type Error struct {
	Kind    Kind
	Message string
	Diag    string
}

// New creates an Error of the given kind with a formatted message
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind, wrapping an existing error's
// text as the message
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error()}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Diag != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Diag)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether err is a *Error of the given kind. It supports
// errors.Is-style matching via a simple type assertion, as the teacher's
// sentinel-error style does not otherwise compose with typed kinds.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// IsTimeout reports whether err is a Timeout error
func IsTimeout(err error) bool { return Is(err, Timeout) }

// IsClosed reports whether err is a Closed error
func IsClosed(err error) bool { return Is(err, Closed) }

// FromLockdownString maps a lockdown daemon "Error" response string to a
// Kind, known strings 1:1, anything else folds into Unknown with the
// original string preserved in Diag.
func FromLockdownString(s string) *Error {
	var kind Kind

	switch s {
	case "PairingDialogResponsePending":
		kind = PairingDialogResponsePending
	case "InvalidHostID", "InvalidConnection", "InvalidPairRecord":
		kind = InvalidPairRecord
	case "PasswordProtected":
		kind = PasswordProtected
	case "InvalidService":
		kind = InvalidService
	case "InvalidArgument", "MissingValue":
		kind = InvalidArg
	default:
		kind = Unknown
	}

	e := New(kind, "lockdown: %s", s)
	if kind == Unknown {
		e.Diag = s
	}
	return e
}
