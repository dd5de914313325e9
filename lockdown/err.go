/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * net.Error adaptation for muxerr, so crypto/tls's timeout/retry
 * checks (err.(net.Error).Timeout()) see something sensible
 */

package lockdown

import (
	"github.com/go-imobiledevice/usbmuxd/internal/muxerr"
)

type netErr struct {
	error
	timeout bool
}

func (e *netErr) Timeout() bool   { return e.timeout }
func (e *netErr) Temporary() bool { return e.timeout }

func translateConnErr(err error) error {
	if err == nil {
		return nil
	}
	return &netErr{error: err, timeout: muxerr.IsTimeout(err)}
}
