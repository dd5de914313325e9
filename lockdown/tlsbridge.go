/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * TLS handshake bridged over a MuxConnection
 */

package lockdown

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/go-imobiledevice/usbmuxd/internal/muxerr"
	"github.com/go-imobiledevice/usbmuxd/mux"
	"github.com/go-imobiledevice/usbmuxd/pairrecord"
)

// upgradeTLS drives a client-side TLS handshake over conn, authenticating
// with the host certificate/key from rec and pinning the device
// certificate also in rec byte-for-byte, since device certs are
// self-signed and not chained to any public root.
func upgradeTLS(conn *mux.Connection, rec *pairrecord.Record) (*tls.Conn, error) {
	hostKey, err := rec.HostKey()
	if err != nil {
		return nil, muxerr.Wrap(muxerr.SslError, err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{rec.HostCertificate},
			PrivateKey:  hostKey,
		}},
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return pinDeviceCertificate(rawCerts, rec.DeviceCertificate)
		},
		MinVersion: tls.VersionTLS10,
	}

	nc := newMuxNetConn(conn)
	tlsConn := tls.Client(nc, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, muxerr.Wrap(muxerr.SslError, err)
	}

	return tlsConn, nil
}

func pinDeviceCertificate(rawCerts [][]byte, expected []byte) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("lockdown: peer presented no certificate")
	}
	if !bytes.Equal(rawCerts[0], expected) {
		return fmt.Errorf("lockdown: peer certificate does not match paired device certificate")
	}
	return nil
}
