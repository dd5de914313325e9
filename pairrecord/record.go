/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Pair record model and plist (de)serialization
 *
 * Grounded on the teacher's devstate.go persisted-state pattern: a
 * small struct round-tripped through this repo's own serialization
 * format (here, plist rather than INI) and written one file per key.
 */

package pairrecord

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/go-imobiledevice/usbmuxd/plist"
)

// Record holds everything needed to resume a TLS session with a
// device without re-prompting the user to accept pairing on-device.
type Record struct {
	HostID          string
	SystemBUID      string
	DeviceCertificate []byte // DER
	HostCertificate   []byte // DER
	RootCertificate   []byte // DER
	HostPrivateKey    []byte // PKCS#1 DER
	RootPrivateKey    []byte // PKCS#1 DER

	// DevicePublicKey is not part of the on-disk file format, since the
	// device certificate supersedes it; lockdown's Pair reads the key
	// into a local value and does not set this field.
	DevicePublicKey []byte
}

// HostKey parses HostPrivateKey into an *rsa.PrivateKey
func (r *Record) HostKey() (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS1PrivateKey(r.HostPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("pairrecord: parse host private key: %w", err)
	}
	return key, nil
}

// HostCert parses HostCertificate into an *x509.Certificate
func (r *Record) HostCert() (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(r.HostCertificate)
	if err != nil {
		return nil, fmt.Errorf("pairrecord: parse host certificate: %w", err)
	}
	return cert, nil
}

// ToPlist renders r in the on-disk dict format: DeviceCertificate,
// HostCertificate, RootCertificate, HostID, SystemBUID,
// HostPrivateKey, RootPrivateKey.
func (r *Record) ToPlist() plist.Value {
	v := plist.NewDict()
	v.Set("HostID", plist.String(r.HostID))
	v.Set("SystemBUID", plist.String(r.SystemBUID))
	v.Set("DeviceCertificate", plist.Data(r.DeviceCertificate))
	v.Set("HostCertificate", plist.Data(r.HostCertificate))
	v.Set("RootCertificate", plist.Data(r.RootCertificate))
	v.Set("HostPrivateKey", plist.Data(r.HostPrivateKey))
	v.Set("RootPrivateKey", plist.Data(r.RootPrivateKey))
	return v
}

// FromPlist parses a Record out of the on-disk dict format produced by
// ToPlist
func FromPlist(v plist.Value) (*Record, error) {
	if v.Kind != plist.KindDict {
		return nil, fmt.Errorf("pairrecord: root value is not a dict")
	}

	get := func(key string) ([]byte, error) {
		val, ok := v.Get(key)
		if !ok || val.Kind != plist.KindData {
			return nil, fmt.Errorf("pairrecord: missing or malformed %q", key)
		}
		return val.Data, nil
	}

	r := &Record{
		HostID:     v.GetString("HostID"),
		SystemBUID: v.GetString("SystemBUID"),
	}
	if r.HostID == "" || r.SystemBUID == "" {
		return nil, fmt.Errorf("pairrecord: missing HostID or SystemBUID")
	}

	var err error
	if r.DeviceCertificate, err = get("DeviceCertificate"); err != nil {
		return nil, err
	}
	if r.HostCertificate, err = get("HostCertificate"); err != nil {
		return nil, err
	}
	if r.RootCertificate, err = get("RootCertificate"); err != nil {
		return nil, err
	}
	if r.HostPrivateKey, err = get("HostPrivateKey"); err != nil {
		return nil, err
	}
	if r.RootPrivateKey, err = get("RootPrivateKey"); err != nil {
		return nil, err
	}

	return r, nil
}
