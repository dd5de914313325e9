/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Pairing: host keypair/certificate generation and the Pair RPC
 *
 * Grounded on go-ios's pairing flow for the RSA/X.509 shape (root CA,
 * host cert, device cert all signed by the host key) and on its use
 * of github.com/google/uuid for the host identifier.
 */

package lockdown

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/go-imobiledevice/usbmuxd/internal/muxerr"
	"github.com/go-imobiledevice/usbmuxd/pairrecord"
	"github.com/go-imobiledevice/usbmuxd/plist"
)

const rsaKeyBits = 2048

// generatedIdentity holds the freshly minted host keypair and the
// certificates derived from it, before a device has accepted them
type generatedIdentity struct {
	hostID     string
	rootKey    *rsa.PrivateKey
	rootCert   []byte // DER, self-signed
	hostCert   []byte // DER, signed by rootKey
	deviceCert []byte // DER, signed by rootKey, embeds the device's public key
}

// generateIdentity creates a root CA, a host leaf certificate, and a
// device leaf certificate wrapping devicePublicKeyDER (an SubjectPublicKeyInfo
// DER blob, as returned by GetValue(DevicePublicKey))
func generateIdentity(devicePublicKeyDER []byte) (*generatedIdentity, error) {
	hostID := uuid.NewString()

	rootKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, muxerr.Wrap(muxerr.Unknown, err)
	}

	rootTemplate := certTemplate("Root", 10*365*24*time.Hour)
	rootTemplate.IsCA = true
	rootTemplate.KeyUsage |= x509.KeyUsageCertSign

	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, muxerr.Wrap(muxerr.Unknown, err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, muxerr.Wrap(muxerr.Unknown, err)
	}

	hostTemplate := certTemplate("Host", 10*365*24*time.Hour)
	hostDER, err := x509.CreateCertificate(rand.Reader, hostTemplate, rootCert, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, muxerr.Wrap(muxerr.Unknown, err)
	}

	devicePub, err := x509.ParsePKIXPublicKey(devicePublicKeyDER)
	if err != nil {
		return nil, muxerr.New(muxerr.InvalidPairRecord, "parse device public key: %v", err)
	}

	deviceTemplate := certTemplate("Device", 10*365*24*time.Hour)
	deviceDER, err := x509.CreateCertificate(rand.Reader, deviceTemplate, rootCert, devicePub, rootKey)
	if err != nil {
		return nil, muxerr.Wrap(muxerr.Unknown, err)
	}

	return &generatedIdentity{
		hostID:     hostID,
		rootKey:    rootKey,
		rootCert:   rootDER,
		hostCert:   hostDER,
		deviceCert: deviceDER,
	}, nil
}

func certTemplate(cn string, validFor time.Duration) *x509.Certificate {
	serial, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	now := time.Now()
	return &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(validFor),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
}

// pairRequestPlist builds the {Request: Pair, PairRecord: {...},
// ProtocolVersion: "2"} message
func pairRequestPlist(id *generatedIdentity, systemBUID string) plist.Value {
	rec := plist.NewDict()
	rec.Set("DeviceCertificate", plist.Data(id.deviceCert))
	rec.Set("HostCertificate", plist.Data(id.hostCert))
	rec.Set("RootCertificate", plist.Data(id.rootCert))
	rec.Set("HostID", plist.String(id.hostID))
	rec.Set("SystemBUID", plist.String(systemBUID))

	req := plist.NewDict()
	req.Set("Request", plist.String("Pair"))
	req.Set("PairRecord", rec)
	req.Set("ProtocolVersion", plist.String("2"))
	return req
}

func (id *generatedIdentity) toRecord(systemBUID string) *pairrecord.Record {
	return &pairrecord.Record{
		HostID:            id.hostID,
		SystemBUID:        systemBUID,
		DeviceCertificate: id.deviceCert,
		HostCertificate:   id.hostCert,
		RootCertificate:   id.rootCert,
		HostPrivateKey:    x509.MarshalPKCS1PrivateKey(id.rootKey),
		RootPrivateKey:    x509.MarshalPKCS1PrivateKey(id.rootKey),
	}
}
