package runtimetest

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/stretchr/testify/require"
)

// Bundle returns a self-signed PEM bundle for host, certificate first and
// key last, valid in [notBefore, notAfter].
func Bundle(t testing.TB, host string, notBefore, notAfter time.Time) []byte {
	t.Helper()

	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host, Organization: []string{"unitctl test"}},
		DNSNames:     []string{host},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.(crypto.Signer).Public(), key)
	require.NoError(t, err)

	out := certcrypto.PEMEncode(certcrypto.DERCertificateBytes(der))
	return append(out, certcrypto.PEMEncode(key)...)
}

// ValidFor returns a bundle for host valid from an hour ago for d.
func ValidFor(t testing.TB, host string, d time.Duration) []byte {
	t.Helper()
	now := time.Now()
	return Bundle(t, host, now.Add(-time.Hour), now.Add(d))
}
