package letsencrypt

import (
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/crypto/acme"
)

// ACMEClient is the subset of *acme.Client the manager drives. It exists so
// tests can run the issuance state machine against a fake CA.
type ACMEClient interface {
	Register(ctx context.Context, acct *acme.Account, prompt func(tosURL string) bool) (*acme.Account, error)
	AuthorizeOrder(ctx context.Context, id []acme.AuthzID, opt ...acme.OrderOption) (*acme.Order, error)
	GetAuthorization(ctx context.Context, url string) (*acme.Authorization, error)
	GetChallenge(ctx context.Context, url string) (*acme.Challenge, error)
	Accept(ctx context.Context, chal *acme.Challenge) (*acme.Challenge, error)
	HTTP01ChallengeResponse(token string) (string, error)
	GetOrder(ctx context.Context, url string) (*acme.Order, error)
	CreateOrderCert(ctx context.Context, url string, csr []byte, bundle bool) (der [][]byte, certURL string, err error)
}

var _ ACMEClient = (*acme.Client)(nil)

// NewACMEClient returns a client for the directory signing with key.
// A nil hc means http.DefaultClient.
func NewACMEClient(key crypto.Signer, directoryURL string, hc *http.Client) *acme.Client {
	return &acme.Client{Key: key, DirectoryURL: directoryURL, HTTPClient: hc}
}

// HTTPClientWithRoots returns an HTTP client trusting the system roots plus
// the PEM certificates in path. Private CAs such as Pebble or step-ca need it.
func HTTPClientWithRoots(path string) (*http.Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCARoots, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidCARoots, path)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return &http.Client{Transport: transport}, nil
}
