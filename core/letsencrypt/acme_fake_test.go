package letsencrypt_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/acme"
)

const caBase = "https://ca.test/"

// fakeCA is an in-process ACME server. Challenges validate as soon as they
// are accepted unless the host is marked otherwise.
type fakeCA struct {
	caCert *x509.Certificate
	caKey  *ecdsa.PrivateKey

	mu             sync.Mutex
	registrations  int
	registerErr    error
	orders         []string
	accepted       map[string]bool
	challengePolls map[string]int
	noHTTP01       map[string]bool
	failChallenge  map[string]bool
	stall          map[string]bool
	finalizeErr    error

	// open counts orders between AuthorizeOrder and CreateOrderCert.
	open, maxOpen int

	// onAccept runs when the CA is asked to validate, before it answers.
	onAccept func(host, token string)
}

func newFakeCA(t testing.TB) *fakeCA {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "unitctl test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &fakeCA{
		caCert:         cert,
		caKey:          key,
		accepted:       make(map[string]bool),
		challengePolls: make(map[string]int),
		noHTTP01:       make(map[string]bool),
		failChallenge:  make(map[string]bool),
		stall:          make(map[string]bool),
	}
}

func tokenFor(host string) string {
	return strings.ReplaceAll(host, ".", "_") + "_tok"
}

func hostOf(url, kind string) string {
	return strings.TrimPrefix(url, caBase+kind+"/")
}

func (f *fakeCA) Orders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.orders...)
}

func (f *fakeCA) Registrations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registrations
}

// MaxOpenOrders is the highest number of orders that were in flight at once.
func (f *fakeCA) MaxOpenOrders() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxOpen
}

func (f *fakeCA) ChallengePolls(host string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.challengePolls[host]
}

func (f *fakeCA) Register(_ context.Context, acct *acme.Account, prompt func(string) bool) (*acme.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations++
	if !prompt(caBase + "terms") {
		return nil, errors.New("terms not accepted")
	}
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return acct, nil
}

func (f *fakeCA) AuthorizeOrder(_ context.Context, ids []acme.AuthzID, _ ...acme.OrderOption) (*acme.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	host := ids[0].Value
	f.orders = append(f.orders, host)
	f.open++
	f.maxOpen = max(f.maxOpen, f.open)
	return &acme.Order{
		URI:         caBase + "order/" + host,
		Status:      acme.StatusPending,
		AuthzURLs:   []string{caBase + "authz/" + host},
		FinalizeURL: caBase + "finalize/" + host,
	}, nil
}

// status of the host's challenge; callers hold mu.
func (f *fakeCA) status(host string) string {
	switch {
	case !f.accepted[host], f.stall[host]:
		return acme.StatusPending
	case f.failChallenge[host]:
		return acme.StatusInvalid
	default:
		return acme.StatusValid
	}
}

func (f *fakeCA) GetAuthorization(_ context.Context, url string) (*acme.Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	host := hostOf(url, "authz")

	authz := &acme.Authorization{
		URI:        url,
		Status:     f.status(host),
		Identifier: acme.AuthzID{Type: "dns", Value: host},
		Challenges: []*acme.Challenge{{
			Type:  "dns-01",
			URI:   caBase + "chal-dns/" + host,
			Token: tokenFor(host) + "_dns",
		}},
	}
	if !f.noHTTP01[host] {
		authz.Challenges = append(authz.Challenges, &acme.Challenge{
			Type:   "http-01",
			URI:    caBase + "chal/" + host,
			Token:  tokenFor(host),
			Status: acme.StatusPending,
		})
	}
	return authz, nil
}

func (f *fakeCA) GetChallenge(_ context.Context, url string) (*acme.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	host := hostOf(url, "chal")
	f.challengePolls[host]++

	c := &acme.Challenge{Type: "http-01", URI: url, Token: tokenFor(host), Status: f.status(host)}
	if c.Status == acme.StatusInvalid {
		c.Error = &acme.Error{StatusCode: 403, Detail: "connection refused"}
	}
	return c, nil
}

func (f *fakeCA) Accept(_ context.Context, chal *acme.Challenge) (*acme.Challenge, error) {
	host := hostOf(chal.URI, "chal")
	if f.onAccept != nil {
		f.onAccept(host, chal.Token)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted[host] = true
	return &acme.Challenge{Type: chal.Type, URI: chal.URI, Token: chal.Token, Status: acme.StatusProcessing}, nil
}

func (f *fakeCA) HTTP01ChallengeResponse(token string) (string, error) {
	return token + ".thumbprint", nil
}

func (f *fakeCA) GetOrder(_ context.Context, url string) (*acme.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	host := hostOf(url, "order")

	o := &acme.Order{URI: url, Status: acme.StatusPending, FinalizeURL: caBase + "finalize/" + host}
	if f.status(host) == acme.StatusValid {
		o.Status = acme.StatusReady
	}
	return o, nil
}

func (f *fakeCA) CreateOrderCert(_ context.Context, url string, csr []byte, _ bool) ([][]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open--
	if f.finalizeErr != nil {
		return nil, "", f.finalizeErr
	}

	host := hostOf(url, "finalize")
	req, err := x509.ParseCertificateRequest(csr)
	if err != nil {
		return nil, "", err
	}
	if len(req.DNSNames) != 1 || req.DNSNames[0] != host {
		return nil, "", errors.New("csr does not match order")
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: host},
		Issuer:       f.caCert.Subject,
		DNSNames:     req.DNSNames,
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	leaf, err := x509.CreateCertificate(rand.Reader, tmpl, f.caCert, req.PublicKey, f.caKey)
	if err != nil {
		return nil, "", err
	}
	return [][]byte{leaf, f.caCert.Raw}, caBase + "cert/" + host, nil
}
