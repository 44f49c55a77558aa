package letsencrypt

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"golang.org/x/crypto/acme"

	"github.com/dmitrymomot/unitctl/core/logger"
	"github.com/dmitrymomot/unitctl/core/reconcile"
)

// issuance tracks one run of the state machine for a host.
type issuance struct {
	m      *Manager
	client ACMEClient
	host   string
	state  State
}

func (r *issuance) to(ctx context.Context, next State) {
	prev := r.state
	r.state = next
	r.m.logger.DebugContext(ctx, "issuance state changed",
		logger.Component("letsencrypt"),
		logger.Host(r.host),
		logger.Key("from", string(prev)),
		logger.State(string(next)),
	)
	if r.m.observer != nil {
		r.m.observer(r.host, prev, next)
	}
}

// RequestCertificate runs the ACME HTTP-01 flow for host, uploads the
// resulting bundle and returns it. The challenge route and response file
// are removed whatever the outcome.
func (m *Manager) RequestCertificate(ctx context.Context, host string) ([]byte, error) {
	if !validDomain(host) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, host)
	}
	client, err := m.account(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	r := &issuance{m: m, client: client, host: host, state: StateNoOrder}

	order, err := client.AuthorizeOrder(ctx, acme.DomainIDs(host))
	if err != nil {
		return nil, fmt.Errorf("create order for %s: %w", host, err)
	}
	r.to(ctx, StateOrderCreated)
	r.to(ctx, StateAuthorizationsPending)

	for _, url := range order.AuthzURLs {
		if err := r.authorize(ctx, url); err != nil {
			r.to(ctx, StateInvalid)
			return nil, err
		}
	}

	r.to(ctx, StateOrderFinalizing)
	der, key, err := r.finalize(ctx, order.URI)
	if err != nil {
		r.to(ctx, StateInvalid)
		return nil, err
	}
	r.to(ctx, StateOrderValid)

	bundle, err := encodeBundle(der, key)
	if err != nil {
		return nil, err
	}
	// The store refuses to remove a bundle a listener still references.
	if err := m.engine.DetachTLS(ctx, host); err != nil {
		return nil, fmt.Errorf("detach %s: %w", host, err)
	}
	if err := m.certs.Replace(ctx, host, bundle); err != nil {
		return nil, fmt.Errorf("upload bundle for %s: %w", host, err)
	}
	r.to(ctx, StateBundleUploaded)

	m.logger.InfoContext(ctx, "certificate issued",
		logger.Component("letsencrypt"),
		logger.Host(host),
		logger.Elapsed(start),
	)
	return bundle, nil
}

// authorize satisfies one authorization. Already valid authorizations are
// skipped.
func (r *issuance) authorize(ctx context.Context, url string) error {
	authz, err := r.client.GetAuthorization(ctx, url)
	if err != nil {
		return fmt.Errorf("get authorization for %s: %w", r.host, err)
	}
	if authz.Status == acme.StatusValid {
		return nil
	}

	var chal *acme.Challenge
	for _, c := range authz.Challenges {
		if c.Type == "http-01" {
			chal = c
			break
		}
	}
	if chal == nil {
		return fmt.Errorf("%w for %s", ErrNoHTTP01Challenge, r.host)
	}

	if err := r.validate(ctx, chal); err != nil {
		return err
	}

	err = r.m.poll(ctx, r.host, "authorization", func(ctx context.Context) (bool, error) {
		a, err := r.client.GetAuthorization(ctx, url)
		if err != nil {
			return false, fmt.Errorf("get authorization for %s: %w", r.host, err)
		}
		switch a.Status {
		case acme.StatusValid:
			return true, nil
		case acme.StatusPending, acme.StatusProcessing:
			return false, nil
		default:
			return false, fmt.Errorf("%w: %s is %s", ErrAuthorizationInvalid, r.host, a.Status)
		}
	})
	if errors.Is(err, ErrPollAttemptsExhausted) {
		return fmt.Errorf("%w: %w", ErrAuthorizationInvalid, err)
	}
	return err
}

// validate serves the challenge response, accepts the challenge and waits
// for the CA to validate it. The route and the response file are removed
// before it returns.
func (r *issuance) validate(ctx context.Context, chal *acme.Challenge) (err error) {
	content, err := r.client.HTTP01ChallengeResponse(chal.Token)
	if err != nil {
		return fmt.Errorf("challenge response for %s: %w", r.host, err)
	}
	path, err := r.m.challenges.Write(chal.Token, content)
	if err != nil {
		return err
	}
	defer func() {
		if derr := r.m.challenges.Delete(chal.Token); derr != nil {
			err = errors.Join(err, derr)
		}
	}()

	ch := reconcile.Challenge{
		Host:      r.host,
		Token:     chal.Token,
		Path:      path,
		Listeners: r.m.listeners,
	}
	if err := r.m.engine.PushChallenge(ctx, ch); err != nil {
		return fmt.Errorf("install challenge route for %s: %w", r.host, err)
	}
	defer func() {
		// The route must go even if ctx was cancelled mid-validation.
		if rerr := r.m.engine.RetractChallenge(context.WithoutCancel(ctx), ch); rerr != nil {
			r.m.logger.ErrorContext(ctx, "failed to retract challenge route",
				logger.Component("letsencrypt"), logger.Host(r.host), logger.Token(ch.Token), logger.Error(rerr))
			err = errors.Join(err, fmt.Errorf("retract challenge route for %s: %w", r.host, rerr))
		}
	}()
	r.to(ctx, StateChallengeServing)

	if _, err := r.client.Accept(ctx, chal); err != nil {
		return fmt.Errorf("accept challenge for %s: %w", r.host, err)
	}
	r.to(ctx, StateChallengeValidating)

	err = r.m.poll(ctx, r.host, "challenge", func(ctx context.Context) (bool, error) {
		c, err := r.client.GetChallenge(ctx, chal.URI)
		if err != nil {
			return false, fmt.Errorf("get challenge for %s: %w", r.host, err)
		}
		switch c.Status {
		case acme.StatusValid:
			return true, nil
		case acme.StatusInvalid:
			// Challenge.Error is declared as error; a non-nil value is *acme.Error.
			ce, _ := c.Error.(*acme.Error)
			return false, fmt.Errorf("%w: %s: %s", ErrChallengeInvalid, r.host, problem(ce))
		default:
			return false, nil
		}
	})
	if err != nil {
		return err
	}
	r.to(ctx, StateChallengeValid)
	return nil
}

// finalize waits for the order to become ready and exchanges a fresh CSR
// for the certificate chain.
func (r *issuance) finalize(ctx context.Context, orderURL string) ([][]byte, crypto.Signer, error) {
	var order *acme.Order
	err := r.m.poll(ctx, r.host, "order", func(ctx context.Context) (bool, error) {
		o, err := r.client.GetOrder(ctx, orderURL)
		if err != nil {
			var oe *acme.OrderError
			if errors.As(err, &oe) {
				return false, fmt.Errorf("%w: %s: %w", ErrOrderInvalid, r.host, err)
			}
			return false, fmt.Errorf("get order for %s: %w", r.host, err)
		}
		switch o.Status {
		case acme.StatusReady, acme.StatusValid:
			order = o
			return true, nil
		case acme.StatusInvalid:
			return false, fmt.Errorf("%w: %s: %s", ErrOrderInvalid, r.host, problem(o.Error))
		default:
			return false, nil
		}
	})
	if err != nil {
		return nil, nil, err
	}

	privateKey, err := certcrypto.GeneratePrivateKey(r.m.keyType)
	if err != nil {
		return nil, nil, fmt.Errorf("generate certificate key: %w", err)
	}
	key, ok := privateKey.(crypto.Signer)
	if !ok {
		return nil, nil, fmt.Errorf("generate certificate key: %T is not a signer", privateKey)
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: r.host},
		DNSNames: []string{r.host},
	}, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create csr for %s: %w", r.host, err)
	}

	timeout := r.m.pollInterval * time.Duration(r.m.pollAttempts)
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	der, _, err := r.client.CreateOrderCert(fctx, order.FinalizeURL, csr, true)
	if err != nil {
		var oe *acme.OrderError
		if errors.As(err, &oe) {
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrOrderInvalid, r.host, err)
		}
		return nil, nil, fmt.Errorf("finalize order for %s: %w", r.host, err)
	}
	if len(der) == 0 {
		return nil, nil, fmt.Errorf("%w for %s", ErrEmptyChain, r.host)
	}
	return der, key, nil
}

// poll calls check until it reports done, fails, or attempts run out.
// Attempts are separated by the poll interval.
func (m *Manager) poll(ctx context.Context, host, what string, check func(context.Context) (bool, error)) error {
	for attempt := 1; ; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt >= m.pollAttempts {
			return fmt.Errorf("%s for %s: %w", what, host, ErrPollAttemptsExhausted)
		}
		m.logger.DebugContext(ctx, "waiting for acme resource",
			logger.Component("letsencrypt"), logger.Host(host), logger.Key("resource", what), logger.Attempt(attempt))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// encodeBundle concatenates the PEM chain and the PEM private key, the
// layout the runtime certificate store expects.
func encodeBundle(der [][]byte, key crypto.Signer) ([]byte, error) {
	var b strings.Builder
	for _, c := range der {
		b.Write(certcrypto.PEMEncode(certcrypto.DERCertificateBytes(c)))
	}
	keyPEM := certcrypto.PEMEncode(key)
	if keyPEM == nil {
		return nil, fmt.Errorf("encode certificate key: unsupported %T", key)
	}
	b.Write(keyPEM)
	return []byte(b.String()), nil
}

func problem(e *acme.Error) string {
	if e == nil {
		return "no detail"
	}
	return e.Error()
}

// validDomain rejects wildcards, ports, paths and empty labels.
func validDomain(host string) bool {
	if host == "" || len(host) > 253 || strings.ContainsAny(host, "*:/ ") {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
	}
	return true
}
