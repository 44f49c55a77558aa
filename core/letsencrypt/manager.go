package letsencrypt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/lego"
	"golang.org/x/crypto/acme"

	"github.com/dmitrymomot/unitctl/core/certstore"
	"github.com/dmitrymomot/unitctl/core/facts"
	"github.com/dmitrymomot/unitctl/core/logger"
	"github.com/dmitrymomot/unitctl/core/reconcile"
)

// Reconciler is the part of the reconciliation engine the manager drives.
// *reconcile.Engine implements it.
type Reconciler interface {
	Push(ctx context.Context) error
	DetachTLS(ctx context.Context, hosts ...string) error
	PushChallenge(ctx context.Context, ch reconcile.Challenge) error
	RetractChallenge(ctx context.Context, ch reconcile.Challenge) error
}

// CertificateStore keeps issued bundles. *certstore.Client implements it.
type CertificateStore interface {
	Info(ctx context.Context, name string) (certstore.Info, error)
	Replace(ctx context.Context, name string, bundle []byte) error
	List(ctx context.Context) (map[string]certstore.Info, error)
	Remove(ctx context.Context, name string) error
}

// Config holds configuration for the certificate manager.
type Config struct {
	// Email is the contact email for the ACME account.
	Email string

	// DirectoryURL is the ACME directory. Defaults to Let's Encrypt production.
	DirectoryURL string

	// ChallengeDir is where HTTP-01 responses are written for the runtime to serve.
	ChallengeDir string

	// AccountKeyFile is used when no AccountKeyStore option is given.
	// Defaults to account.key next to ChallengeDir.
	AccountKeyFile string

	// CARootsFile is a PEM bundle of extra roots trusted when talking to
	// the directory. Empty means the system roots only.
	CARootsFile string
}

// Manager keeps a certificate valid for every host in the fact store.
// Issuance runs the ACME HTTP-01 flow and serves the challenge through
// temporary priority routes installed by the Reconciler.
type Manager struct {
	email        string
	directoryURL string

	engine     Reconciler
	certs      CertificateStore
	facts      facts.Snapshotter
	challenges *ChallengeStore

	mu         sync.Mutex
	client     ACMEClient
	httpClient *http.Client
	keys       AccountKeyStore
	registered bool

	listeners    []string
	pollInterval time.Duration
	pollAttempts int
	concurrency  int
	schedule     string
	keyType      certcrypto.KeyType
	logger       *slog.Logger
	observer     StateObserver
	now          func() time.Time
}

// NewManager creates a new certificate manager.
func NewManager(cfg Config, engine Reconciler, certs CertificateStore, snapshots facts.Snapshotter, opts ...ManagerOption) (*Manager, error) {
	if strings.TrimSpace(cfg.Email) == "" {
		return nil, ErrEmailRequired
	}
	challenges, err := NewChallengeStore(cfg.ChallengeDir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		email:        cfg.Email,
		directoryURL: cfg.DirectoryURL,
		engine:       engine,
		certs:        certs,
		facts:        snapshots,
		challenges:   challenges,
		pollInterval: DefaultPollInterval,
		pollAttempts: DefaultPollAttempts,
		concurrency:  DefaultConcurrency,
		schedule:     DefaultSchedule,
		keyType:      certcrypto.RSA2048,
		logger:       logger.Nop(),
		now:          time.Now,
	}
	if m.directoryURL == "" {
		m.directoryURL = lego.LEDirectoryProduction
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.keys == nil {
		path := cfg.AccountKeyFile
		if path == "" {
			path = filepath.Join(filepath.Dir(challenges.Dir()), "account.key")
		}
		m.keys = NewFileKeyStore(path)
	}
	if m.httpClient == nil && cfg.CARootsFile != "" {
		hc, err := HTTPClientWithRoots(cfg.CARootsFile)
		if err != nil {
			return nil, err
		}
		m.httpClient = hc
	}
	return m, nil
}

// ShouldRenew reports whether info expires within certstore.RenewBefore.
// The boundary is inclusive.
func (m *Manager) ShouldRenew(info certstore.Info) bool {
	return info.NeedsRenewal(m.now())
}

// Challenges returns the store holding challenge responses.
func (m *Manager) Challenges() *ChallengeStore {
	return m.challenges
}

// account returns a client bound to a registered account, registering on
// first use. An account that already exists for the key is reused.
func (m *Manager) account(ctx context.Context) (ACMEClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return m.client, nil
	}
	if m.client == nil {
		key, created, err := loadOrCreateAccountKey(ctx, m.keys)
		if err != nil {
			return nil, fmt.Errorf("account key: %w", err)
		}
		if created {
			m.logger.InfoContext(ctx, "account key generated", logger.Component("letsencrypt"))
		}
		m.client = NewACMEClient(key, m.directoryURL, m.httpClient)
	}

	acct := &acme.Account{Contact: []string{"mailto:" + m.email}}
	if _, err := m.client.Register(ctx, acct, acme.AcceptTOS); err != nil && !errors.Is(err, acme.ErrAccountAlreadyExists) {
		return nil, fmt.Errorf("register account: %w", err)
	}
	m.registered = true
	return m.client, nil
}
