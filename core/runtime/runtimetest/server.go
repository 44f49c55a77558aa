// Package runtimetest provides an in-memory fake of the runtime control API
// for tests: the /config document and the /certificates store.
package runtimetest

import (
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/unitctl/core/certstore"
	"github.com/dmitrymomot/unitctl/core/runtime"
	"github.com/dmitrymomot/unitctl/core/unitconf"
)

type storedBundle struct {
	raw   []byte
	key   string
	chain []certstore.Info
}

type cannedReply struct {
	status int
	body   string
}

// Server is a fake runtime control API.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	config   unitconf.Config
	certs    map[string]storedBundle
	pushes   []unitconf.Config
	putReply *cannedReply
	down     bool
}

// New starts a fake runtime with an empty configuration. The server is
// closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		config: unitconf.New(),
		certs:  make(map[string]storedBundle),
	}

	r := chi.NewRouter()
	r.Use(s.availability)
	r.Get("/config", s.getConfig)
	r.Put("/config", s.putConfig)
	r.Get("/certificates", s.listCertificates)
	r.Get("/certificates/{name}", s.getCertificate)
	r.Get("/certificates/{name}/chain", s.getChain)
	r.Put("/certificates/{name}", s.putCertificate)
	r.Delete("/certificates/{name}", s.deleteCertificate)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Client returns a control API client bound to the server.
func (s *Server) Client(t testing.TB) *runtime.Client {
	t.Helper()
	c, err := runtime.New(s.URL)
	require.NoError(t, err)
	return c
}

// Config returns a copy of the current document.
func (s *Server) Config() unitconf.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Clone()
}

// SetConfig seeds the document without recording a push.
func (s *Server) SetConfig(cfg unitconf.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg.Clone()
}

// Pushes returns every document accepted through PUT /config, in order.
func (s *Server) Pushes() []unitconf.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]unitconf.Config, len(s.pushes))
	for i, c := range s.pushes {
		out[i] = c.Clone()
	}
	return out
}

// ReplyToPut makes every following PUT /config answer with the given
// status and raw body without storing the document.
func (s *Server) ReplyToPut(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putReply = &cannedReply{status: status, body: body}
}

// SetDown makes every request fail with 503.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// Certificates returns the names of stored bundles, sorted.
func (s *Server) Certificates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.certs))
	for name := range s.certs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Bundle returns the raw bundle stored under name.
func (s *Server) Bundle(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.certs[name]
	return b.raw, ok
}

// StoreBundle seeds a bundle as if it had been uploaded.
func (s *Server) StoreBundle(t testing.TB, name string, bundle []byte) {
	t.Helper()
	stored, err := parseBundle(bundle)
	require.NoError(t, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[name] = stored
}

func (s *Server) availability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		down := s.down
		s.mu.Unlock()
		if down {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Service unavailable."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Config())
}

func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read body."})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.putReply != nil {
		w.WriteHeader(s.putReply.status)
		_, _ = w.Write([]byte(s.putReply.body))
		return
	}

	var cfg unitconf.Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON.", "detail": err.Error()})
		return
	}
	for socket, l := range cfg.Listeners {
		table, ok := strings.CutPrefix(l.Pass, "routes/")
		if !ok {
			continue
		}
		if _, exists := cfg.Routes[unitconf.RouteTable(table)]; !exists {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":  "Invalid configuration.",
				"detail": "Listener \"" + socket + "\" passes to unknown route \"" + table + "\".",
			})
			return
		}
		if l.TLS != nil {
			for _, name := range l.TLS.Certificate {
				if _, ok := s.certs[name]; !ok {
					writeJSON(w, http.StatusBadRequest, map[string]string{
						"error":  "Invalid configuration.",
						"detail": "Certificate \"" + name + "\" is not found.",
					})
					return
				}
			}
		}
	}

	s.config = cfg
	s.pushes = append(s.pushes, cfg.Clone())
	writeJSON(w, http.StatusOK, map[string]string{"success": "Reconfiguration done."})
}

func (s *Server) listCertificates(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]certstore.Entry, len(s.certs))
	for name, b := range s.certs {
		out[name] = certstore.Entry{Key: b.key, Chain: b.chain}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getCertificate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.certs[chi.URLParam(r, "name")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Invalid object."})
		return
	}
	writeJSON(w, http.StatusOK, certstore.Entry{Key: b.key, Chain: b.chain})
}

func (s *Server) getChain(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.certs[chi.URLParam(r, "name")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Invalid object."})
		return
	}
	writeJSON(w, http.StatusOK, b.chain)
}

func (s *Server) putCertificate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read body."})
		return
	}

	stored, err := parseBundle(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid certificate bundle.", "detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.certs[name]; exists {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Certificate already exists."})
		return
	}
	s.certs[name] = stored
	writeJSON(w, http.StatusOK, map[string]string{"success": "Certificate chain uploaded."})
}

func (s *Server) deleteCertificate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.certs[name]; !exists {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Invalid object."})
		return
	}
	if s.inUse(name) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Certificate is used in the configuration."})
		return
	}
	delete(s.certs, name)
	writeJSON(w, http.StatusOK, map[string]string{"success": "Certificate deleted."})
}

func (s *Server) inUse(name string) bool {
	for _, l := range s.config.Listeners {
		if l.TLS != nil && slices.Contains(l.TLS.Certificate, name) {
			return true
		}
	}
	return false
}

// parseBundle accepts a PEM chain followed by a private key, the same input
// the runtime's certificate store takes.
func parseBundle(bundle []byte) (storedBundle, error) {
	certs, err := certcrypto.ParsePEMBundle(bundle)
	if err != nil {
		return storedBundle{}, err
	}

	keyDesc := ""
	rest := bundle
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if !strings.HasSuffix(block.Type, "PRIVATE KEY") {
			continue
		}
		if _, err := certcrypto.ParsePEMPrivateKey(pem.EncodeToMemory(block)); err != nil {
			return storedBundle{}, err
		}
		keyDesc = strings.TrimSuffix(block.Type, " PRIVATE KEY")
		if keyDesc == "" || keyDesc == "PRIVATE KEY" {
			keyDesc = "PKCS8"
		}
	}
	if keyDesc == "" {
		return storedBundle{}, errMissingKey
	}

	out := storedBundle{raw: bundle, key: keyDesc}
	for _, c := range certs {
		out.chain = append(out.chain, certstore.InfoFromX509(c))
	}
	return out, nil
}

type bundleError string

func (e bundleError) Error() string { return string(e) }

const errMissingKey = bundleError("bundle has no private key")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
