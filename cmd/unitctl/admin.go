package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/unitctl/core/health"
	"github.com/dmitrymomot/unitctl/core/letsencrypt"
	"github.com/dmitrymomot/unitctl/core/logger"
	"github.com/dmitrymomot/unitctl/core/unitconf"
)

var errACMEDisabled = errors.New("certificate management is disabled: ACME_EMAIL is not set")

// Pusher publishes the current fact store state to the runtime.
type Pusher interface {
	Push(ctx context.Context) error
}

// Hydrator issues and renews certificates for every known host.
type Hydrator interface {
	Hydrate(ctx context.Context) (letsencrypt.Report, error)
}

// ConfigReader reads the runtime's live document.
type ConfigReader interface {
	Config(ctx context.Context) (unitconf.Config, error)
}

type adminDeps struct {
	log      *slog.Logger
	pusher   Pusher
	hydrator Hydrator // nil when ACME is disabled
	runtime  ConfigReader
	checks   []health.Checker
}

func newAdminRouter(d adminDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLog(d.log))

	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness(d.log, d.checks...))

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		cfg, err := d.runtime.Config(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	})

	r.Post("/push", func(w http.ResponseWriter, r *http.Request) {
		if err := d.pusher.Push(r.Context()); err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "pushed"})
	})

	r.Post("/hydrate", func(w http.ResponseWriter, r *http.Request) {
		if d.hydrator == nil {
			writeError(w, http.StatusServiceUnavailable, errACMEDisabled)
			return
		}
		report, err := d.hydrator.Hydrate(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, newReportView(report))
	})

	return r
}

type hostResultView struct {
	Host    string `json:"host"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type reportView struct {
	Results []hostResultView `json:"results"`
	Issued  int              `json:"issued"`
	Renewed int              `json:"renewed"`
	Skipped int              `json:"skipped"`
	Failed  int              `json:"failed"`
}

func newReportView(r letsencrypt.Report) reportView {
	v := reportView{
		Results: make([]hostResultView, 0, len(r.Results)),
		Issued:  r.Count(letsencrypt.OutcomeIssued),
		Renewed: r.Count(letsencrypt.OutcomeRenewed),
		Skipped: r.Count(letsencrypt.OutcomeSkipped),
		Failed:  r.Count(letsencrypt.OutcomeFailed),
	}
	for _, res := range r.Results {
		hv := hostResultView{Host: res.Host, Outcome: string(res.Outcome)}
		if res.Err != nil {
			hv.Error = res.Err.Error()
		}
		v.Results = append(v.Results, hv)
	}
	return v
}

// requestLog logs one line per request with its id, status and latency.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func requestLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			log.LogAttrs(r.Context(), level, "Admin request",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.ClientIP(clientIP(r.RemoteAddr)),
				logger.StatusCode(status),
				logger.Elapsed(start),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
