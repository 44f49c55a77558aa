package health_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/unitctl/core/health"
	"github.com/dmitrymomot/unitctl/core/logger"
)

func TestLiveness(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	health.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALIVE", rec.Body.String())
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name     string
		checks   []health.Checker
		wantCode int
		wantBody string
	}{
		{name: "no checks", wantCode: http.StatusOK, wantBody: "READY"},
		{name: "all pass", checks: []health.Checker{health.Check("runtime", ok), health.Check("redis", ok)}, wantCode: http.StatusOK, wantBody: "READY"},
		{name: "one fails", checks: []health.Checker{health.Check("runtime", ok), health.Check("redis", down)}, wantCode: http.StatusServiceUnavailable, wantBody: "NOT READY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			health.Readiness(logger.Nop(), tt.checks...).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestCheckNamesFailure(t *testing.T) {
	t.Parallel()

	err := health.Check("redis", func(context.Context) error { return errors.New("timeout") })(context.Background())
	assert.EqualError(t, err, "redis: timeout")
}
