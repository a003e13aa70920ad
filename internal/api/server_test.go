package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"costwatch/internal/api/health"
	"costwatch/pkg/logger"
)

func TestNewMux_Routes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("costwatch_cost_usd_total 1\n"))
	})
	mux := NewMux(ServerConfig{
		ServiceName:    "costwatch",
		Version:        "test",
		MetricsHandler: metrics,
	}, health.New(logger.Nop(), nil, nil, "costwatch", "test"), logger.Nop())

	for path, code := range map[string]int{
		"/":        http.StatusOK,
		"/live":    http.StatusOK,
		"/ready":   http.StatusOK,
		"/health":  http.StatusOK,
		"/metrics": http.StatusOK,
		"/unknown": http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, code, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.JSONEq(t, `{"service":"costwatch","version":"test","status":"running"}`, rec.Body.String())
}

func TestNewMux_NoMetricsHandler(t *testing.T) {
	mux := NewMux(ServerConfig{}, health.New(logger.Nop(), nil, nil, "", ""), logger.Nop())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	// falls through to the root handler
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
