package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/harrowgate/turnengine/internal/observe"
)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	return New(nil, m, opts...)
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func TestHealthzAlwaysReturnsOK(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
}

func TestReadyzAllCheckersPass(t *testing.T) {
	s := newTestServer(t,
		WithChecker(Checker{Name: "database", Check: func(_ context.Context) error { return nil }}),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "ok", body.Checks["database"])
}

func TestReadyzCheckerFails(t *testing.T) {
	s := newTestServer(t,
		WithChecker(Checker{Name: "database", Check: func(_ context.Context) error {
			return errors.New("connection refused")
		}}),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body healthResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "fail", body.Status)
	require.Equal(t, "fail: connection refused", body.Checks["database"])
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRewindEndpointWithoutControllerReturns503(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/internal/campaigns/camp-1/rewind",
		jsonBody(t, rewindRequest{ExternalID: "msg-1"}))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRewindEndpointEmptyBodyWithoutControllerIsNotOK(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/internal/campaigns/camp-1/rewind", jsonBody(t, rewindRequest{}))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	// Nil rewind controller is checked first, so this still surfaces 503
	// rather than 400 — but both are terminal, non-2xx responses that must
	// not panic the handler.
	require.NotEqual(t, http.StatusOK, rec.Code)
}
