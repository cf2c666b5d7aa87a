package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypost-dev/waypost/pkg/api"
	"github.com/waypost-dev/waypost/pkg/api/handlers"
	"github.com/waypost-dev/waypost/pkg/metrics"
	"github.com/waypost-dev/waypost/pkg/relay"
)

type fixedCounter uint64

func (c fixedCounter) BytesTransferred() uint64 { return uint64(c) }

func getJSON(t *testing.T, srv *httptest.Server, path string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestStatEndpoint(t *testing.T) {
	srv := httptest.NewServer(api.NewRouter(fixedCounter(98765), relay.NewPairTable()))
	defer srv.Close()

	var stat handlers.StatResponse
	resp := getJSON(t, srv, "/api/stat", &stat)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	assert.Equal(t, uint64(98765), stat.BytesTransferred)
	assert.NotNil(t, stat.ClientSnapshot)
	assert.Empty(t, stat.ClientSnapshot)
}

func TestStatEndpointWithNilCollaborators(t *testing.T) {
	srv := httptest.NewServer(api.NewRouter(nil, nil))
	defer srv.Close()

	var stat handlers.StatResponse
	resp := getJSON(t, srv, "/api/stat", &stat)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, stat.BytesTransferred)
	assert.Empty(t, stat.ClientSnapshot)
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(api.NewRouter(nil, nil))
	defer srv.Close()

	var body map[string]interface{}
	resp := getJSON(t, srv, "/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "waypost", body["service"])
}

func TestMetricsRouteOnlyWhenEnabled(t *testing.T) {
	disabled := httptest.NewServer(api.NewRouter(nil, nil))
	defer disabled.Close()

	resp, err := http.Get(disabled.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	metrics.InitRegistry()
	defer metrics.Reset()

	enabled := httptest.NewServer(api.NewRouter(nil, nil))
	defer enabled.Close()

	resp, err = http.Get(enabled.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	srv := httptest.NewServer(api.NewRouter(nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
