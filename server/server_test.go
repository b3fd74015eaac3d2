package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbound/vixy/common"
	"github.com/chainbound/vixy/config"
	"github.com/chainbound/vixy/state"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.Server{ListenAddr: ":0"},
		Global: config.Global{ProxyTimeoutMs: 2000, MaxRetries: 1},
	}
}

func testState() *state.State {
	topo := []*common.Upstream{
		{Name: "el1", Kind: common.KindEL, Role: common.RolePrimary, HTTPURL: "http://unused"},
		{Name: "cl1", Kind: common.KindCL, Role: common.RolePrimary, HTTPURL: "http://unused"},
	}
	return state.New(topo, state.Thresholds{})
}

func TestEL_RejectsNonPostMethods(t *testing.T) {
	srv := New(testState(), testConfig(), nopLogger())

	req := httptest.NewRequest(http.MethodGet, "/el", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth_AlwaysReturnsOK(t *testing.T) {
	srv := New(testState(), testConfig(), nopLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStatus_ReflectsStateSnapshot(t *testing.T) {
	st := testState()
	st.ApplyELBatch([]state.ELRuntime{{BlockNumber: 100, IsHealthy: true}})
	st.ApplyCLBatch([]state.CLRuntime{{Slot: 50, IsHealthy: true}})
	srv := New(st, testConfig(), nopLogger())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp common.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.ELNodes, 1)
	assert.Equal(t, "el1", resp.ELNodes[0].Name)
	assert.True(t, resp.ELNodes[0].Healthy)
	require.Len(t, resp.CLNodes, 1)
	assert.EqualValues(t, 50, resp.CLNodes[0].Position)
}

func TestMetrics_ServedOnMainListenerWhenNoSeparateAddrConfigured(t *testing.T) {
	srv := New(testState(), testConfig(), nopLogger())
	assert.Nil(t, srv.metrics, "no separate metrics listener unless metrics_addr is set")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Header().Get("Content-Type"), "text/plain"))
}

func TestMetrics_SeparateListenerWhenMetricsAddrConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MetricsAddr = ":0"
	srv := New(testState(), cfg, nopLogger())

	require.NotNil(t, srv.metrics)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.metrics.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCL_TrimsPrefixAndForwardsPathTail(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eth/v1/node/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	st := state.New([]*common.Upstream{
		{Name: "cl1", Kind: common.KindCL, Role: common.RolePrimary, HTTPURL: upstream.URL},
	}, state.Thresholds{})
	st.ApplyCLBatch([]state.CLRuntime{{IsHealthy: true}})

	srv := New(st, testConfig(), nopLogger())

	req := httptest.NewRequest(http.MethodGet, "/cl/eth/v1/node/health", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
