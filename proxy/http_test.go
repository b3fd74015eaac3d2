package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

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

func testGlobal() config.Global {
	return config.Global{
		ProxyTimeoutMs: 2000,
		MaxRetries:     1,
	}
}

func healthyELState(t *testing.T, upstreamURL string) *state.State {
	t.Helper()
	topo := []*common.Upstream{
		{Name: "el1", Kind: common.KindEL, Role: common.RolePrimary, HTTPURL: upstreamURL},
	}
	s := state.New(topo, state.Thresholds{})
	s.ApplyELBatch([]state.ELRuntime{{IsHealthy: true}})
	return s
}

func TestServeEL_ForwardsBodyAndHeadersAndStatus(t *testing.T) {
	var receivedBody []byte
	var receivedHeader http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		receivedHeader = r.Header.Clone()
		w.Header().Set("X-Custom", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
	}))
	defer upstream.Close()

	st := healthyELState(t, upstream.URL)
	h := NewHandler(st, testGlobal(), nopLogger())

	req := httptest.NewRequest(http.MethodPost, "/el", strings.NewReader(`{"jsonrpc":"2.0","method":"eth_blockNumber","id":1}`))
	req.Header.Set("Connection", "keep-alive") // hop-by-hop, must not be forwarded
	req.Header.Set("X-Request-Id", "abc")
	rec := httptest.NewRecorder()

	h.ServeEL(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(receivedBody), "eth_blockNumber")
	assert.Equal(t, "abc", receivedHeader.Get("X-Request-Id"))
	assert.Empty(t, receivedHeader.Get("Connection"))
	assert.Equal(t, "yes", rec.Header().Get("X-Custom"))
}

func TestServeEL_NoHealthyUpstreamReturns503(t *testing.T) {
	topo := []*common.Upstream{
		{Name: "el1", Kind: common.KindEL, Role: common.RolePrimary, HTTPURL: "http://unused"},
	}
	st := state.New(topo, state.Thresholds{}) // never marked healthy
	h := NewHandler(st, testGlobal(), nopLogger())

	req := httptest.NewRequest(http.MethodPost, "/el", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.ServeEL(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServeEL_RetriesNextCandidateOnTransportError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`ok`))
	}))
	defer upstream.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close() // guarantees connection refused

	topo := []*common.Upstream{
		{Name: "dead", Kind: common.KindEL, Role: common.RolePrimary, HTTPURL: dead.URL},
		{Name: "alive", Kind: common.KindEL, Role: common.RoleBackup, HTTPURL: upstream.URL},
	}
	st := state.New(topo, state.Thresholds{})
	st.ApplyELBatch([]state.ELRuntime{{IsHealthy: true}, {IsHealthy: true}})

	h := NewHandler(st, config.Global{ProxyTimeoutMs: 2000, MaxRetries: 1}, nopLogger())

	req := httptest.NewRequest(http.MethodPost, "/el", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.ServeEL(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeCL_PreservesPathTailAndMethod(t *testing.T) {
	var receivedPath, receivedMethod string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		receivedMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	topo := []*common.Upstream{
		{Name: "cl1", Kind: common.KindCL, Role: common.RolePrimary, HTTPURL: upstream.URL},
	}
	st := state.New(topo, state.Thresholds{})
	st.ApplyCLBatch([]state.CLRuntime{{IsHealthy: true}})

	h := NewHandler(st, testGlobal(), nopLogger())

	req := httptest.NewRequest(http.MethodGet, "/cl/eth/v1/node/health", nil)
	rec := httptest.NewRecorder()

	h.ServeCL(rec, req, "/eth/v1/node/health")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/eth/v1/node/health", receivedPath)
	assert.Equal(t, http.MethodGet, receivedMethod)
}

func TestServeEL_BadBodyReturns400(t *testing.T) {
	st := healthyELState(t, "http://unused")
	h := NewHandler(st, testGlobal(), nopLogger())

	req := httptest.NewRequest(http.MethodPost, "/el", iotest.ErrReader(assertErr))
	rec := httptest.NewRecorder()

	h.ServeEL(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

var assertErr = errSimulatedRead{}

type errSimulatedRead struct{}

func (errSimulatedRead) Error() string { return "simulated read error" }
