// Package proxy implements the EL JSON-RPC and CL REST pass-through
// handlers (spec §6). It is a thin body-forwarder: no caching, no
// batching rewrite, no circuit breaking — those are the resiliency and
// caching layers erpc builds on top of its own HttpJsonRpcClient, and
// are explicitly out of scope here.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainbound/vixy/common"
	"github.com/chainbound/vixy/config"
	"github.com/chainbound/vixy/selection"
	"github.com/chainbound/vixy/state"
	"github.com/chainbound/vixy/telemetry"
)

// hopByHopHeaders is the exact list named in spec §6: never forwarded
// in either direction, mirroring RFC 7230 §6.1's connection-specific
// header set.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
	"Host",
}

// Handler serves the /el and /cl/{*path} pass-through routes.
type Handler struct {
	state   *state.State
	global  config.Global
	client  *http.Client
	logger  *zerolog.Logger
}

// NewHandler builds a Handler backed by its own *http.Client, separate
// from the health monitor's, so a slow client request never contends
// with probe timeouts on the same connection pool budget.
func NewHandler(st *state.State, global config.Global, logger *zerolog.Logger) *Handler {
	lg := logger.With().Str("component", "http_proxy").Logger()
	return &Handler{
		state:  st,
		global: global,
		client: &http.Client{},
		logger: &lg,
	}
}

// ServeEL handles POST /el: EL JSON-RPC pass-through (spec §6).
func (h *Handler) ServeEL(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, common.NewErrBadRequestBody(err))
		return
	}

	candidates := h.state.ELSnapshot()
	h.forwardWithRetry(w, r, body, "", func(tried map[string]bool) (name, url string, ok bool) {
		view, found := selectELExcluding(candidates, tried)
		if !found {
			return "", "", false
		}
		return view.Upstream.Name, view.Upstream.HTTPURL, true
	}, func(node string, dur time.Duration) {
		tier := ""
		for _, v := range candidates {
			if v.Upstream.Name == node {
				tier = string(v.Upstream.Role)
				break
			}
		}
		telemetry.ELRequestsTotal.WithLabelValues(node, tier).Inc()
		telemetry.ELRequestDuration.WithLabelValues(node, tier).Observe(dur.Seconds())
	})
}

// ServeCL handles ANY /cl/{*path}: CL REST pass-through preserving
// method and path tail (spec §6).
func (h *Handler) ServeCL(w http.ResponseWriter, r *http.Request, pathTail string) {
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			h.writeError(w, common.NewErrBadRequestBody(err))
			return
		}
		body = b
	}

	candidates := h.state.CLSnapshot()
	h.forwardWithRetry(w, r, body, pathTail, func(tried map[string]bool) (name, url string, ok bool) {
		view, found := selectCLExcluding(candidates, tried)
		if !found {
			return "", "", false
		}
		return view.Upstream.Name, view.Upstream.HTTPURL, true
	}, func(node string, dur time.Duration) {
		telemetry.CLRequestsTotal.WithLabelValues(node).Inc()
		telemetry.CLRequestDuration.WithLabelValues(node).Observe(dur.Seconds())
	})
}

// forwardWithRetry drives up to global.max_retries+1 attempts against
// successive selection candidates, retrying only on transient
// transport/timeout failures (spec §6 status codes, §7 upstream
// transient error handling).
func (h *Handler) forwardWithRetry(
	w http.ResponseWriter,
	r *http.Request,
	body []byte,
	pathTail string,
	next func(tried map[string]bool) (name, url string, ok bool),
	record func(node string, dur time.Duration),
) {
	tried := make(map[string]bool)
	var lastErr error

	for attempt := uint32(0); attempt <= h.global.MaxRetries; attempt++ {
		nodeName, baseURL, ok := next(tried)
		if !ok {
			if lastErr != nil {
				h.writeError(w, lastErr)
				return
			}
			h.writeError(w, common.NewErrNoHealthyUpstream("upstream"))
			return
		}
		tried[nodeName] = true

		target := baseURL
		if pathTail != "" {
			target = strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(pathTail, "/")
		}

		start := time.Now()
		resp, err := h.doRequest(r, target, body)
		dur := time.Since(start)

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				lastErr = common.NewErrUpstreamTimeout(nodeName, err)
			} else {
				lastErr = common.NewErrUpstreamUnavailable(nodeName, err)
			}
			h.logger.Warn().Err(err).Str("upstream", nodeName).Msg("upstream request failed, will retry next candidate")
			continue
		}

		record(nodeName, dur)
		h.copyResponse(w, resp)
		return
	}

	if lastErr != nil {
		h.writeError(w, lastErr)
		return
	}
	h.writeError(w, common.NewErrNoHealthyUpstream("upstream"))
}

func (h *Handler) doRequest(r *http.Request, target string, body []byte) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(r.Context(), h.global.ProxyTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	copyForwardHeaders(req.Header, r.Header)

	resp, err := h.client.Do(req)
	if err == nil {
		// Read the body while ctx is still live: the deferred cancel
		// would abort any read made after this function returns.
		var data []byte
		data, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(data))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	return resp, nil
}

func (h *Handler) copyResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	copyForwardHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if withStatus, ok := err.(common.ErrorWithStatusCode); ok {
		status = withStatus.ErrorStatusCode()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + err.Error() + `"}`))
}

// copyForwardHeaders copies src into dst, skipping hop-by-hop headers
// in both request and response directions.
func copyForwardHeaders(dst, src http.Header) {
	for name, values := range src {
		if isHopByHop(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

func selectELExcluding(nodes []state.ELView, tried map[string]bool) (*state.ELView, bool) {
	filtered := make([]state.ELView, 0, len(nodes))
	for _, n := range nodes {
		if !tried[n.Upstream.Name] {
			filtered = append(filtered, n)
		}
	}
	return selection.SelectELHTTP(filtered)
}

func selectCLExcluding(nodes []state.CLView, tried map[string]bool) (*state.CLView, bool) {
	filtered := make([]state.CLView, 0, len(nodes))
	for _, n := range nodes {
		if !tried[n.Upstream.Name] {
			filtered = append(filtered, n)
		}
	}
	return selection.SelectCL(filtered)
}
