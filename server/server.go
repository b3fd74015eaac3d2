// Package server wires the HTTP listener that fronts vixy: EL/CL
// pass-through, the WebSocket upgrade, and the status/health/metrics
// surface (spec §6), the same top-level shape as erpc's
// server.HttpServer but routing by path instead of project/network
// segments.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/chainbound/vixy/common"
	"github.com/chainbound/vixy/config"
	"github.com/chainbound/vixy/proxy"
	"github.com/chainbound/vixy/state"
	"github.com/chainbound/vixy/wsproxy"
)

// Server owns vixy's HTTP listener(s): the main one always, plus a
// second metrics-only listener when config.Server.MetricsAddr is set
// (spec §6: "/metrics ... optional, may be on a separate port").
type Server struct {
	cfg     config.Server
	http    *http.Server
	metrics *http.Server
	logger  *zerolog.Logger
}

// New builds the handler mux and wraps it in an *http.Server, ready for
// Start. It does not start listening.
func New(st *state.State, cfg *config.Config, logger *zerolog.Logger) *Server {
	lg := logger.With().Str("component", "http_server").Logger()

	httpProxy := proxy.NewHandler(st, cfg.Global, &lg)
	wsProxy := wsproxy.NewProxy(st, cfg.WS, &lg)

	mux := http.NewServeMux()
	mux.HandleFunc("/el", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		httpProxy.ServeEL(w, r)
	})
	mux.HandleFunc("/el/ws", func(w http.ResponseWriter, r *http.Request) {
		wsProxy.ServeHTTP(r.Context(), w, r)
	})
	mux.HandleFunc("/cl/", func(w http.ResponseWriter, r *http.Request) {
		tail := strings.TrimPrefix(r.URL.Path, "/cl")
		httpProxy.ServeCL(w, r, tail)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, st)
	})
	srv := &Server{
		cfg:    cfg.Server,
		logger: &lg,
		http: &http.Server{
			Addr:    cfg.Server.ListenAddr,
			Handler: mux,
		},
	}

	if cfg.Server.MetricsAddr == "" {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		srv.metrics = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}
	}

	return srv
}

// Start blocks serving HTTP until the listener is closed by Shutdown.
// If a separate metrics listener is configured, it runs in its own
// goroutine alongside the main one.
func (s *Server) Start() error {
	if s.metrics != nil {
		go func() {
			s.logger.Info().Str("addr", s.metrics.Addr).Msg("starting metrics server")
			if err := s.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	s.logger.Info().Str("addr", s.http.Addr).Msg("starting http server")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests within timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info().Msg("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if s.metrics != nil {
		_ = s.metrics.Shutdown(ctx)
	}
	return s.http.Shutdown(ctx)
}

func writeStatus(w http.ResponseWriter, st *state.State) {
	elNodes := st.ELSnapshot()
	clNodes := st.CLSnapshot()

	resp := common.StatusResponse{
		ELChainHead:      st.ELChainHead(),
		CLChainHead:      st.CLChainHead(),
		ELFailoverActive: st.ELFailoverActive(),
		ELNodes:          make([]common.NodeStatus, 0, len(elNodes)),
		CLNodes:          make([]common.NodeStatus, 0, len(clNodes)),
	}
	for _, n := range elNodes {
		resp.ELNodes = append(resp.ELNodes, common.NodeStatus{
			Name:     n.Upstream.Name,
			Healthy:  n.IsHealthy,
			Position: n.BlockNumber,
			Lag:      n.Lag,
			Tier:     string(n.Upstream.Role),
		})
	}
	for _, n := range clNodes {
		resp.CLNodes = append(resp.CLNodes, common.NodeStatus{
			Name:     n.Upstream.Name,
			Healthy:  n.IsHealthy,
			Position: n.Slot,
			Lag:      n.Lag,
			Tier:     string(n.Upstream.Role),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
