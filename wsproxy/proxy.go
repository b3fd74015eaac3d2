package wsproxy

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chainbound/vixy/config"
	"github.com/chainbound/vixy/selection"
	"github.com/chainbound/vixy/state"
)

// Proxy upgrades incoming client HTTP requests to WebSocket and hands
// each one to its own Connection. Unlike erpc's websocket.Server, which
// keys a ConnectionManager per network, vixy proxies a single EL
// websocket surface, so one flat registry of live connections is
// enough (spec §4.4 has no notion of "networks").
type Proxy struct {
	state    *state.State
	wsCfg    config.WS
	logger   *zerolog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewProxy builds a Proxy. CheckOrigin always allows the upgrade;
// vixy sits behind operator-controlled infrastructure, not a browser
// CORS boundary.
func NewProxy(st *state.State, wsCfg config.WS, logger *zerolog.Logger) *Proxy {
	lg := logger.With().Str("component", "ws_proxy").Logger()
	return &Proxy{
		state:  st,
		wsCfg:  wsCfg,
		logger: &lg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*Connection),
	}
}

// ServeHTTP upgrades the request and runs its Connection until the
// client disconnects, the upstream dial fails, or ctx is cancelled.
// It blocks for the lifetime of the connection, matching the handler
// contract net/http expects.
func (p *Proxy) ServeHTTP(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected websocket upgrade", http.StatusBadRequest)
		return
	}

	if _, ok := selection.SelectELWS(p.state.ELSnapshot()); !ok {
		http.Error(w, "no healthy EL websocket upstream", http.StatusServiceUnavailable)
		return
	}

	clientConn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := generateConnectionID()
	conn := newConnection(id, clientConn, p.state, p.wsCfg, p.logger)

	p.mu.Lock()
	p.conns[id] = conn
	p.mu.Unlock()

	p.logger.Info().Str("connId", id).Str("remoteAddr", r.RemoteAddr).Msg("websocket client connected")

	defer func() {
		p.mu.Lock()
		delete(p.conns, id)
		p.mu.Unlock()
		p.logger.Info().Str("connId", id).Msg("websocket client disconnected")
	}()

	conn.run(ctx)
}

// ActiveConnections reports the number of live client connections. It
// is not part of the /status document.
func (p *Proxy) ActiveConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Shutdown closes every live connection's client socket, which
// unblocks each connection's clientReader and lets its run() return.
// It does not wait for them to finish; callers drive the overall
// shutdown timeout.
func (p *Proxy) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, conn := range p.conns {
		_ = conn.clientConn.Close()
		p.logger.Debug().Str("connId", id).Msg("closing websocket connection for shutdown")
	}
}
