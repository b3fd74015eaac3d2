package wsproxy

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chainbound/vixy/common"
	"github.com/chainbound/vixy/config"
	"github.com/chainbound/vixy/selection"
	"github.com/chainbound/vixy/state"
	"github.com/chainbound/vixy/subscription"
	"github.com/chainbound/vixy/telemetry"
)

// pendingSubscribe is a short-lived record keyed by the JSON-RPC id
// currently in flight to the upstream for an eth_subscribe call (spec
// §3 Pending Subscribe Record).
type pendingSubscribe struct {
	isReplay            bool
	originalClientSubID string
	params              json.RawMessage // the eth_subscribe params, needed to record the Subscription
}

// clientFrame is one frame read off the client socket by clientReader.
type clientFrame struct {
	messageType int
	data        []byte
	err         error
}

// upstreamFrame is one frame read off an upstream socket, tagged with
// the generation of the dial that produced it so the main loop can
// discard stragglers from a connection it has already replaced.
type upstreamFrame struct {
	messageType int
	data        []byte
	err         error
	gen         uint64
}

// reconnectRequest is published by the watcher when a better (or the
// only healthy) EL WS node differs from the connection's current one.
type reconnectRequest struct {
	nodeName string
	wsURL    string
}

// reconnectResult is the outcome of a reconnection future (spec §4.4.4).
type reconnectResult struct {
	ok       bool
	oldNode  string
	nodeName string
	wsURL    string
	conn     *websocket.Conn
	gen      uint64
	err      error
}

// Connection is the per-client WebSocket state machine of spec §4.4: one
// instance exists per accepted client connection, cooperatively
// multiplexing its client reader, upstream reader, watcher, and
// reconnection future over a handful of channels. Exactly one goroutine
// — the main loop in run() — ever writes to the client socket or swaps
// the current upstream sender, matching the single-writer rule of
// spec §5.
type Connection struct {
	id         string
	clientConn *websocket.Conn
	state      *state.State
	wsCfg      config.WS
	logger     *zerolog.Logger

	// subMu guards tracker and the two pending tables: the main loop and
	// the reconnection future both touch them (spec §5 allows exactly
	// this second writer).
	subMu              sync.Mutex
	tracker            *subscription.Tracker
	pendingSubscribes  map[string]pendingSubscribe
	pendingUnsubscribe map[string]string // rpc id -> client_sub_id

	currentNodeName atomic.Value // string, eagerly updated for status visibility
	currentUpstream *websocket.Conn
	currentGen      uint64

	reconnecting     atomic.Bool
	reconnectInFlight bool

	queue     []queuedFrame
	maxQueued int

	clientFrames     chan clientFrame
	upstreamFrames   chan upstreamFrame
	reconnectReqs    chan reconnectRequest
	reconnectResults chan reconnectResult

	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(id string, clientConn *websocket.Conn, st *state.State, wsCfg config.WS, logger *zerolog.Logger) *Connection {
	lg := logger.With().Str("component", "ws_connection").Str("connId", id).Logger()
	c := &Connection{
		id:                 id,
		clientConn:         clientConn,
		state:              st,
		wsCfg:              wsCfg,
		logger:             &lg,
		tracker:            subscription.New(),
		pendingSubscribes:  make(map[string]pendingSubscribe),
		pendingUnsubscribe: make(map[string]string),
		maxQueued:          wsCfg.MaxQueuedFrames,
		clientFrames:       make(chan clientFrame, 16),
		upstreamFrames:     make(chan upstreamFrame, 16),
		reconnectReqs:      make(chan reconnectRequest, 1),
		reconnectResults:   make(chan reconnectResult, 1),
		done:               make(chan struct{}),
	}
	return c
}

func generateConnectionID() string {
	return uuid.NewString()
}

// run is the full lifecycle of one client connection: dial the initial
// upstream, then drive the cooperative main loop until the client
// disconnects or ctx is cancelled.
func (c *Connection) run(ctx context.Context) {
	defer c.teardown()

	view, ok := selection.SelectELWS(c.state.ELSnapshot())
	if !ok {
		c.logger.Warn().Msg("no healthy EL websocket upstream at dial time")
		_ = c.clientConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "no healthy upstream"))
		return
	}

	conn, err := dialUpstream(ctx, view.Upstream.WSURL, c.wsCfg.DialTimeout(), c.wsCfg.PongTimeout())
	if err != nil {
		c.logger.Warn().Err(err).Str("upstream", view.Upstream.Name).Msg("initial upstream dial failed")
		_ = c.clientConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "upstream dial failed"))
		return
	}

	c.currentUpstream = conn
	c.currentNodeName.Store(view.Upstream.Name)
	telemetry.WSConnectionsTotal.Inc()
	telemetry.WSConnectionsActive.Inc()
	defer telemetry.WSConnectionsActive.Dec()
	telemetry.SetWSUpstreamNode("", view.Upstream.Name)
	defer func() {
		node, _ := c.currentNodeName.Load().(string)
		telemetry.SetWSUpstreamNode(node, "")
		c.subMu.Lock()
		telemetry.WSSubscriptionsActive.Sub(float64(c.tracker.Len()))
		c.subMu.Unlock()
	}()

	go c.clientReader()
	go c.upstreamReader(conn, c.currentGen)
	go c.watcher(ctx, c.wsCfg.WatchInterval())

	c.mainLoop(ctx)
}

func (c *Connection) clientReader() {
	c.clientConn.SetReadLimit(maxUpstreamMessageSize)
	c.clientConn.SetReadDeadline(time.Now().Add(c.wsCfg.PongTimeout()))
	c.clientConn.SetPongHandler(func(string) error {
		c.clientConn.SetReadDeadline(time.Now().Add(c.wsCfg.PongTimeout()))
		return nil
	})

	for {
		mt, data, err := c.clientConn.ReadMessage()
		select {
		case c.clientFrames <- clientFrame{messageType: mt, data: data, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Connection) upstreamReader(conn *websocket.Conn, gen uint64) {
	for {
		mt, data, err := conn.ReadMessage()
		select {
		case c.upstreamFrames <- upstreamFrame{messageType: mt, data: data, err: err, gen: gen}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// watcher asks the selection policy for the best EL WS node every
// watchInterval and requests a reconnect whenever it differs from the
// connection's current node — including dragging traffic back to a
// recovered primary (spec §4.3 Best-node query).
func (c *Connection) watcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			best, ok := selection.SelectELWS(c.state.ELSnapshot())
			if !ok {
				continue
			}
			current, _ := c.currentNodeName.Load().(string)
			if best.Upstream.Name == current {
				continue
			}
			req := reconnectRequest{nodeName: best.Upstream.Name, wsURL: best.Upstream.WSURL}
			select {
			case c.reconnectReqs <- req:
			case <-c.done:
				return
			default:
				// a request is already queued; the main loop will act on
				// the pending one and the watcher will retry next tick.
			}
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) {
	pingTicker := time.NewTicker(c.wsCfg.PingInterval())
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case frame := <-c.clientFrames:
			if frame.err != nil {
				c.logger.Debug().Err(frame.err).Msg("client connection closed")
				return
			}
			c.onClientFrame(frame)

		case frame := <-c.upstreamFrames:
			if frame.gen != c.currentGen {
				continue // stale frame from a replaced upstream
			}
			if frame.err != nil {
				c.logger.Warn().Err(frame.err).Msg("upstream connection lost, triggering reconnect")
				c.requestReconnectToNextBest()
				continue
			}
			c.onUpstreamFrame(frame)

		case req := <-c.reconnectReqs:
			c.beginReconnect(ctx, req)

		case res := <-c.reconnectResults:
			c.finishReconnect(res)

		case <-pingTicker.C:
			_ = c.clientConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			if c.currentUpstream != nil {
				_ = c.currentUpstream.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			}

		case <-c.done:
			return
		}
	}
}

// requestReconnectToNextBest is used when the upstream reader observes a
// fault rather than the watcher proposing a change; it asks selection
// for whatever is currently best (possibly the same node, if it has
// since recovered a transient error) and funnels it through the same
// reconnect path.
func (c *Connection) requestReconnectToNextBest() {
	best, ok := selection.SelectELWS(c.state.ELSnapshot())
	if !ok {
		c.logger.Warn().Msg("upstream lost and no healthy EL websocket node available")
		return
	}
	select {
	case c.reconnectReqs <- reconnectRequest{nodeName: best.Upstream.Name, wsURL: best.Upstream.WSURL}:
	default:
	}
}

// onClientFrame implements the client -> upstream path (spec §4.4.2).
func (c *Connection) onClientFrame(frame clientFrame) {
	if c.reconnecting.Load() {
		c.enqueue(frame)
		return
	}
	c.forwardClientFrame(frame.messageType, frame.data)
}

// queuedFrame is a copy of a client frame held while a reconnection is
// in flight, replayed in FIFO order once it completes (spec §4.4.2).
type queuedFrame struct {
	messageType int
	data        []byte
}

func (c *Connection) enqueue(frame clientFrame) {
	if len(c.queue) >= c.maxQueued {
		c.logger.Warn().Int("queued", len(c.queue)).Msg("client frame queue full, dropping oldest")
		c.queue = c.queue[1:]
	}
	cp := make([]byte, len(frame.data))
	copy(cp, frame.data)
	c.queue = append(c.queue, queuedFrame{messageType: frame.messageType, data: cp})
}

// forwardClientFrame classifies and sends a single client frame to the
// current upstream. Called both for frames arriving live and for frames
// replayed from the queue after a reconnection completes. Only text
// frames are parsed as JSON-RPC; anything else is forwarded opaque
// (spec §4.4.2).
func (c *Connection) forwardClientFrame(messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		c.sendToUpstream(messageType, data)
		return
	}

	parsed, ok := parseFrame(data)
	if !ok {
		c.sendToUpstream(messageType, data)
		return
	}

	switch parsed.Method {
	case "eth_subscribe":
		c.subMu.Lock()
		c.pendingSubscribes[parsed.IDStr] = pendingSubscribe{isReplay: false, params: parsed.Params}
		c.subMu.Unlock()
		c.sendToUpstream(messageType, data)

	case "eth_unsubscribe":
		clientSubID, ok := firstUnsubscribeParam(parsed.Params)
		if !ok {
			c.sendToUpstream(messageType, data)
			return
		}
		c.subMu.Lock()
		upstreamSubID, known := c.tracker.RewriteUnsubscribeParam(clientSubID)
		if known {
			c.pendingUnsubscribe[parsed.IDStr] = clientSubID
		}
		c.subMu.Unlock()

		if !known {
			c.sendToUpstream(messageType, data)
			return
		}
		newParams, err := rewriteUnsubscribeParams(upstreamSubID)
		if err != nil {
			c.sendToUpstream(messageType, data)
			return
		}
		rewritten, err := common.SonicCfg.Marshal(&common.JsonRpcRequest{
			Jsonrpc: "2.0", Id: parsed.ID, Method: "eth_unsubscribe", Params: newParams,
		})
		if err != nil {
			c.sendToUpstream(messageType, data)
			return
		}
		c.sendToUpstream(websocket.TextMessage, rewritten)

	default:
		c.sendToUpstream(messageType, data)
	}
}

func firstUnsubscribeParam(params json.RawMessage) (string, bool) {
	var arr []string
	if err := common.SonicCfg.Unmarshal(params, &arr); err != nil || len(arr) == 0 {
		return "", false
	}
	return arr[0], true
}

func (c *Connection) sendToUpstream(messageType int, data []byte) {
	if c.currentUpstream == nil {
		return
	}
	_ = c.currentUpstream.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.currentUpstream.WriteMessage(messageType, data); err != nil {
		c.logger.Warn().Err(err).Msg("failed to forward frame to upstream")
		return
	}
	telemetry.WSMessagesTotal.WithLabelValues("client_to_upstream").Inc()
}

func (c *Connection) sendToClient(messageType int, data []byte) {
	_ = c.clientConn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.clientConn.WriteMessage(messageType, data); err != nil {
		c.logger.Warn().Err(err).Msg("failed to forward frame to client")
		return
	}
	telemetry.WSMessagesTotal.WithLabelValues("upstream_to_client").Inc()
}

// onUpstreamFrame implements the upstream -> client path (spec §4.4.3).
func (c *Connection) onUpstreamFrame(frame upstreamFrame) {
	if frame.messageType != websocket.TextMessage {
		c.sendToClient(frame.messageType, frame.data)
		return
	}

	parsed, ok := parseFrame(frame.data)
	if !ok {
		c.sendToClient(frame.messageType, frame.data)
		return
	}

	switch {
	case parsed.Method == "eth_subscription":
		c.handleSubscriptionNotification(parsed)

	case parsed.IDStr != "":
		if c.handlePendingSubscribeResponse(parsed, frame.data) {
			return
		}
		if c.handlePendingUnsubscribeResponse(parsed, frame.data) {
			return
		}
		c.sendToClient(frame.messageType, frame.data)

	default:
		c.sendToClient(frame.messageType, frame.data)
	}
}

func (c *Connection) handleSubscriptionNotification(parsed parsedFrame) {
	notif, ok := subscriptionNotificationParams(parsed.Params)
	if !ok {
		return
	}
	c.subMu.Lock()
	clientSubID, known := c.tracker.TranslateToClient(notif.Subscription)
	c.subMu.Unlock()
	if !known {
		c.logger.Debug().Str("upstreamSubId", notif.Subscription).Msg("dropping notification for unknown subscription")
		return
	}
	out, err := rewriteNotificationSubID(notif.Result, clientSubID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to rewrite subscription notification")
		return
	}
	c.sendToClient(websocket.TextMessage, out)
}

// handlePendingSubscribeResponse handles spec §4.4.3 Case B. Returns
// true if the frame was a pending-subscribe response (forwarded or
// suppressed as appropriate), false if the caller should keep trying
// other classifications.
func (c *Connection) handlePendingSubscribeResponse(parsed parsedFrame, raw []byte) bool {
	c.subMu.Lock()
	pending, ok := c.pendingSubscribes[parsed.IDStr]
	if ok {
		delete(c.pendingSubscribes, parsed.IDStr)
	}
	c.subMu.Unlock()
	if !ok {
		return false
	}

	if parsed.Error != nil {
		if !pending.isReplay {
			c.sendToClient(websocket.TextMessage, raw)
		} else {
			c.logger.Warn().Str("id", parsed.IDStr).Msg("subscription replay rejected by upstream")
		}
		return true
	}

	upstreamSubID, ok := resultAsSubscriptionID(parsed.Result)
	if !ok {
		return true
	}

	c.subMu.Lock()
	if pending.isReplay {
		c.tracker.MapUpstreamID(upstreamSubID, pending.originalClientSubID)
	} else {
		c.tracker.TrackNew(upstreamSubID, parsed.ID, pending.params)
	}
	c.subMu.Unlock()

	if pending.isReplay {
		return true // do not forward: client already has its sub id
	}

	c.sendToClient(websocket.TextMessage, raw)
	telemetry.WSSubscriptionsTotal.Inc()
	telemetry.WSSubscriptionsActive.Inc()
	return true
}

func (c *Connection) handlePendingUnsubscribeResponse(parsed parsedFrame, raw []byte) bool {
	c.subMu.Lock()
	clientSubID, ok := c.pendingUnsubscribe[parsed.IDStr]
	if ok {
		delete(c.pendingUnsubscribe, parsed.IDStr)
		c.tracker.Remove(clientSubID)
	}
	c.subMu.Unlock()
	if !ok {
		return false
	}
	telemetry.WSSubscriptionsActive.Dec()
	c.sendToClient(websocket.TextMessage, raw)
	return true
}

// beginReconnect implements steps 1-4 of spec §4.4.4.
func (c *Connection) beginReconnect(ctx context.Context, req reconnectRequest) {
	if c.reconnectInFlight {
		c.logger.Debug().Str("target", req.nodeName).Msg("reconnection already in flight, ignoring request")
		return
	}

	oldNode, _ := c.currentNodeName.Load().(string)
	c.currentNodeName.Store(req.nodeName)
	c.reconnecting.Store(true)
	c.reconnectInFlight = true

	nextGen := c.currentGen + 1
	dialTimeout, pongTimeout := c.wsCfg.DialTimeout(), c.wsCfg.PongTimeout()

	go func() {
		conn, err := dialUpstream(ctx, req.wsURL, dialTimeout, pongTimeout)
		if err != nil {
			c.reconnectResults <- reconnectResult{ok: false, oldNode: oldNode, err: err}
			return
		}

		c.subMu.Lock()
		c.tracker.ClearUpstreamMappings()
		snapshot := c.tracker.SnapshotForReplay()
		for _, rec := range snapshot {
			c.pendingSubscribes[common.IDString(rec.RPCID)] = pendingSubscribe{
				isReplay:            true,
				originalClientSubID: rec.ClientSubID,
			}
		}
		c.subMu.Unlock()

		for _, rec := range snapshot {
			payload, err := buildSubscribeRequest(rec.RPCID, rec.Params)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.reconnectResults <- reconnectResult{ok: false, oldNode: oldNode, err: err}
				_ = conn.Close()
				return
			}
		}

		c.reconnectResults <- reconnectResult{ok: true, oldNode: oldNode, nodeName: req.nodeName, wsURL: req.wsURL, conn: conn, gen: nextGen}
	}()
}

// finishReconnect implements steps 5-6 of spec §4.4.4.
func (c *Connection) finishReconnect(res reconnectResult) {
	c.reconnectInFlight = false

	if !res.ok {
		c.currentNodeName.Store(res.oldNode) // revert to old node
		dropped := len(c.queue)
		c.queue = nil
		c.reconnecting.Store(false)
		telemetry.WSReconnectionAttemptsTotal.WithLabelValues("failure").Inc()
		c.logger.Warn().Err(res.err).Int("droppedQueued", dropped).Msg("reconnection failed, remaining on current upstream")
		return
	}

	oldConn := c.currentUpstream

	c.currentUpstream = res.conn
	c.currentGen = res.gen
	go c.upstreamReader(res.conn, res.gen)

	if oldConn != nil {
		_ = oldConn.Close()
	}

	telemetry.SetWSUpstreamNode(res.oldNode, res.nodeName)
	telemetry.WSReconnectionsTotal.Inc()
	telemetry.WSReconnectionAttemptsTotal.WithLabelValues("success").Inc()

	queued := c.queue
	c.queue = nil
	c.reconnecting.Store(false)
	for _, f := range queued {
		c.forwardClientFrame(f.messageType, f.data)
	}

	c.logger.Info().Str("node", res.nodeName).Msg("reconnected to new upstream")
}

func (c *Connection) teardown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	_ = c.clientConn.Close()
	if c.currentUpstream != nil {
		_ = c.currentUpstream.Close()
	}
}
