package wsproxy

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// maxUpstreamMessageSize bounds a single upstream frame, mirroring the
// 1MB ceiling erpc's subscription client applies.
const maxUpstreamMessageSize = 1024 * 1024

// dialUpstream opens a WebSocket connection to an EL node's ws_url and
// arms its read-side keepalive, the same shape as
// WebsocketSubscriptionClient.Connect but without the client's own
// reconnect bookkeeping — reconnection here is driven by the watcher,
// not by this dial call.
func dialUpstream(ctx context.Context, url string, dialTimeout, pongTimeout time.Duration) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}

	conn.SetReadLimit(maxUpstreamMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	return conn, nil
}
