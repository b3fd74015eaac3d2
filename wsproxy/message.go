package wsproxy

import (
	"encoding/json"

	"github.com/chainbound/vixy/common"
)

// parsedFrame is the best-effort JSON-RPC decode of a client or upstream
// text frame. A frame that doesn't parse as JSON-RPC is still forwarded
// verbatim (spec §4.4.2) — callers fall back to the raw bytes when ok is
// false.
type parsedFrame struct {
	ID     interface{}
	IDStr  string
	Method string
	Params json.RawMessage
	// For responses: Result/Error are only meaningful when Method == "".
	Result json.RawMessage
	Error  *common.JsonRpcError
}

func parseFrame(data []byte) (parsedFrame, bool) {
	var generic struct {
		ID     interface{}          `json:"id"`
		Method string               `json:"method"`
		Params json.RawMessage      `json:"params"`
		Result json.RawMessage      `json:"result"`
		Error  *common.JsonRpcError `json:"error"`
	}
	if err := common.SonicCfg.Unmarshal(data, &generic); err != nil {
		return parsedFrame{}, false
	}
	return parsedFrame{
		ID:     generic.ID,
		IDStr:  common.IDString(generic.ID),
		Method: generic.Method,
		Params: generic.Params,
		Result: generic.Result,
		Error:  generic.Error,
	}, true
}

// subscriptionNotificationParams extracts {subscription, result} from an
// eth_subscription notification's params object.
func subscriptionNotificationParams(params json.RawMessage) (*common.SubscriptionNotification, bool) {
	var n common.SubscriptionNotification
	if err := common.SonicCfg.Unmarshal(params, &n); err != nil {
		return nil, false
	}
	if n.Subscription == "" {
		return nil, false
	}
	return &n, true
}

// rewriteNotificationSubID re-serializes an eth_subscription notification
// with its subscription field replaced by the client-facing id, leaving
// the result payload untouched.
func rewriteNotificationSubID(result json.RawMessage, clientSubID string) ([]byte, error) {
	notif := common.JsonRpcNotification{
		Jsonrpc: "2.0",
		Method:  "eth_subscription",
		Params: &common.SubscriptionNotification{
			Subscription: clientSubID,
			Result:       result,
		},
	}
	return common.SonicCfg.Marshal(&notif)
}

// buildSubscribeRequest serializes the eth_subscribe call sent to a new
// upstream during subscription replay (spec §4.4.4 step 4).
func buildSubscribeRequest(rpcID interface{}, params json.RawMessage) ([]byte, error) {
	req := common.JsonRpcRequest{
		Jsonrpc: "2.0",
		Id:      rpcID,
		Method:  "eth_subscribe",
		Params:  params,
	}
	return common.SonicCfg.Marshal(&req)
}

// resultAsSubscriptionID unmarshals a JSON-RPC result expected to be a
// bare subscription-id string (the shape of an eth_subscribe response).
func resultAsSubscriptionID(result json.RawMessage) (string, bool) {
	var id string
	if err := common.SonicCfg.Unmarshal(result, &id); err != nil {
		return "", false
	}
	return id, true
}

// rewriteUnsubscribeParams builds the params array for a rewritten
// eth_unsubscribe: a single element, the current upstream subscription
// id. Any further elements of the client's params are not carried over.
func rewriteUnsubscribeParams(upstreamSubID string) (json.RawMessage, error) {
	return common.SonicCfg.Marshal([]string{upstreamSubID})
}
