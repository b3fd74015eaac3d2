package common

import "encoding/json"

// JsonRpcRequest is the wire shape of a JSON-RPC 2.0 request, used both
// for the EL HTTP pass-through and for frames flowing client→upstream
// over the WebSocket proxy.
type JsonRpcRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JsonRpcResponse is the wire shape of a JSON-RPC 2.0 response.
type JsonRpcResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      interface{}     `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JsonRpcError   `json:"error,omitempty"`
}

// JsonRpcError is the wire shape of a JSON-RPC 2.0 error object.
type JsonRpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JsonRpcNotification is the wire shape of an eth_subscription push.
type JsonRpcNotification struct {
	Jsonrpc string                    `json:"jsonrpc"`
	Method  string                    `json:"method"`
	Params  *SubscriptionNotification `json:"params"`
}

// SubscriptionNotification is the params object of an eth_subscription
// notification.
type SubscriptionNotification struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// IDString renders a JSON-RPC id (string, number, or null) to the string
// form used as a map key throughout the pending-subscribe table and the
// subscription tracker. Strings are returned as-is and numbers in their
// JSON form, so the number 1 and the string "1" map to the same key.
func IDString(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
