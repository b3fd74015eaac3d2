package common

import (
	"reflect"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/option"
)

// SonicCfg is the shared fast-path JSON codec used for every JSON-RPC
// frame and health-probe body in the proxy — the hot path erpc reaches
// for sonic instead of encoding/json.
var SonicCfg = sonic.ConfigDefault

func init() {
	for _, t := range []reflect.Type{
		reflect.TypeOf(JsonRpcRequest{}),
		reflect.TypeOf(JsonRpcResponse{}),
		reflect.TypeOf(JsonRpcNotification{}),
	} {
		if err := sonic.Pretouch(t, option.WithCompileMaxInlineDepth(1)); err != nil {
			panic(err)
		}
	}
}
