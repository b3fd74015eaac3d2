package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/chainbound/vixy/common"
)

// ParseHexBlockNumber parses a JSON-RPC hex-string block number, with or
// without a 0x prefix, to u64 (spec §4.2, scenario S1). An empty string
// is a parse failure, not zero.
func ParseHexBlockNumber(hex string) (uint64, error) {
	h := strings.TrimPrefix(hex, "0x")
	if h == "" {
		return 0, fmt.Errorf("empty block number string")
	}
	return strconv.ParseUint(h, 16, 64)
}

var elBlockNumberRequest = json.RawMessage(`{"jsonrpc":"2.0","method":"eth_blockNumber","params":[],"id":1}`)

// ProbeEL issues the eth_blockNumber probe against an EL upstream's
// http_url and returns its reported head block number. Any transport
// error, non-2xx status, JSON parse error, JSON-RPC error object, or
// missing/unparsable result is a probe failure (spec §4.2).
func ProbeEL(ctx context.Context, client *http.Client, url string) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(elBlockNumberRequest))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("eth_blockNumber probe got status %d", resp.StatusCode)
	}

	var rpcResp common.JsonRpcResponse
	if err := common.SonicCfg.Unmarshal(body, &rpcResp); err != nil {
		return 0, fmt.Errorf("cannot parse eth_blockNumber response: %w", err)
	}
	if rpcResp.Error != nil {
		return 0, fmt.Errorf("eth_blockNumber rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	var hexResult string
	if err := common.SonicCfg.Unmarshal(rpcResp.Result, &hexResult); err != nil {
		return 0, fmt.Errorf("eth_blockNumber result is not a string: %w", err)
	}

	return ParseHexBlockNumber(hexResult)
}
