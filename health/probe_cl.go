package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/chainbound/vixy/common"
)

// ProbeCLHealth calls /eth/v1/node/health and reports whether it
// returned a 2xx status. Any transport failure or non-2xx status is a
// probe failure (spec §4.2).
func ProbeCLHealth(ctx context.Context, client *http.Client, baseURL string) (bool, error) {
	resp, err := doGet(ctx, client, joinPath(baseURL, "/eth/v1/node/health"))
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		return false, fmt.Errorf("node health probe got status %d", resp.StatusCode)
	}
	return true, nil
}

type beaconHeadersResponse struct {
	Data struct {
		Header struct {
			Message struct {
				Slot string `json:"slot"`
			} `json:"message"`
		} `json:"header"`
	} `json:"data"`
}

// ProbeCLSlot calls /eth/v1/beacon/headers/head and returns the slot at
// JSON pointer /data/header/message/slot, parsed from its base-10
// string form. A missing or unparsable slot is a probe failure.
func ProbeCLSlot(ctx context.Context, client *http.Client, baseURL string) (uint64, error) {
	resp, err := doGet(ctx, client, joinPath(baseURL, "/eth/v1/beacon/headers/head"))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("beacon headers probe got status %d", resp.StatusCode)
	}

	var parsed beaconHeadersResponse
	if err := common.SonicCfg.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("cannot parse beacon headers response: %w", err)
	}
	if parsed.Data.Header.Message.Slot == "" {
		return 0, fmt.Errorf("beacon headers response missing slot")
	}
	return strconv.ParseUint(parsed.Data.Header.Message.Slot, 10, 64)
}

func doGet(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

func joinPath(base, p string) string {
	return strings.TrimRight(base, "/") + p
}
