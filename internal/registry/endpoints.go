package registry

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// HubAPIURL is the default quote and submission endpoint.
	HubAPIURL = "https://hub.orbs.network"

	telemetryVersion = "0.2"
	// BIEndpoint receives telemetry records.
	BIEndpoint = "https://bi.orbs.network/putes/liquidity-hub-ui-" + telemetryVersion
)

// QuoteURL builds {base}/quote?chainId={id}.
func QuoteURL(base string, chainID int64) string {
	return endpoint(base, "quote", chainID)
}

// SubmitURL builds {base}/swapx?chainId={id}.
func SubmitURL(base string, chainID int64) string {
	return endpoint(base, "swapx", chainID)
}

func endpoint(base, path string, chainID int64) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = HubAPIURL
	}
	q := url.Values{}
	q.Set("chainId", fmt.Sprintf("%d", chainID))
	return fmt.Sprintf("%s/%s?%s", base, path, q.Encode())
}
