package gateway

import "context"

// CensusClient fetches demographic data, always through the Gateway: in this
// module every external read consumed by Simulation Engine setup is gateway-
// mediated (no direct-fetch fallback), a stricter posture than the original's
// direct/gateway dual mode, §4.5 "Single chokepoint".
type CensusClient struct {
	gw         *Gateway
	sourceName string
}

// NewCensusClient constructs a client bound to one registered census source.
func NewCensusClient(gw *Gateway, sourceName string) *CensusClient {
	return &CensusClient{gw: gw, sourceName: sourceName}
}

// FetchDemographics requests census records for the given geography through
// the gateway, under gctx's isolation policy.
func (c *CensusClient) FetchDemographics(ctx context.Context, gctx Context, geography string, variables []string, fetcher DataFetcher) (*Response, error) {
	params := map[string]any{
		"geography": geography,
		"variables": variables,
	}
	return c.gw.Request(ctx, c.sourceName, "/acs/acs5", params, gctx, fetcher, "vintage_date")
}
