// Package universe discovers tradable markets from Polymarket's Gamma
// metadata API and converts them into the domain's MarketInfo shape.
//
// Grounded on the teacher's internal/market.Scanner (fetchMarkets,
// convertToMarketInfo, parseJSONArray — the resty client, retry, and JSON
// conversion idiom are kept) but re-targeted at the reference
// implementation's query semantics: pmm.market.gamma.GammaClient.get_markets
// and pmm.market.universe.fetch_top_liquidity_markets, which request a
// single ordered page (order/ascending/active/closed) rather than scanning
// every page and filtering client-side.
package universe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"pmm/pkg/types"
)

// Params configures one refresh call, mirroring the original's
// fetch_top_liquidity_markets keyword arguments and SPEC_FULL.md §6.5's
// universe_* config fields.
type Params struct {
	Limit      int
	OrderField string
	Ascending  bool
	OnlyActive bool
	OnlyOpen   bool
}

// Client wraps a resty client pointed at the Gamma base URL.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// New creates a Gamma universe client. Five retries with exponential backoff
// (0.5s-8s) mirrors the reference implementation's @retry(stop_after_attempt(5),
// wait_exponential(min=0.5, max=8)) decorator on GammaClient.get_markets.
func New(baseURL string, logger *slog.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(20 * time.Second).
		SetRetryCount(5).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(8 * time.Second)

	return &Client{
		http:   client,
		logger: logger.With("component", "universe"),
	}
}

// FetchTopLiquidity requests one ordered page of markets and returns them
// sorted by liquidity descending, truncated to Limit — the same "defensive"
// re-sort-and-truncate the reference implementation applies after parsing,
// since Gamma's own ordering guarantee is best-effort.
func (c *Client) FetchTopLiquidity(ctx context.Context, p Params) ([]types.MarketInfo, error) {
	query := map[string]string{
		"limit":     fmt.Sprintf("%d", p.Limit),
		"offset":    "0",
		"order":     p.OrderField,
		"ascending": fmt.Sprintf("%t", p.Ascending),
	}
	if p.OnlyActive {
		query["active"] = "true"
	}
	if p.OnlyOpen {
		query["closed"] = "false"
	}

	var raw []map[string]any
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(&raw).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("fetch gamma markets: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch gamma markets: status %d", resp.StatusCode())
	}

	out := make([]types.MarketInfo, 0, len(raw))
	for _, m := range raw {
		conditionID := getString(m, "conditionId", "condition_id")
		if conditionID == "" {
			continue
		}
		out = append(out, convertToMarketInfo(m, conditionID))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Liquidity > out[j].Liquidity })
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}

	c.logger.Info("universe refreshed", "fetched", len(raw), "kept", len(out))
	return out, nil
}

// convertToMarketInfo mirrors fetch_top_liquidity_markets' row-building: it
// tolerates both the Gamma API's camelCase keys and the snake_case keys the
// reference implementation also accepts (`m.get("liquidityNum") or
// m.get("liquidity_num")`), since Gamma's public and authenticated responses
// have shipped both forms historically.
func convertToMarketInfo(m map[string]any, conditionID string) types.MarketInfo {
	info := types.MarketInfo{
		ConditionID:     conditionID,
		ID:              getString(m, "id"),
		Question:        getString(m, "question"),
		Slug:            getString(m, "slug"),
		Liquidity:       getFloat(m, "liquidityNum", "liquidity_num"),
		Volume24h:       getFloat(m, "volumeNum", "volume_num", "volume24hr"),
		Active:          getBool(m, "active"),
		Closed:          getBool(m, "closed"),
		AcceptingOrders: getBool(m, "acceptingOrders", "accepting_orders"),
		NegRisk:         getBool(m, "negRisk", "neg_risk"),
		BestBid:         getFloat(m, "bestBid"),
		BestAsk:         getFloat(m, "bestAsk"),
		Spread:          getFloat(m, "spread"),
		LastTradePrice:  getFloat(m, "lastTradePrice"),
		MinOrderSize:    getFloat(m, "orderMinSize"),
	}

	if ids := parseTokenIDs(m); len(ids) >= 2 {
		info.YesTokenID, info.NoTokenID = ids[0], ids[1]
	}

	info.TickSize = tickSizeFromMinIncrement(getFloat(m, "orderPriceMinTickSize"))

	if endDateRaw := getString(m, "endDate", "end_date"); endDateRaw != "" {
		if t, err := time.Parse(time.RFC3339, endDateRaw); err == nil {
			info.EndDate = t
		}
	}

	return info
}

func tickSizeFromMinIncrement(v float64) types.TickSize {
	switch v {
	case 0.1:
		return types.Tick01
	case 0.001:
		return types.Tick0001
	case 0.0001:
		return types.Tick00001
	default:
		return types.Tick001
	}
}

// parseTokenIDs handles clobTokenIds arriving either as a JSON-encoded
// string ("[\"a\",\"b\"]") or as a native JSON array, both observed from
// Gamma depending on endpoint.
func parseTokenIDs(m map[string]any) []string {
	raw, ok := m["clobTokenIds"]
	if !ok {
		raw, ok = m["clob_token_ids"]
		if !ok {
			return nil
		}
	}
	switch v := raw.(type) {
	case string:
		var ids []string
		if err := json.Unmarshal([]byte(v), &ids); err == nil {
			return ids
		}
	case []any:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				ids = append(ids, s)
			}
		}
		return ids
	}
	return nil
}

func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func getFloat(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n
		case string:
			var f float64
			if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
				return f
			}
		}
	}
	return 0
}

func getBool(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
	}
	return false
}
