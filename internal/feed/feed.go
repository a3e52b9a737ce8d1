// Package feed is the public (unauthenticated) CLOB data client: midpoint,
// order book, and tick size per token. It backs every book-driven component
// of the control loop (quoting, the fill simulator's competitiveness/edge
// calculations, depth-reference tracking).
//
// Grounded on pmm.market.clob_public.ClobPublic in the reference
// implementation (get_midpoint/get_orderbook/get_tick_size, a lightweight
// 2-attempt retry, and "log and return nil on failure" semantics rather than
// propagating transient errors to callers) and on the teacher's
// internal/market.Book for the local best-bid/ask and staleness idiom.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"pmm/pkg/types"
)

// Client wraps a resty client pointed at the CLOB's public endpoints.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// New creates a public feed client with a bounded per-request timeout so a
// network stall can't block the control loop's tick.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1)

	return &Client{http: client, logger: logger.With("component", "feed")}
}

// GetMidpoint returns the CLOB-reported midpoint for a token, or nil if the
// request failed or the server had no midpoint to report.
func (c *Client) GetMidpoint(ctx context.Context, tokenID string) *float64 {
	var out struct {
		Mid string `json:"mid"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&out).
		Get("/midpoint")
	if err != nil || resp.StatusCode() != 200 {
		c.logger.Debug("get_midpoint failed", "token_id", tokenID, "error", err)
		return nil
	}
	var mid float64
	if _, err := fmt.Sscanf(out.Mid, "%g", &mid); err != nil {
		return nil
	}
	return &mid
}

// GetOrderBook returns the parsed order book for a token, or nil on failure.
// Bid/ask levels accept both the native object encoding and a [price, size]
// tuple encoding via types.PriceLevel's custom UnmarshalJSON.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) *types.BookResponse {
	var out types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&out).
		Get("/book")
	if err != nil || resp.StatusCode() != 200 {
		c.logger.Debug("get_orderbook failed", "token_id", tokenID, "error", err)
		return nil
	}
	return &out
}

// GetTickSize returns the token's minimum price increment, or nil on failure.
func (c *Client) GetTickSize(ctx context.Context, tokenID string) *float64 {
	var out struct {
		MinimumTickSize *float64 `json:"minimum_tick_size"`
		TickSize        *float64 `json:"tick_size"`
		Tick            *float64 `json:"tick"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&out).
		Get("/tick-size")
	if err != nil || resp.StatusCode() != 200 {
		c.logger.Debug("get_tick_size failed", "token_id", tokenID, "error", err)
		return nil
	}
	for _, v := range []*float64{out.MinimumTickSize, out.TickSize, out.Tick} {
		if v != nil {
			return v
		}
	}
	return nil
}

// BestBidAsk returns the top-of-book bid and ask prices parsed from a book
// response, or (0, 0, false) if either side is empty.
func BestBidAsk(book *types.BookResponse) (bid, ask float64, ok bool) {
	if book == nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return 0, 0, false
	}
	return parsePrice(book.Bids[0].Price), parsePrice(book.Asks[0].Price), true
}

// DepthTop sums bid+ask size across the top N levels of a book, the
// depth_top signal the intensity adapter compares against its rolling
// reference.
func DepthTop(book *types.BookResponse, levels int) float64 {
	if book == nil || levels <= 0 {
		return 0
	}
	var total float64
	for i := 0; i < levels && i < len(book.Bids); i++ {
		total += parseSize(book.Bids[i].Size)
	}
	for i := 0; i < levels && i < len(book.Asks); i++ {
		total += parseSize(book.Asks[i].Size)
	}
	return total
}

func parsePrice(s string) float64 {
	var v float64
	fmt.Sscanf(s, "%g", &v)
	return v
}

func parseSize(s string) float64 {
	var v float64
	fmt.Sscanf(s, "%g", &v)
	return v
}
