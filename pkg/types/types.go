// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — order types, market
// metadata, order book snapshots, and WebSocket event payloads. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled: stays on book until filled or cancelled
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize represents the price granularity for a market. Polymarket supports
// four tick sizes; each market has a fixed tick size that determines the
// minimum price increment and USDC amount rounding precision.
type TickSize string

const (
	Tick01    TickSize = "0.1"    // 1 decimal  — coarse markets
	Tick001   TickSize = "0.01"   // 2 decimals — standard markets (most common)
	Tick0001  TickSize = "0.001"  // 3 decimals — fine-grained markets
	Tick00001 TickSize = "0.0001" // 4 decimals — ultra-precise markets
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the rounding precision for USDC amounts.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// MarketInfo is the internal representation of a Polymarket binary market.
// Populated from the Gamma API during scanning and passed to the strategy
// layer for quoting. A binary market has exactly two tokens (YES and NO)
// whose prices always sum to ~$1.
type MarketInfo struct {
	ID          string // Gamma market ID
	ConditionID string // CTF condition ID (used for cancels + user WS subscription)
	Slug        string // human-readable URL slug
	Question    string // the prediction question, e.g. "Will X happen by Y?"

	YesTokenID string // CLOB token ID for the YES outcome
	NoTokenID  string // CLOB token ID for the NO outcome

	TickSize     TickSize // price granularity (determines rounding)
	MinOrderSize float64  // minimum order size in tokens
	NegRisk      bool     // true if this is a neg-risk market (affects CTF exchange)

	Active          bool      // market is live
	Closed          bool      // market has been resolved
	AcceptingOrders bool      // CLOB is accepting new orders
	EndDate         time.Time // when the market is scheduled to resolve
	Liquidity       float64   // total USD liquidity on the book
	Volume24h       float64   // trailing 24-hour volume in USD

	BestBid        float64 // top-of-book bid price
	BestAsk        float64 // top-of-book ask price
	Spread         float64 // bestAsk - bestBid
	LastTradePrice float64 // most recent trade price

	RewardsMinSize   float64 // minimum size to qualify for liquidity rewards
	RewardsMaxSpread float64 // maximum spread to qualify for liquidity rewards
}

// MarketAllocation pairs a market with a per-market capital cap and an
// opportunity score. Nothing in this module builds one; the control loop
// takes its per-market budgets from internal/allocator instead.
type MarketAllocation struct {
	Market         MarketInfo
	MaxPositionUSD float64 // per-market position cap (from risk config)
	Score          float64 // composite opportunity score: spread × √volume × liquidity
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// UserOrder is the high-level order representation produced by the strategy.
// The exchange client converts it to a SignedOrder for the CLOB API.
type UserOrder struct {
	TokenID    string    // which token to trade (YES or NO asset ID)
	Price      float64   // limit price (0.0 to 1.0 for binary markets)
	Size       float64   // quantity in tokens
	Side       Side      // BUY or SELL
	OrderType  OrderType // GTC
	TickSize   TickSize  // market's price granularity (for amount rounding)
	Expiration int64     // unix timestamp, 0 = no expiry
	FeeRateBps int       // fee rate in basis points
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder/proxy wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int      `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int      `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /orders (batch).
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`              // API key of the order owner
	OrderType OrderType   `json:"orderType"`          // GTC
	PostOnly  bool        `json:"postOnly,omitempty"` // if true, rejects if it would cross
}

// OrderResponse is the REST API response for each order in a batch POST.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "live", "matched"
}

// OpenOrder represents a live resting order on the CLOB.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`        // "live", "matched", etc.
	Market       string `json:"market"`        // condition ID
	AssetID      string `json:"asset_id"`      // token ID
	Side         string `json:"side"`          // "BUY" or "SELL"
	OriginalSize string `json:"original_size"` // initial size
	SizeMatched  string `json:"size_matched"`  // how much has filled
	Price        string `json:"price"`         // limit price
}

// CancelResponse is returned by DELETE /orders, /cancel-all, /cancel-market-orders.
type CancelResponse struct {
	Canceled []string `json:"canceled"` // IDs of successfully cancelled orders
}

// QuotePair represents the desired bid and ask the strategy wants active
// for a single market. Nil Bid or Ask means the strategy wants that side
// pulled (no order). Nothing in this module builds one; the control loop
// quotes through quoter.Quote values and the order manager instead.
type QuotePair struct {
	MarketID    string
	YesTokenID  string
	NoTokenID   string
	Bid         *UserOrder // buy YES at this price/size, nil = no bid
	Ask         *UserOrder // sell YES at this price/size, nil = no ask
	GeneratedAt time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
// Price and Size are strings because the CLOB API returns them as strings
// to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// UnmarshalJSON accepts both the CLOB's native {"price":"..","size":".."}
// object encoding and a [price, size] 2-tuple encoding (each element itself
// either a string or a bare number), since both shapes have been observed
// from public book endpoints depending on client and API version.
func (p *PriceLevel) UnmarshalJSON(data []byte) error {
	type levelObject struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	}
	var obj levelObject
	if err := json.Unmarshal(data, &obj); err == nil && (obj.Price != "" || obj.Size != "") {
		p.Price, p.Size = obj.Price, obj.Size
		return nil
	}

	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("price level: unsupported encoding %s", data)
	}
	price, err := scalarToString(tuple[0])
	if err != nil {
		return fmt.Errorf("price level: price: %w", err)
	}
	size, err := scalarToString(tuple[1])
	if err != nil {
		return fmt.Errorf("price level: size: %w", err)
	}
	p.Price, p.Size = price, size
	return nil
}

// scalarToString renders a JSON scalar (string or number) as its string form.
func scalarToString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return fmt.Sprintf("%v", f), nil
	}
	return "", fmt.Errorf("neither string nor number: %s", raw)
}

// OrderBookSnapshot is a point-in-time view of one token's order book.
// Nothing in this module builds one; book reads use BookResponse.
type OrderBookSnapshot struct {
	AssetID   string       // token ID this book belongs to
	Bids      []PriceLevel // sorted descending by price (best bid first)
	Asks      []PriceLevel // sorted ascending by price (best ask first)
	Hash      string       // server-provided hash for staleness detection
	Timestamp time.Time    // when this snapshot was received
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	Hash         string       `json:"hash"`
	Timestamp    string       `json:"timestamp"`
	MinOrderSize string       `json:"min_order_size"`
	TickSize     string       `json:"tick_size"`
	NegRisk      bool         `json:"neg_risk"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON messages sent over the Polymarket WebSocket.
// Market channel events: "book" (full snapshot), "price_change" (delta).
// User channel events: "trade" (fill), "order" (placement/cancel lifecycle).

// WSBookEvent is a full order book snapshot from the market WS channel.
// Replaces the entire local book for the given asset.
type WSBookEvent struct {
	EventType string       `json:"event_type"` // always "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"` // condition ID
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`  // book version hash
	Buys      []PriceLevel `json:"buys"`  // bid levels
	Sells     []PriceLevel `json:"sells"` // ask levels
}

// WSPriceChange is a single price level update within a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`    // the price level that changed
	Size    string `json:"size"`     // new size at that level (0 = removed)
	Side    string `json:"side"`     // "BUY" or "SELL"
	Hash    string `json:"hash"`     // updated book hash
	BestBid string `json:"best_bid"` // new best bid after this change
	BestAsk string `json:"best_ask"` // new best ask after this change
}

// WSPriceChangeEvent is an incremental order book update from the market WS.
// Contains one or more level changes applied atomically.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // always "price_change"
	Market       string          `json:"market"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSTradeEvent is a fill notification from the user WS channel.
// Received when one of our orders gets matched against a taker.
type WSTradeEvent struct {
	EventType string `json:"event_type"` // always "trade"
	ID        string `json:"id"`         // trade ID
	Market    string `json:"market"`     // condition ID
	AssetID   string `json:"asset_id"`   // token ID that was traded
	Side      string `json:"side"`       // our side: "BUY" or "SELL"
	Size      string `json:"size"`       // filled quantity
	Price     string `json:"price"`      // fill price
	Outcome   string `json:"outcome"`    // "Yes" or "No"
	Timestamp string `json:"timestamp"`
}

// WSOrderEvent is an order lifecycle notification from the user WS channel.
// Received on order placement, update, or cancellation.
type WSOrderEvent struct {
	EventType       string   `json:"event_type"` // always "order"
	ID              string   `json:"id"`         // order ID
	Market          string   `json:"market"`     // condition ID
	AssetID         string   `json:"asset_id"`   // token ID
	Side            string   `json:"side"`       // "BUY" or "SELL"
	Price           string   `json:"price"`
	OriginalSize    string   `json:"original_size"`
	SizeMatched     string   `json:"size_matched"` // cumulative filled
	Outcome         string   `json:"outcome"`      // "Yes" or "No"
	Owner           string   `json:"owner"`        // API key
	Timestamp       string   `json:"timestamp"`
	Type            string   `json:"type"`             // "PLACEMENT", "UPDATE", "CANCELLATION"
	AssociateTrades []string `json:"associate_trades"` // trade IDs from partial fills
}

// WSSubscribeMsg is the initial subscription message sent when connecting
// to a WebSocket channel. For user channels, Auth must be provided.
type WSSubscribeMsg struct {
	Auth     *WSAuth  `json:"auth,omitempty"`       // required for user channel
	Type     string   `json:"type"`                 // "market" or "user"
	Markets  []string `json:"markets,omitempty"`    // condition IDs (user channel)
	AssetIDs []string `json:"assets_ids,omitempty"` // token IDs (market channel)
}

// WSAuth contains the L2 API credentials for authenticating the user WS channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSUpdateMsg is sent to dynamically subscribe or unsubscribe from channels
// after the initial connection is established.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"` // token IDs (market channel)
	Markets   []string `json:"markets,omitempty"`    // condition IDs (user channel)
	Operation string   `json:"operation"`            // "subscribe" or "unsubscribe"
}

// ————————————————————————————————————————————————————————————————————————
// Order / risk / calibration enumerations
// ————————————————————————————————————————————————————————————————————————

// OrderStatus is the lifecycle state of a persisted order row.
type OrderStatus string

const (
	OrderNew      OrderStatus = "NEW"
	OrderPlaced   OrderStatus = "PLACED"
	OrderPartial  OrderStatus = "PARTIAL"
	OrderFilled   OrderStatus = "FILLED"
	OrderCanceled OrderStatus = "CANCELED"
	OrderRejected OrderStatus = "REJECTED"
	OrderError    OrderStatus = "ERROR"
)

// Live reports whether a status belongs in the in-memory live[token] table.
func (s OrderStatus) Live() bool {
	return s == OrderPlaced || s == OrderPartial
}

// RiskLevel classifies a risk_events row.
type RiskLevel string

const (
	RiskInfo  RiskLevel = "INFO"
	RiskWarn  RiskLevel = "WARN"
	RiskError RiskLevel = "ERROR"
)

// SpreadMode selects how the fill simulator applies the spread penalty.
type SpreadMode string

const (
	SpreadModeFactor    SpreadMode = "factor"    // penalty applied post-hoc to p_fill
	SpreadModeIntensity SpreadMode = "intensity" // penalty folded into lambda selection
)

// DepthRefMode selects how the simulator's depth_ref is maintained.
type DepthRefMode string

const (
	DepthRefQuantile DepthRefMode = "quantile" // rolling quantile + EMA of observed depth
	DepthRefStatic   DepthRefMode = "static"   // fixed configured value, never updated
)

// ————————————————————————————————————————————————————————————————————————
// Calibration
// ————————————————————————————————————————————————————————————————————————

// CalibrationState accumulates fill/markout telemetry for one market across ticks and runs.
type CalibrationState struct {
	Fills             int64   `json:"fills"`
	Quotes            int64   `json:"quotes"`
	MarkoutSum        float64 `json:"markout_sum"`
	RealizedSpreadSum float64 `json:"realized_spread_sum"`
}

// CalibrationParams is the per-market tuning vector the calibrator evolves over time.
type CalibrationParams struct {
	ConditionID      string           `json:"condition_id"`
	Alpha            float64          `json:"alpha"`
	TargetSpreadBps  float64          `json:"target_spread_bps"`
	MaxUSD           float64          `json:"max_usd"`
	QuoteRefreshSec  float64          `json:"quote_refresh_sec"`
	CancelRepriceSec float64          `json:"cancel_reprice_sec"`
	State            CalibrationState `json:"state"`
}

// ————————————————————————————————————————————————————————————————————————
// Live order / inventory / account
// ————————————————————————————————————————————————————————————————————————

// LiveOrderState is the in-memory record of a resting order, held in the
// order manager's live[token] table. Only PLACED/PARTIAL orders are kept here.
type LiveOrderState struct {
	RunID         string
	LocalOrderID  string
	VenueOrderID  string
	ConditionID   string
	TokenID       string
	Side          Side
	Price         float64
	Size          float64 // remaining (unfilled) size
	OriginalSize  float64
	PostOnly      bool
	Status        OrderStatus
	CreatedTS     int64
	UpdatedTS     int64
}

// Position is per-outcome-token holdings with average-cost accounting.
type Position struct {
	TokenID  string  `json:"token_id"`
	Qty      float64 `json:"qty"`
	AvgCost  float64 `json:"avg_cost"`
	Realized float64 `json:"realized"`
}

// Account is the cash/equity aggregate across all tokens.
type Account struct {
	Cash             float64 `json:"cash"`
	RealizedTotal    float64 `json:"realized_total"`
	UnrealizedTotal  float64 `json:"unrealized_total"`
	Equity           float64 `json:"equity"`
	GrossExposureUSD float64 `json:"gross_exposure"`
}

// CircuitState is the rolling counter set the circuit breaker evaluates each tick.
type CircuitState struct {
	Placed       int64
	Rejected     int64
	Errors       int64
	CancelEvents []int64 // unix timestamps, trimmed to the last 60s window
}

// MarketFeatures is the allocator's per-market input row, built from persisted
// calibration state.
type MarketFeatures struct {
	ConditionID       string
	LiquidityNum      float64
	Fills             int64
	Quotes            int64
	MarkoutSum        float64
	RealizedSpreadSum float64
}

// Trade is a single execution (real fill from the user stream, or a
// simulator-generated paper fill) as persisted to the trades table.
type Trade struct {
	RunID        string
	TradeID      string
	VenueOrderID string
	ConditionID  string
	TokenID      string
	Side         Side
	Price        float64
	Size         float64
	Status       OrderStatus
	TS           int64
	Meta         map[string]any
}

// RiskEvent is an operator-facing record of a risk decision (exposure skip,
// circuit breaker halt, guard rejection) persisted for later review.
type RiskEvent struct {
	RunID       string
	ConditionID string
	Level       RiskLevel
	Reason      string
	TS          int64
	Meta        map[string]any
}
