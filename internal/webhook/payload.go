// Package webhook dispatches per-participant tick payloads to registered callback endpoints
// and harvests returned actions (spec §4.4, §6). Grounded on the teacher's HTTP client usage
// in internal/gateway and internal/connectivity for the outbound call shape, internal/retry for
// backoff, internal/circuitry for per-recipient isolation, panjf2000/ants for bounded
// concurrency (the same pool shape the teacher's HFT packages use), and klauspost/compress/gzip
// for large payload compression.
package webhook

import (
	"time"

	"github.com/shopspring/decimal"
)

// Money fields in the payload serialize as plain JSON numbers rather than decimal's default
// quoted strings.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Payload is the exact JSON body shape spec §6 names.
type Payload struct {
	Tick      int64     `json:"tick"`
	Timestamp time.Time `json:"timestamp"`

	Portfolio      PortfolioView    `json:"portfolio"`
	Orders         []OrderView      `json:"orders"`
	Market         MarketView       `json:"market"`
	World          WorldView        `json:"world"`
	News           []NewsView       `json:"news"`
	Messages       []interface{}    `json:"messages"`
	Alerts         []interface{}    `json:"alerts"`
	Investigations []interface{}    `json:"investigations"`
	ActionResults  []ActionResult   `json:"actionResults"`
}

// PortfolioView is the participant's portfolio snapshot (spec §6 portfolio).
type PortfolioView struct {
	AgentID         string          `json:"agentId"`
	Cash            decimal.Decimal `json:"cash"`
	MarginUsed      decimal.Decimal `json:"marginUsed"`
	MarginAvailable decimal.Decimal `json:"marginAvailable"`
	NetWorth        decimal.Decimal `json:"netWorth"`
	Positions       []PositionView  `json:"positions"`
}

// PositionView is one holding enriched with current market value and P&L (spec §6).
type PositionView struct {
	Symbol               string          `json:"symbol"`
	Shares               decimal.Decimal `json:"shares"`
	AverageCost          decimal.Decimal `json:"averageCost"`
	CurrentPrice         decimal.Decimal `json:"currentPrice"`
	MarketValue          decimal.Decimal `json:"marketValue"`
	UnrealizedPnL        decimal.Decimal `json:"unrealizedPnL"`
	UnrealizedPnLPercent decimal.Decimal `json:"unrealizedPnLPercent"`
}

// OrderView is one of the participant's non-terminal orders (spec §6 orders).
type OrderView struct {
	ID             string           `json:"id"`
	AgentID        string           `json:"agentId"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	Quantity       decimal.Decimal  `json:"quantity"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	StopPrice      *decimal.Decimal `json:"stopPrice,omitempty"`
	Status         string           `json:"status"`
	FilledQuantity decimal.Decimal  `json:"filledQuantity"`
	AvgFillPrice   *decimal.Decimal `json:"avgFillPrice,omitempty"`
	TickSubmitted  int64            `json:"tickSubmitted"`
	TickFilled     *int64           `json:"tickFilled,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// IndexView is one named market index (spec §6 market.indices).
type IndexView struct {
	Name          string          `json:"name"`
	Value         decimal.Decimal `json:"value"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
}

// WatchlistQuote is one watchlist stock quote (spec §6 market.watchlist).
type WatchlistQuote struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Sector        string          `json:"sector"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Volume        decimal.Decimal `json:"volume"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	MarketCap     decimal.Decimal `json:"marketCap"`
}

// TradeView is a trade restricted to one participant's view (spec §6 market.recentTrades).
type TradeView struct {
	ID       string          `json:"id"`
	Tick     int64           `json:"tick"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"` // "BUY" or "SELL" from this participant's perspective
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// MarketView bundles indices, watchlist quotes, and the participant's recent trades.
type MarketView struct {
	Indices      []IndexView      `json:"indices"`
	Watchlist    []WatchlistQuote `json:"watchlist"`
	RecentTrades []TradeView      `json:"recentTrades"`
}

// WorldView is the global simulation state (spec §6 world, mirrors store.WorldState).
type WorldView struct {
	CurrentTick   int64     `json:"currentTick"`
	MarketOpen    bool      `json:"marketOpen"`
	InterestRate  float64   `json:"interestRate"`
	InflationRate float64   `json:"inflationRate"`
	GDPGrowth     float64   `json:"gdpGrowth"`
	Regime        string    `json:"regime"`
	LastTickAt    time.Time `json:"lastTickAt"`
}

// NewsView is one news entry (spec §6 news).
type NewsView struct {
	ID         string    `json:"id"`
	Tick       int64     `json:"tick"`
	Headline   string    `json:"headline"`
	Content    string    `json:"content,omitempty"`
	Category   string    `json:"category"`
	Sentiment  float64   `json:"sentiment"`
	AgentIDs   []string  `json:"agentIds"`
	Symbols    []string  `json:"symbols"`
	CreatedAt  time.Time `json:"createdAt"`
	IsBreaking bool      `json:"isBreaking,omitempty"`
}

// ActionResult records the outcome of one previously-submitted action (spec §4.5).
type ActionResult struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// ResponseBody is what the participant's endpoint is expected to return on 2xx (spec §6): any
// 2xx with a non-JSON or actions-less body is treated as "no actions".
type ResponseBody struct {
	Actions []ActionRequest `json:"actions"`
}

// ActionRequest is one raw action as returned by a participant's webhook, validated and
// dispatched to internal/actions.
type ActionRequest struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}
