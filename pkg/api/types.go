package api

import (
	"time"

	"github.com/blockedge/carbonx/pkg/book"
	"github.com/blockedge/carbonx/pkg/cfe"
	"github.com/blockedge/carbonx/pkg/exchange"
	"github.com/blockedge/carbonx/pkg/ticker"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// MarketInfo joins a listed pair with its live quote.
type MarketInfo struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Base          string    `json:"base"`
	Quote         string    `json:"quote"`
	Status        string    `json:"status"` // "active" or "halted"
	Price         float64   `json:"price"`
	PreviousPrice float64   `json:"previousPrice"`
	Change24h     float64   `json:"change24h"`
	Volume24h     float64   `json:"volume24h"`
	High24h       float64   `json:"high24h"`
	Low24h        float64   `json:"low24h"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// PortfolioInfo is the account snapshot with derived equity.
type PortfolioInfo struct {
	Balance  float64                     `json:"balance"`
	Holdings map[string]exchange.Holding `json:"holdings"`
	Equity   float64                     `json:"equity"`
}

// OrderResult is the structured outcome of order placement. Error
// carries the engine's validation string verbatim.
type OrderResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CancelResult reports a cancel attempt. Cancelled is false when the
// order was unknown or already terminal; that is not an error.
type CancelResult struct {
	Success   bool `json:"success"`
	Cancelled bool `json:"cancelled"`
}

// ComplianceInfo is the aggregate CFE score plus its hourly window.
type ComplianceInfo struct {
	Score  float64                `json:"score"`
	Window []cfe.HourlyCompliance `json:"window"`
}

// HourlyMatchingInfo is today's generation/consumption profile with
// its aggregates.
type HourlyMatchingInfo struct {
	Day     string              `json:"day"`
	Hours   []cfe.HourlyEnergy  `json:"hours"`
	Summary cfe.MatchingSummary `json:"summary"`
}

// Preferences are the persisted UI settings.
type Preferences struct {
	ChartTimeframe string `json:"chartTimeframe"`
	TourCompleted  bool   `json:"tourCompleted"`
}

// ErrorResponse is returned for transport-level errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest mirrors the order form payload.
type PlaceOrderRequest struct {
	Pair   string  `json:"pair"`
	Type   string  `json:"type"` // "market", "limit", "stop"
	Side   string  `json:"side"` // "buy", "sell"
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// UpdatePreferencesRequest carries a partial preference update; only
// the fields present are applied.
type UpdatePreferencesRequest struct {
	ChartTimeframe *string `json:"chartTimeframe,omitempty"`
	TourCompleted  *bool   `json:"tourCompleted,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by the client to manage channel
// subscriptions, e.g. {"op":"subscribe","channels":["prices"]}.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "prices", "orderbook:REC/USDT", "trades:REC/USDT", "orders"
}

// PriceUpdate is broadcast on every feed tick.
type PriceUpdate struct {
	Type   string               `json:"type"` // "prices"
	Prices []ticker.MarketPrice `json:"prices"`
}

// BookUpdate is broadcast when a symbol's ladder regenerates.
type BookUpdate struct {
	Type string    `json:"type"` // "orderbook"
	Book book.Book `json:"book"`
}

// TradeUpdate is broadcast for every tape print.
type TradeUpdate struct {
	Type  string         `json:"type"` // "trade"
	Trade exchange.Trade `json:"trade"`
}

// OrderUpdate is broadcast when an order changes status.
type OrderUpdate struct {
	Type  string         `json:"type"` // "order"
	Order exchange.Order `json:"order"`
}

// ResetNotice goes to every connected client when the demo restarts.
type ResetNotice struct {
	Type string `json:"type"` // "reset"
}
