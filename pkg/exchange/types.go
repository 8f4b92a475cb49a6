package exchange

import (
	"errors"
	"strings"
	"time"
)

type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
	Stop   OrderType = "stop"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type Status string

const (
	Pending   Status = "pending"
	Partial   Status = "partial"
	Filled    Status = "filled"
	Cancelled Status = "cancelled"
)

// Validation errors carry the exact strings the frontend shows, so the
// API can pass them through verbatim.
var (
	ErrInsufficientBalance  = errors.New("Insufficient balance")
	ErrInsufficientHoldings = errors.New("Insufficient holdings")
	ErrInvalidAmount        = errors.New("Amount must be greater than 0")
	ErrInvalidPrice         = errors.New("Price must be greater than 0")
	ErrUnknownPair          = errors.New("Unknown trading pair")
	ErrUnknownType          = errors.New("Unknown order type")
	ErrUnknownSide          = errors.New("Unknown order side")
	ErrMarketHalted         = errors.New("Market halted")
)

// Order is a simulated order. The engine hands out copies only; once
// filled or cancelled an order is immutable and lives in the history.
type Order struct {
	ID        string     `json:"id"`
	Pair      string     `json:"pair"`
	Type      OrderType  `json:"type"`
	Side      Side       `json:"side"`
	Price     float64    `json:"price"` // 0 for market orders until execution
	Amount    float64    `json:"amount"`
	Filled    float64    `json:"filled"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	FilledAt  *time.Time `json:"filledAt,omitempty"`
}

func (o *Order) Remaining() float64 { return o.Amount - o.Filled }

func (o *Order) Terminal() bool { return o.Status == Filled || o.Status == Cancelled }

// Holding is a base-asset position valued at the latest seen price.
type Holding struct {
	Amount       float64 `json:"amount"`
	CurrentPrice float64 `json:"currentPrice"`
}

// Portfolio is the demo account: one quote-asset balance plus holdings
// per base asset. Mutated only by fills and Reset.
type Portfolio struct {
	Balance  float64            `json:"balance"`
	Holdings map[string]Holding `json:"holdings"`
}

// Trade is an executed print.
type Trade struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      Side      `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// PlaceRequest carries order parameters from the API layer. Price is
// required for limit and stop orders and ignored for market orders.
type PlaceRequest struct {
	Pair   string    `json:"pair"`
	Type   OrderType `json:"type"`
	Side   Side      `json:"side"`
	Price  float64   `json:"price"`
	Amount float64   `json:"amount"`
}

// baseOf extracts the base asset from a "BASE/QUOTE" symbol.
func baseOf(pair string) string {
	if i := strings.IndexByte(pair, '/'); i > 0 {
		return pair[:i]
	}
	return pair
}
