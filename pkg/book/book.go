package book

import (
	"math/rand"
	"time"
)

const (
	// levelStep spaces ladder levels 0.2% apart.
	levelStep = 0.002
	// maxLevels keeps the deepest bid factor at 1 - 0.002*100 = 0.8,
	// so generated bids stay positive for any price.
	maxLevels = 100

	minLevelSize = 5.0
	maxLevelSize = 500.0
)

// Entry is one generated ladder level.
type Entry struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Total float64 `json:"total"` // Price * Size
	Depth float64 `json:"depth"` // Size / max size on the same side, in (0,1]
}

// Book is a synthetic depth snapshot. Sides are ordered for ladder
// rendering: asks run from the farthest level down to the best ask,
// bids from the farthest level up to the best bid.
type Book struct {
	Symbol      string    `json:"symbol"`
	Bids        []Entry   `json:"bids"` // prices ascending, all below the mark
	Asks        []Entry   `json:"asks"` // prices descending, all above the mark
	Spread      float64   `json:"spread"`
	MidPrice    float64   `json:"midPrice"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Summary condenses a book into the depth metrics the dashboard plots.
type Summary struct {
	Symbol    string  `json:"symbol"`
	BidSize   float64 `json:"bidSize"`
	AskSize   float64 `json:"askSize"`
	Imbalance float64 `json:"imbalance"` // (bid-ask)/(bid+ask), in [-1,1]
	Spread    float64 `json:"spread"`
	SpreadBps float64 `json:"spreadBps"`
	MidPrice  float64 `json:"midPrice"`
}

// Generator produces synthetic ladders around the live price. There is
// no real resting liquidity behind them; every snapshot is generated
// wholesale and replaces the previous one.
type Generator struct {
	levels int
	rng    *rand.Rand
}

func NewGenerator(levels int) *Generator {
	if levels > maxLevels {
		levels = maxLevels
	}
	return &Generator{
		levels: levels,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generate builds a fresh ladder around price. A non-positive price or
// level count yields an empty book rather than an error.
func (g *Generator) Generate(symbol string, price float64) Book {
	b := Book{
		Symbol:      symbol,
		Bids:        []Entry{},
		Asks:        []Entry{},
		GeneratedAt: time.Now(),
	}
	if price <= 0 || g.levels <= 0 {
		return b
	}

	asks := make([]Entry, 0, g.levels)
	bids := make([]Entry, 0, g.levels)
	for i := g.levels; i >= 1; i-- {
		asks = append(asks, Entry{Price: price * (1 + levelStep*float64(i)), Size: g.size()})
	}
	for i := g.levels; i >= 1; i-- {
		bids = append(bids, Entry{Price: price * (1 - levelStep*float64(i)), Size: g.size()})
	}

	fillDerived(asks)
	fillDerived(bids)

	bestAsk := asks[len(asks)-1].Price
	bestBid := bids[len(bids)-1].Price

	b.Asks = asks
	b.Bids = bids
	b.Spread = bestAsk - bestBid
	b.MidPrice = (bestAsk + bestBid) / 2
	return b
}

func (g *Generator) size() float64 {
	return minLevelSize + g.rng.Float64()*(maxLevelSize-minLevelSize)
}

// fillDerived computes Total and the per-side Depth normalization.
func fillDerived(side []Entry) {
	maxSize := 0.0
	for i := range side {
		if side[i].Size > maxSize {
			maxSize = side[i].Size
		}
	}
	for i := range side {
		side[i].Total = side[i].Price * side[i].Size
		side[i].Depth = side[i].Size / maxSize
	}
}

// Summarize reduces the book to aggregate depth metrics.
func (b *Book) Summarize() Summary {
	s := Summary{
		Symbol:   b.Symbol,
		Spread:   b.Spread,
		MidPrice: b.MidPrice,
	}
	for _, e := range b.Bids {
		s.BidSize += e.Size
	}
	for _, e := range b.Asks {
		s.AskSize += e.Size
	}
	if total := s.BidSize + s.AskSize; total > 0 {
		s.Imbalance = (s.BidSize - s.AskSize) / total
	}
	if b.MidPrice > 0 {
		s.SpreadBps = b.Spread / b.MidPrice * 10000
	}
	return s
}
