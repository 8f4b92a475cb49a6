package ticker

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blockedge/carbonx/pkg/market"
	"github.com/blockedge/carbonx/pkg/util"
)

const (
	// maxDrift bounds a single walk step to ±1% of the current price.
	maxDrift = 0.01
	// volumePerTick caps the synthetic volume accrued per tick, in
	// base-asset units.
	volumePerTick = 1000.0
)

// MarketPrice is the live quote for one pair.
type MarketPrice struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	PreviousPrice float64   `json:"previousPrice"`
	Change24h     float64   `json:"change24h"` // percent vs session base price
	Volume24h     float64   `json:"volume24h"` // base-asset units
	High24h       float64   `json:"high24h"`   // session high, never resets
	Low24h        float64   `json:"low24h"`    // session low, never resets
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Config struct {
	// The tick interval is drawn uniformly from [TickMin, TickMax].
	TickMin time.Duration
	TickMax time.Duration
}

// Feed simulates live market prices with a bounded random walk. State is
// in-memory only and reseeds from the listing on restart.
type Feed struct {
	mu     sync.RWMutex
	prices map[string]*MarketPrice
	base   map[string]float64 // session base for Change24h

	cfg    Config
	clock  util.Clock
	rng    *rand.Rand
	logger *zap.SugaredLogger

	// OnTick is invoked with a full snapshot after every walk step.
	// Set before Run.
	OnTick func([]MarketPrice)
}

func New(pairs []market.Pair, cfg Config, clock util.Clock, logger *zap.SugaredLogger) *Feed {
	f := &Feed{
		prices: make(map[string]*MarketPrice, len(pairs)),
		base:   make(map[string]float64, len(pairs)),
		cfg:    cfg,
		clock:  clock,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger,
	}

	now := clock.Now()
	for _, p := range pairs {
		f.prices[p.Symbol] = &MarketPrice{
			Symbol:        p.Symbol,
			Name:          p.Name,
			Price:         p.BasePrice,
			PreviousPrice: p.BasePrice,
			High24h:       p.BasePrice,
			Low24h:        p.BasePrice,
			UpdatedAt:     now,
		}
		f.base[p.Symbol] = p.BasePrice
	}

	return f
}

// Run drives the walk until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.Infow("price_feed_started",
		"pairs", len(f.prices),
		"tick_min_ms", f.cfg.TickMin.Milliseconds(),
		"tick_max_ms", f.cfg.TickMax.Milliseconds())

	for {
		if !util.Sleep(ctx, f.clock, f.nextInterval()) {
			f.logger.Infow("price_feed_stopped")
			return ctx.Err()
		}
		f.Tick()
	}
}

func (f *Feed) nextInterval() time.Duration {
	span := f.cfg.TickMax - f.cfg.TickMin
	if span <= 0 {
		return f.cfg.TickMin
	}
	return f.cfg.TickMin + time.Duration(f.rng.Int63n(int64(span)))
}

// Tick advances every price one walk step and fires OnTick.
func (f *Feed) Tick() {
	f.mu.Lock()
	now := f.clock.Now()
	for _, p := range f.prices {
		drift := (f.rng.Float64()*2 - 1) * maxDrift
		prev := p.Price
		next := prev * (1 + drift)

		p.PreviousPrice = prev
		p.Price = next
		if next > p.High24h {
			p.High24h = next
		}
		if next < p.Low24h {
			p.Low24h = next
		}
		base := f.base[p.Symbol]
		p.Change24h = (next - base) / base * 100
		p.Volume24h += f.rng.Float64() * volumePerTick
		p.UpdatedAt = now
	}
	snapshot := f.snapshotLocked()
	f.mu.Unlock()

	if f.OnTick != nil {
		f.OnTick(snapshot)
	}
}

// AddVolume accrues executed size into a symbol's 24h volume.
// Called for fills and tape prints so traded size shows up in the stats.
func (f *Feed) AddVolume(symbol string, qty float64) {
	if qty <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.prices[symbol]; ok {
		p.Volume24h += qty
	}
}

// Get returns the current quote for a symbol.
func (f *Feed) Get(symbol string) (MarketPrice, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[symbol]
	if !ok {
		return MarketPrice{}, false
	}
	return *p, true
}

// Price returns the last traded price for a symbol, or 0 when unknown.
func (f *Feed) Price(symbol string) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if p, ok := f.prices[symbol]; ok {
		return p.Price
	}
	return 0
}

// Snapshot returns all quotes sorted by symbol.
func (f *Feed) Snapshot() []MarketPrice {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshotLocked()
}

func (f *Feed) snapshotLocked() []MarketPrice {
	out := make([]MarketPrice, 0, len(f.prices))
	for _, p := range f.prices {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
