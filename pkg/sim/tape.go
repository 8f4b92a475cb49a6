// Package sim keeps the demo lively: it maintains a rolling trade tape
// per symbol and prints synthetic trades around the live price so the
// tape never looks dead between user fills.
package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blockedge/carbonx/pkg/exchange"
	"github.com/blockedge/carbonx/pkg/market"
	"github.com/blockedge/carbonx/pkg/util"
)

const (
	defaultDepth = 50
	// synthetic prints land within 5 bps of the live price
	maxJitter    = 0.0005
	minPrintSize = 0.5
	maxPrintSize = 25.0
)

// Config tunes the tape.
type Config struct {
	// Interval between synthetic prints.
	Interval time.Duration
	// Depth is how many prints are retained per symbol.
	Depth int
}

// Tape is the rolling per-symbol trade history. User fills arrive via
// Record (wire the engine's OnTrade to it); Run adds synthetic prints.
type Tape struct {
	mu     sync.Mutex
	trades map[string][]exchange.Trade // newest first
	depth  int

	registry *market.Registry
	prices   exchange.PriceSource
	interval time.Duration
	clock    util.Clock
	rng      *rand.Rand
	logger   *zap.SugaredLogger

	// OnTrade fires for every print, synthetic or real. Set before Run.
	OnTrade func(exchange.Trade)
}

func New(registry *market.Registry, prices exchange.PriceSource, cfg Config, clock util.Clock, logger *zap.SugaredLogger) *Tape {
	depth := cfg.Depth
	if depth <= 0 {
		depth = defaultDepth
	}
	return &Tape{
		trades:   make(map[string][]exchange.Trade),
		depth:    depth,
		registry: registry,
		prices:   prices,
		interval: cfg.Interval,
		clock:    clock,
		rng:      rand.New(rand.NewSource(clock.Now().UnixNano())),
		logger:   logger,
	}
}

// Run prints a synthetic trade on a random symbol every interval until
// ctx is cancelled.
func (t *Tape) Run(ctx context.Context) error {
	t.logger.Infow("trade_tape_started",
		"interval_ms", t.interval.Milliseconds(),
		"depth", t.depth,
	)
	for {
		if !util.Sleep(ctx, t.clock, t.interval) {
			t.logger.Infow("trade_tape_stopped")
			return ctx.Err()
		}
		t.emit()
	}
}

func (t *Tape) emit() {
	symbols := t.registry.Symbols()
	if len(symbols) == 0 {
		return
	}
	symbol := symbols[t.rng.Intn(len(symbols))]
	price := t.prices.Price(symbol)
	if price <= 0 {
		// not quoted yet, skip this round
		return
	}

	side := exchange.Buy
	if t.rng.Intn(2) == 1 {
		side = exchange.Sell
	}
	jitter := (t.rng.Float64()*2 - 1) * maxJitter
	t.Record(exchange.Trade{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Price:     price * (1 + jitter),
		Size:      minPrintSize + t.rng.Float64()*(maxPrintSize-minPrintSize),
		Side:      side,
		Timestamp: t.clock.Now(),
	})
}

// Record appends a print to the tape, evicting the oldest beyond the
// configured depth, and fires OnTrade.
func (t *Tape) Record(tr exchange.Trade) {
	t.mu.Lock()
	list := append([]exchange.Trade{tr}, t.trades[tr.Symbol]...)
	if len(list) > t.depth {
		list = list[:t.depth]
	}
	t.trades[tr.Symbol] = list
	t.mu.Unlock()

	if t.OnTrade != nil {
		t.OnTrade(tr)
	}
}

// Recent returns up to limit prints for a symbol, newest first.
// limit <= 0 returns everything retained.
func (t *Tape) Recent(symbol string, limit int) []exchange.Trade {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.trades[symbol]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]exchange.Trade, limit)
	copy(out, list[:limit])
	return out
}
