package book

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blockedge/carbonx/pkg/market"
	"github.com/blockedge/carbonx/pkg/util"
)

// PriceSource supplies the mark price ladders are generated around.
type PriceSource interface {
	Price(symbol string) float64
}

// Ticker regenerates the ladder for every listed pair on a fixed
// cadence and keeps the latest snapshot per symbol.
type Ticker struct {
	mu    sync.RWMutex
	books map[string]Book

	gen      *Generator
	prices   PriceSource
	registry *market.Registry
	interval time.Duration
	clock    util.Clock
	logger   *zap.SugaredLogger

	// OnBook is invoked with each regenerated snapshot. Set before Run.
	OnBook func(Book)
}

func NewTicker(gen *Generator, prices PriceSource, registry *market.Registry, interval time.Duration, clock util.Clock, logger *zap.SugaredLogger) *Ticker {
	return &Ticker{
		books:    make(map[string]Book),
		gen:      gen,
		prices:   prices,
		registry: registry,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}
}

// Run refreshes immediately, then on every interval until ctx is
// cancelled.
func (t *Ticker) Run(ctx context.Context) error {
	t.logger.Infow("book_ticker_started",
		"pairs", t.registry.Count(),
		"interval_ms", t.interval.Milliseconds())

	t.Refresh()
	for {
		if !util.Sleep(ctx, t.clock, t.interval) {
			t.logger.Infow("book_ticker_stopped")
			return ctx.Err()
		}
		t.Refresh()
	}
}

// Refresh regenerates every ladder from the current feed prices.
func (t *Ticker) Refresh() {
	for _, symbol := range t.registry.Symbols() {
		b := t.gen.Generate(symbol, t.prices.Price(symbol))

		t.mu.Lock()
		t.books[symbol] = b
		t.mu.Unlock()

		if t.OnBook != nil {
			t.OnBook(b)
		}
	}
}

// Get returns the latest snapshot for a symbol.
func (t *Ticker) Get(symbol string) (Book, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.books[symbol]
	return b, ok
}
