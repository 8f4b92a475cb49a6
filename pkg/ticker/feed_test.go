package ticker

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/blockedge/carbonx/pkg/market"
	"github.com/blockedge/carbonx/pkg/util"
)

func newTestFeed(cfg Config) *Feed {
	pairs := []market.Pair{
		{Symbol: "REC/USDT", Name: "Renewable Energy Certificate", Base: "REC", Quote: "USDT", BasePrice: 45.20},
		{Symbol: "CER/USDT", Name: "Certified Emission Reduction", Base: "CER", Quote: "USDT", BasePrice: 8.45},
	}
	return New(pairs, cfg, util.RealClock{}, zap.NewNop().Sugar())
}

func TestSeededFromListing(t *testing.T) {
	f := newTestFeed(Config{TickMin: time.Second, TickMax: time.Second})

	p, ok := f.Get("REC/USDT")
	if !ok {
		t.Fatal("REC/USDT missing")
	}
	if p.Price != 45.20 || p.PreviousPrice != 45.20 {
		t.Errorf("seed price = %f/%f, want 45.20", p.Price, p.PreviousPrice)
	}
	if p.High24h != 45.20 || p.Low24h != 45.20 {
		t.Errorf("seed high/low = %f/%f, want 45.20", p.High24h, p.Low24h)
	}
	if p.Change24h != 0 {
		t.Errorf("seed change = %f, want 0", p.Change24h)
	}

	if _, ok := f.Get("NOPE/USDT"); ok {
		t.Error("unknown symbol should not resolve")
	}
	if f.Price("NOPE/USDT") != 0 {
		t.Error("unknown symbol price should be 0")
	}
}

func TestTickStaysWithinDriftBound(t *testing.T) {
	f := newTestFeed(Config{TickMin: time.Second, TickMax: time.Second})

	const eps = 1e-9
	for i := 0; i < 200; i++ {
		before := map[string]float64{}
		for _, p := range f.Snapshot() {
			before[p.Symbol] = p.Price
		}

		f.Tick()

		for _, p := range f.Snapshot() {
			prev := before[p.Symbol]
			if p.PreviousPrice != prev {
				t.Fatalf("tick %d: previousPrice = %f, want %f", i, p.PreviousPrice, prev)
			}
			step := math.Abs(p.Price-prev) / prev
			if step > maxDrift+eps {
				t.Fatalf("tick %d: step %f exceeds %f", i, step, maxDrift)
			}
			if p.Price <= 0 {
				t.Fatalf("tick %d: price went non-positive: %f", i, p.Price)
			}
			if p.High24h < p.Price || p.Low24h > p.Price {
				t.Fatalf("tick %d: high/low envelope broken: %f not in [%f, %f]",
					i, p.Price, p.Low24h, p.High24h)
			}
		}
	}
}

func TestHighLowMonotone(t *testing.T) {
	f := newTestFeed(Config{TickMin: time.Second, TickMax: time.Second})

	prevHigh, prevLow := 45.20, 45.20
	for i := 0; i < 100; i++ {
		f.Tick()
		p, _ := f.Get("REC/USDT")
		if p.High24h < prevHigh {
			t.Fatalf("tick %d: high shrank from %f to %f", i, prevHigh, p.High24h)
		}
		if p.Low24h > prevLow {
			t.Fatalf("tick %d: low grew from %f to %f", i, prevLow, p.Low24h)
		}
		prevHigh, prevLow = p.High24h, p.Low24h
	}
}

func TestChange24hTracksBase(t *testing.T) {
	f := newTestFeed(Config{TickMin: time.Second, TickMax: time.Second})

	for i := 0; i < 50; i++ {
		f.Tick()
	}

	p, _ := f.Get("CER/USDT")
	want := (p.Price - 8.45) / 8.45 * 100
	if math.Abs(p.Change24h-want) > 1e-9 {
		t.Errorf("change24h = %f, want %f", p.Change24h, want)
	}
}

func TestAddVolume(t *testing.T) {
	f := newTestFeed(Config{TickMin: time.Second, TickMax: time.Second})

	f.AddVolume("REC/USDT", 120)
	f.AddVolume("REC/USDT", -5)      // ignored
	f.AddVolume("NOPE/USDT", 999999) // unknown symbol, no-op

	p, _ := f.Get("REC/USDT")
	if p.Volume24h != 120 {
		t.Errorf("volume = %f, want 120", p.Volume24h)
	}
}

func TestSnapshotSorted(t *testing.T) {
	f := newTestFeed(Config{TickMin: time.Second, TickMax: time.Second})

	snap := f.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(snap))
	}
	if snap[0].Symbol != "CER/USDT" || snap[1].Symbol != "REC/USDT" {
		t.Errorf("snapshot order = %s, %s", snap[0].Symbol, snap[1].Symbol)
	}
}

func TestRunFiresOnTickUntilCancelled(t *testing.T) {
	f := newTestFeed(Config{TickMin: time.Millisecond, TickMax: time.Millisecond})

	ticks := make(chan struct{}, 16)
	f.OnTick = func(snap []MarketPrice) {
		if len(snap) != 2 {
			t.Errorf("tick snapshot len = %d, want 2", len(snap))
		}
		select {
		case ticks <- struct{}{}:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tick")
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
