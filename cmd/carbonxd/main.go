package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/blockedge/carbonx/params"
	"github.com/blockedge/carbonx/pkg/api"
	"github.com/blockedge/carbonx/pkg/book"
	"github.com/blockedge/carbonx/pkg/cfe"
	"github.com/blockedge/carbonx/pkg/exchange"
	"github.com/blockedge/carbonx/pkg/market"
	"github.com/blockedge/carbonx/pkg/metrics"
	"github.com/blockedge/carbonx/pkg/sim"
	"github.com/blockedge/carbonx/pkg/storage"
	"github.com/blockedge/carbonx/pkg/ticker"
	"github.com/blockedge/carbonx/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Storage.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Storage.LogFile)

	clock := util.RealClock{}

	// ---- Storage ----
	store := storage.Open(cfg.Storage.DataDir, sugar)
	defer store.Close()

	var journal storage.Journal = storage.NewNopJournal()
	if cfg.Storage.JournalFile != "" {
		fj, err := storage.NewFileJournal(cfg.Storage.JournalFile)
		if err != nil {
			sugar.Warnw("journal_open_failed", "path", cfg.Storage.JournalFile, "err", err)
		} else {
			journal = fj
			defer fj.Close()
			sugar.Infow("journal_opened", "path", cfg.Storage.JournalFile)
		}
	}

	// ---- Market data ----
	registry := market.NewDefaultRegistry()
	feed := ticker.New(registry.List(), ticker.Config{
		TickMin: cfg.Sim.TickMin,
		TickMax: cfg.Sim.TickMax,
	}, clock, sugar)
	books := book.NewTicker(book.NewGenerator(cfg.Sim.BookLevels), feed, registry, cfg.Sim.BookInterval, clock, sugar)

	// ---- Trading engine ----
	engine := exchange.New(registry, feed, store, journal, clock, exchange.Config{
		StartingBalance: cfg.Demo.StartingBalance,
		FillDelay:       cfg.Sim.FillDelay,
	}, sugar)

	// ---- Compliance ----
	tracker := cfe.NewTracker(store, clock, sugar)
	matching := cfe.NewMatching(store, clock, sugar)

	// ---- Trade tape ----
	tape := sim.New(registry, feed, sim.Config{Interval: cfg.Sim.TapeInterval}, clock, sugar)

	m := metrics.New()

	// ---- API server ----
	apiServer := api.NewServer(api.Deps{
		Registry: registry,
		Engine:   engine,
		Feed:     feed,
		Books:    books,
		Tape:     tape,
		Tracker:  tracker,
		Matching: matching,
		Store:    store,
		Metrics:  m,
	}, api.Config{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, sugar)

	// ---- Hooks ----
	// Every price tick drives holding valuations, resting-order
	// triggers, and the live price stream.
	feed.OnTick = func(prices []ticker.MarketPrice) {
		m.PriceTicks.Inc()
		for _, p := range prices {
			engine.HandleTick(p.Symbol, p.Price)
		}
		apiServer.BroadcastPrices(prices)
	}

	books.OnBook = apiServer.BroadcastBook

	// Engine fills flow onto the tape, bump traded volume, and count
	// toward the current hour's CFE bucket at the hour's generation
	// coverage.
	engine.OnTrade = func(tr exchange.Trade) {
		feed.AddVolume(tr.Symbol, tr.Size)
		hourPct := matching.HourPercentage(clock.Now().Hour())
		tracker.RecordHourlyTrade(tr.Size, tr.Size*hourPct/100)
		tape.Record(tr)
	}

	// Everything on the tape, synthetic or real, reaches subscribers.
	tape.OnTrade = func(tr exchange.Trade) {
		m.TradesPrinted.Inc()
		apiServer.BroadcastTrade(tr)
	}

	engine.OnOrderUpdate = func(o exchange.Order) {
		if o.Status == exchange.Filled {
			m.OrdersFilled.Inc()
			if o.FilledAt != nil {
				m.ObserveFillWait(o.FilledAt.Sub(o.CreatedAt).Seconds())
			}
		}
		apiServer.BroadcastOrder(o)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("daemon_starting",
		"addr", cfg.Server.Addr,
		"pairs", registry.Count(),
		"book_levels", cfg.Sim.BookLevels,
		"tape_enabled", cfg.Sim.TapeEnabled,
	)

	// ---- Background loops ----
	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Fatalw("price_feed_failed", "err", err)
		}
	}()
	go func() {
		if err := books.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Fatalw("book_ticker_failed", "err", err)
		}
	}()
	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Fatalw("engine_failed", "err", err)
		}
	}()
	if cfg.Sim.TapeEnabled {
		go func() {
			if err := tape.Run(ctx); err != nil && ctx.Err() == nil {
				sugar.Fatalw("trade_tape_failed", "err", err)
			}
		}()
	} else {
		sugar.Info("trade tape disabled")
	}

	// The API server owns the main goroutine; it drains connections
	// when the signal context fires.
	if err := apiServer.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Fatalw("api_server_failed", "err", err)
	}

	sugar.Infow("daemon_stopped")
}
