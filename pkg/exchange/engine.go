package exchange

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blockedge/carbonx/pkg/market"
	"github.com/blockedge/carbonx/pkg/storage"
	"github.com/blockedge/carbonx/pkg/util"
)

// dust is the threshold below which a float position counts as zero.
const dust = 1e-9

// idleWait bounds the Run loop's sleep when no fill is scheduled; the
// wake channel cuts it short as soon as one is.
const idleWait = time.Hour

// PriceSource supplies live prices for market-order execution and
// holding valuation.
type PriceSource interface {
	Price(symbol string) float64
}

// Config tunes the engine.
type Config struct {
	// StartingBalance is the quote balance a fresh or reset demo
	// account begins with.
	StartingBalance float64
	// FillDelay is how long a market order rests before it executes.
	FillDelay time.Duration
}

type scheduledFill struct {
	orderID string
	dueAt   time.Time
}

// Engine is the trading state store: active orders, the portfolio and
// the order history. All mutation goes through its methods; reads
// return copies. Time-driven transitions (delayed market fills) run on
// the Run goroutine.
type Engine struct {
	mu        sync.Mutex
	orders    map[string]*Order
	history   []Order // newest first
	portfolio Portfolio
	schedule  []scheduledFill // sorted by dueAt

	registry *market.Registry
	prices   PriceSource
	store    storage.Store
	journal  storage.Journal
	clock    util.Clock
	cfg      Config
	logger   *zap.SugaredLogger

	wake chan struct{}

	// OnOrderUpdate fires after every order transition with a copy of
	// the order. OnTrade fires once per fill. Set both before Run.
	OnOrderUpdate func(Order)
	OnTrade       func(Trade)
}

func New(registry *market.Registry, prices PriceSource, store storage.Store, journal storage.Journal, clock util.Clock, cfg Config, logger *zap.SugaredLogger) *Engine {
	e := &Engine{
		orders: make(map[string]*Order),
		portfolio: Portfolio{
			Balance:  cfg.StartingBalance,
			Holdings: make(map[string]Holding),
		},
		registry: registry,
		prices:   prices,
		store:    store,
		journal:  journal,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
	e.load()
	return e
}

// Run executes scheduled market-order fills until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Infow("engine_started",
		"fill_delay_ms", e.cfg.FillDelay.Milliseconds(),
		"starting_balance", e.cfg.StartingBalance,
	)
	for {
		select {
		case <-ctx.Done():
			e.logger.Infow("engine_stopped")
			return ctx.Err()
		case <-e.wake:
			// new schedule entry, recompute the wait
		case <-e.clock.After(e.nextDue()):
			e.fillDue()
		}
	}
}

func (e *Engine) nextDue() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.schedule) == 0 {
		return idleWait
	}
	d := e.schedule[0].dueAt.Sub(e.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

func (e *Engine) fillDue() {
	for {
		e.mu.Lock()
		if len(e.schedule) == 0 || e.schedule[0].dueAt.After(e.clock.Now()) {
			e.mu.Unlock()
			return
		}
		id := e.schedule[0].orderID
		e.schedule = e.schedule[1:]
		e.mu.Unlock()

		// The order may have been cancelled while it rested; Fill
		// no-ops on terminal IDs.
		e.Fill(id, 0)
	}
}

func (e *Engine) wakeRun() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// PlaceOrder validates and books a new order. Market orders are
// scheduled to fill after the configured delay; limit and stop orders
// rest until HandleTick sees a crossing price.
func (e *Engine) PlaceOrder(req PlaceRequest) (*Order, error) {
	pair, err := e.validate(req)
	if err != nil {
		e.logger.Infow("order_rejected", "pair", req.Pair, "reason", err.Error())
		return nil, err
	}

	// Market orders price at execution, never at a client-sent price.
	// The order rests with a zero price until the fill stamps the live
	// quote onto it.
	if req.Type == Market {
		req.Price = 0
	}

	e.mu.Lock()
	if req.Side == Buy {
		need := e.estimateLocked(req, pair) * req.Amount
		if need+e.openBuyExposureLocked() > e.portfolio.Balance+dust {
			e.mu.Unlock()
			e.logger.Infow("order_rejected", "pair", req.Pair, "reason", ErrInsufficientBalance.Error())
			return nil, ErrInsufficientBalance
		}
	} else {
		base := baseOf(req.Pair)
		held := e.portfolio.Holdings[base].Amount
		if held-e.openSellCommitmentLocked(base) < req.Amount-dust {
			e.mu.Unlock()
			e.logger.Infow("order_rejected", "pair", req.Pair, "reason", ErrInsufficientHoldings.Error())
			return nil, ErrInsufficientHoldings
		}
	}

	now := e.clock.Now()
	order := &Order{
		ID:        uuid.NewString(),
		Pair:      req.Pair,
		Type:      req.Type,
		Side:      req.Side,
		Price:     req.Price,
		Amount:    req.Amount,
		Status:    Pending,
		CreatedAt: now,
	}
	e.orders[order.ID] = order
	if order.Type == Market {
		e.schedule = append(e.schedule, scheduledFill{orderID: order.ID, dueAt: now.Add(e.cfg.FillDelay)})
	}
	e.persistOrdersLocked()
	out := *order
	e.mu.Unlock()

	if out.Type == Market {
		e.wakeRun()
	}
	e.journal.Record("order_placed", map[string]interface{}{
		"order_id": out.ID,
		"pair":     out.Pair,
		"type":     out.Type,
		"side":     out.Side,
		"price":    out.Price,
		"amount":   out.Amount,
	})
	e.logger.Infow("order_placed",
		"order_id", out.ID,
		"pair", out.Pair,
		"type", out.Type,
		"side", out.Side,
		"price", out.Price,
		"amount", out.Amount,
	)
	e.notifyOrder(out)
	return &out, nil
}

func (e *Engine) validate(req PlaceRequest) (market.Pair, error) {
	switch req.Type {
	case Market, Limit, Stop:
	default:
		return market.Pair{}, ErrUnknownType
	}
	switch req.Side {
	case Buy, Sell:
	default:
		return market.Pair{}, ErrUnknownSide
	}
	if req.Amount <= 0 {
		return market.Pair{}, ErrInvalidAmount
	}
	if req.Type != Market && req.Price <= 0 {
		return market.Pair{}, ErrInvalidPrice
	}
	pair, err := e.registry.Get(req.Pair)
	if err != nil {
		return market.Pair{}, ErrUnknownPair
	}
	if pair.Status != market.Active {
		return market.Pair{}, ErrMarketHalted
	}
	return pair, nil
}

// estimateLocked prices a prospective order for the funds check. Limit
// and stop orders cost their limit price; market orders are estimated
// at the live price, falling back to the listing base price before the
// first tick.
func (e *Engine) estimateLocked(req PlaceRequest, pair market.Pair) float64 {
	if req.Type != Market {
		return req.Price
	}
	if e.prices != nil {
		if p := e.prices.Price(req.Pair); p > 0 {
			return p
		}
	}
	return pair.BasePrice
}

// openBuyExposureLocked sums the quote value still committed to active
// buy orders, so stacked buys cannot overspend the balance.
func (e *Engine) openBuyExposureLocked() float64 {
	var total float64
	for _, o := range e.orders {
		if o.Side != Buy {
			continue
		}
		rem := o.Remaining()
		if rem <= 0 {
			continue
		}
		price := o.Price
		if price <= 0 {
			price = e.fillPriceLocked(o.Pair)
		}
		total += price * rem
	}
	return total
}

// openSellCommitmentLocked sums base quantity promised to active sell
// orders for one asset.
func (e *Engine) openSellCommitmentLocked(base string) float64 {
	var total float64
	for _, o := range e.orders {
		if o.Side != Sell || baseOf(o.Pair) != base {
			continue
		}
		total += o.Remaining()
	}
	return total
}

func (e *Engine) fillPriceLocked(symbol string) float64 {
	if e.prices != nil {
		if p := e.prices.Price(symbol); p > 0 {
			return p
		}
	}
	if pair, err := e.registry.Get(symbol); err == nil {
		return pair.BasePrice
	}
	return 0
}

// CancelOrder cancels an active order and moves it to the history.
// Unknown or already terminal IDs are a no-op and report false.
func (e *Engine) CancelOrder(id string) bool {
	e.mu.Lock()
	o, ok := e.orders[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	o.Status = Cancelled
	delete(e.orders, id)
	e.history = append([]Order{*o}, e.history...)
	e.persistOrdersLocked()
	e.persistHistoryLocked()
	out := *o
	e.mu.Unlock()

	e.journal.Record("order_cancelled", map[string]interface{}{"order_id": id})
	e.logger.Infow("order_cancelled", "order_id", id, "pair", out.Pair)
	e.notifyOrder(out)
	return true
}

// Fill executes up to qty of an active order, updating the portfolio
// by price*quantity. qty <= 0 fills the remainder. Limit and stop
// orders execute at their order price; market orders execute at the
// live price and are stamped with it. Unknown or terminal IDs report
// false.
func (e *Engine) Fill(id string, qty float64) bool {
	e.mu.Lock()
	o, ok := e.orders[id]
	if !ok {
		e.mu.Unlock()
		return false
	}

	rem := o.Remaining()
	if qty <= 0 || qty > rem {
		qty = rem
	}
	if qty <= dust {
		e.mu.Unlock()
		return false
	}

	price := o.Price
	if price <= 0 {
		price = e.fillPriceLocked(o.Pair)
		if price <= 0 {
			// no quote to execute against, leave the order resting
			e.mu.Unlock()
			return false
		}
		o.Price = price
	}

	base := baseOf(o.Pair)
	if o.Side == Buy {
		e.portfolio.Balance -= price * qty
		h := e.portfolio.Holdings[base]
		h.Amount += qty
		h.CurrentPrice = price
		e.portfolio.Holdings[base] = h
	} else {
		e.portfolio.Balance += price * qty
		h := e.portfolio.Holdings[base]
		h.Amount -= qty
		if h.Amount <= dust {
			delete(e.portfolio.Holdings, base)
		} else {
			h.CurrentPrice = price
			e.portfolio.Holdings[base] = h
		}
	}

	now := e.clock.Now()
	o.Filled += qty
	if o.Remaining() <= dust {
		o.Filled = o.Amount
		o.Status = Filled
		o.FilledAt = &now
		delete(e.orders, id)
		e.history = append([]Order{*o}, e.history...)
	} else {
		o.Status = Partial
	}

	tr := Trade{
		ID:        uuid.NewString(),
		Symbol:    o.Pair,
		Price:     price,
		Size:      qty,
		Side:      o.Side,
		Timestamp: now,
	}
	out := *o
	e.persistOrdersLocked()
	e.persistHistoryLocked()
	e.persistPortfolioLocked()
	e.mu.Unlock()

	e.journal.Record("order_filled", map[string]interface{}{
		"order_id": out.ID,
		"pair":     out.Pair,
		"side":     out.Side,
		"price":    price,
		"quantity": qty,
		"status":   out.Status,
	})
	e.logger.Infow("order_filled",
		"order_id", out.ID,
		"pair", out.Pair,
		"side", out.Side,
		"price", price,
		"quantity", qty,
		"status", out.Status,
	)
	e.notifyOrder(out)
	if e.OnTrade != nil {
		e.OnTrade(tr)
	}
	return true
}

// HandleTick reacts to a price update: refreshes the valuation of the
// matching holding and fills resting limit and stop orders the new
// price crosses. A limit buy fills at or below its price, a limit sell
// at or above; stops trigger on the opposite cross.
func (e *Engine) HandleTick(symbol string, price float64) {
	if price <= 0 {
		return
	}

	base := baseOf(symbol)

	e.mu.Lock()
	if h, ok := e.portfolio.Holdings[base]; ok {
		h.CurrentPrice = price
		e.portfolio.Holdings[base] = h
	}

	var due []string
	for id, o := range e.orders {
		if o.Pair != symbol {
			continue
		}
		switch o.Type {
		case Limit:
			if (o.Side == Buy && price <= o.Price) || (o.Side == Sell && price >= o.Price) {
				due = append(due, id)
			}
		case Stop:
			if (o.Side == Buy && price >= o.Price) || (o.Side == Sell && price <= o.Price) {
				due = append(due, id)
			}
		}
	}
	e.mu.Unlock()

	for _, id := range due {
		e.Fill(id, 0)
	}
}

// Reset restores the demo to its initial state: starting balance, no
// holdings, no orders, no history. The persisted trading blobs are
// deleted; preferences and compliance state are untouched.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.orders = make(map[string]*Order)
	e.history = nil
	e.schedule = nil
	e.portfolio = Portfolio{
		Balance:  e.cfg.StartingBalance,
		Holdings: make(map[string]Holding),
	}
	for _, key := range []string{storage.KeyOrders, storage.KeyPortfolio, storage.KeyOrderHistory} {
		if err := e.store.Delete(key); err != nil {
			e.logger.Warnw("reset_delete_failed", "key", key, "err", err)
		}
	}
	e.mu.Unlock()

	e.journal.Record("demo_reset", nil)
	e.logger.Infow("demo_reset", "starting_balance", e.cfg.StartingBalance)
}

// Orders returns active orders, newest first.
func (e *Engine) Orders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Order returns one order by ID, active or historical.
func (e *Engine) Order(id string) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.orders[id]; ok {
		return *o, true
	}
	for i := range e.history {
		if e.history[i].ID == id {
			return e.history[i], true
		}
	}
	return Order{}, false
}

// History returns terminal orders, newest first.
func (e *Engine) History() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, len(e.history))
	copy(out, e.history)
	return out
}

// Portfolio returns a snapshot copy of the account.
func (e *Engine) Portfolio() Portfolio {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portfolioCopyLocked()
}

func (e *Engine) portfolioCopyLocked() Portfolio {
	p := Portfolio{
		Balance:  e.portfolio.Balance,
		Holdings: make(map[string]Holding, len(e.portfolio.Holdings)),
	}
	for k, v := range e.portfolio.Holdings {
		p.Holdings[k] = v
	}
	return p
}

// Equity returns the balance plus holdings valued at their latest
// seen price.
func (e *Engine) Equity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	eq := e.portfolio.Balance
	for _, h := range e.portfolio.Holdings {
		eq += h.Amount * h.CurrentPrice
	}
	return eq
}

func (e *Engine) notifyOrder(o Order) {
	if e.OnOrderUpdate != nil {
		e.OnOrderUpdate(o)
	}
}
