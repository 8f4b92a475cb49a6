package exchange

import (
	"encoding/json"
	"sort"

	"github.com/blockedge/carbonx/pkg/storage"
)

// load restores orders, history and portfolio from the store. Missing
// blobs are normal on first boot; unreadable or corrupt blobs fall
// back to defaults with a warning rather than failing startup.
func (e *Engine) load() {
	if data, err := e.store.Get(storage.KeyPortfolio); err == nil {
		var p Portfolio
		if jsonErr := json.Unmarshal(data, &p); jsonErr != nil {
			e.logger.Warnw("portfolio_corrupt_using_defaults", "err", jsonErr)
		} else {
			if p.Holdings == nil {
				p.Holdings = make(map[string]Holding)
			}
			e.portfolio = p
		}
	} else if err != storage.ErrNotFound {
		e.logger.Warnw("portfolio_load_failed_using_defaults", "err", err)
	}

	if data, err := e.store.Get(storage.KeyOrders); err == nil {
		var orders []Order
		if jsonErr := json.Unmarshal(data, &orders); jsonErr != nil {
			e.logger.Warnw("orders_corrupt_using_empty", "err", jsonErr)
		} else {
			now := e.clock.Now()
			for i := range orders {
				o := orders[i]
				if o.Terminal() || o.ID == "" {
					continue
				}
				e.orders[o.ID] = &o
				// market orders interrupted mid-rest get a fresh delay
				if o.Type == Market {
					e.schedule = append(e.schedule, scheduledFill{orderID: o.ID, dueAt: now.Add(e.cfg.FillDelay)})
				}
			}
		}
	} else if err != storage.ErrNotFound {
		e.logger.Warnw("orders_load_failed_using_empty", "err", err)
	}

	if data, err := e.store.Get(storage.KeyOrderHistory); err == nil {
		var history []Order
		if jsonErr := json.Unmarshal(data, &history); jsonErr != nil {
			e.logger.Warnw("order_history_corrupt_using_empty", "err", jsonErr)
		} else {
			e.history = history
		}
	} else if err != storage.ErrNotFound {
		e.logger.Warnw("order_history_load_failed_using_empty", "err", err)
	}

	e.logger.Infow("engine_state_loaded",
		"active_orders", len(e.orders),
		"history", len(e.history),
		"balance", e.portfolio.Balance,
		"holdings", len(e.portfolio.Holdings),
	)
}

func (e *Engine) persistOrdersLocked() {
	e.saveJSONLocked(storage.KeyOrders, e.activeOrdersLocked())
}

func (e *Engine) persistHistoryLocked() {
	e.saveJSONLocked(storage.KeyOrderHistory, e.history)
}

func (e *Engine) persistPortfolioLocked() {
	e.saveJSONLocked(storage.KeyPortfolio, e.portfolio)
}

func (e *Engine) activeOrdersLocked() []Order {
	out := make([]Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (e *Engine) saveJSONLocked(key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		e.logger.Warnw("state_marshal_failed", "key", key, "err", err)
		return
	}
	if err := e.store.Put(key, data); err != nil {
		e.logger.Warnw("state_persist_failed", "key", key, "err", err)
	}
}
