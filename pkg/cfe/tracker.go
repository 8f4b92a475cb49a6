package cfe

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/blockedge/carbonx/pkg/storage"
	"github.com/blockedge/carbonx/pkg/util"
)

// windowSize caps the rolling compliance window at 24 hourly buckets.
const windowSize = 24

// hourKeyLayout keys buckets on the absolute date and hour, so samples
// from different calendar days never merge into one bucket.
const hourKeyLayout = "2006-01-02T15"

// HourlyCompliance is one aggregated hour of the CFE window.
type HourlyCompliance struct {
	Hour       string  `json:"hour"` // e.g. "2026-08-25T14"
	Required   float64 `json:"required"`
	Matched    float64 `json:"matched"`
	Percentage float64 `json:"percentage"` // clamped to [0,100]
}

// Tracker folds matched-trade samples into a rolling 24-hour
// carbon-free-energy compliance window, persisted after every sample.
type Tracker struct {
	mu     sync.Mutex
	window []HourlyCompliance // oldest first

	store  storage.Store
	clock  util.Clock
	logger *zap.SugaredLogger
}

func NewTracker(store storage.Store, clock util.Clock, logger *zap.SugaredLogger) *Tracker {
	t := &Tracker{store: store, clock: clock, logger: logger}
	t.load()
	return t
}

func (t *Tracker) load() {
	data, err := t.store.Get(storage.KeyCFECompliance)
	if err != nil {
		if err != storage.ErrNotFound {
			t.logger.Warnw("cfe_window_load_failed", "err", err)
		}
		return
	}

	var window []HourlyCompliance
	if err := json.Unmarshal(data, &window); err != nil {
		t.logger.Warnw("cfe_window_corrupt_using_empty", "err", err)
		return
	}
	if len(window) > windowSize {
		window = window[len(window)-windowSize:]
	}
	t.window = window
}

// RecordHourlyTrade folds one sample into the current hour's bucket.
// Samples with non-positive required or negative matched are ignored.
func (t *Tracker) RecordHourlyTrade(required, matched float64) {
	if required <= 0 || matched < 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := t.clock.Now().Format(hourKeyLayout)
	if n := len(t.window); n > 0 && t.window[n-1].Hour == key {
		b := &t.window[n-1]
		b.Required += required
		b.Matched += matched
		b.Percentage = clampPct(b.Matched / b.Required * 100)
	} else {
		t.window = append(t.window, HourlyCompliance{
			Hour:       key,
			Required:   required,
			Matched:    matched,
			Percentage: clampPct(matched / required * 100),
		})
		if len(t.window) > windowSize {
			t.window = t.window[len(t.window)-windowSize:]
		}
	}

	t.persistLocked()
}

func (t *Tracker) persistLocked() {
	data, err := json.Marshal(t.window)
	if err != nil {
		return
	}
	if err := t.store.Put(storage.KeyCFECompliance, data); err != nil {
		t.logger.Warnw("cfe_window_persist_failed", "err", err)
	}
}

// Window returns the tracked hours, oldest first.
func (t *Tracker) Window() []HourlyCompliance {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]HourlyCompliance, len(t.window))
	copy(out, t.window)
	return out
}

// Score returns the aggregate CFE percentage across the window.
func (t *Tracker) Score() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var required, matched float64
	for _, b := range t.window {
		required += b.Required
		matched += b.Matched
	}
	if required <= 0 {
		return 0
	}
	return clampPct(matched / required * 100)
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
