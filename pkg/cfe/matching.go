package cfe

import (
	"encoding/json"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blockedge/carbonx/pkg/storage"
	"github.com/blockedge/carbonx/pkg/util"
)

const dayLayout = "2006-01-02"

// HourlyEnergy is one hour of the synthetic generation/consumption
// profile, in MWh.
type HourlyEnergy struct {
	Hour        int     `json:"hour"` // 0..23
	Generation  float64 `json:"generation"`
	Consumption float64 `json:"consumption"`
	Matched     float64 `json:"matched"`
	Percentage  float64 `json:"percentage"` // matched/consumption, [0,100]
}

// DayProfile is the cached per-day profile blob.
type DayProfile struct {
	Day   string         `json:"day"` // "2006-01-02"
	Hours []HourlyEnergy `json:"hours"`
}

// MatchingSummary holds the day-level aggregates derived from a profile.
type MatchingSummary struct {
	Day              string  `json:"day"`
	CFEPercent       float64 `json:"cfePercent"`
	TotalGeneration  float64 `json:"totalGeneration"`
	TotalConsumption float64 `json:"totalConsumption"`
	TotalMatched     float64 `json:"totalMatched"`
}

// Certificate is a fabricated proof document for a day's CFE score.
// Nothing signs or registers it; it exists for the certificate panel.
type Certificate struct {
	ID           string    `json:"id"`
	Day          string    `json:"day"`
	CFEPercent   float64   `json:"cfePercent"`
	TotalMatched float64   `json:"totalMatched"`
	IssuedAt     time.Time `json:"issuedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Matching simulates a day of hourly generation/consumption matching.
// The profile is generated once per calendar day and cached in the
// store, so restarts within a day see the same numbers.
type Matching struct {
	mu      sync.Mutex
	profile DayProfile

	store  storage.Store
	clock  util.Clock
	rng    *rand.Rand
	logger *zap.SugaredLogger
}

func NewMatching(store storage.Store, clock util.Clock, logger *zap.SugaredLogger) *Matching {
	m := &Matching{
		store:  store,
		clock:  clock,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadLocked()
	return m
}

func (m *Matching) loadLocked() {
	today := m.clock.Now().Format(dayLayout)

	data, err := m.store.Get(storage.KeyHourlyMatching)
	if err == nil {
		var cached DayProfile
		if jsonErr := json.Unmarshal(data, &cached); jsonErr != nil {
			m.logger.Warnw("hourly_matching_corrupt_regenerating", "err", jsonErr)
		} else if cached.Day == today && len(cached.Hours) == 24 {
			m.profile = cached
			return
		}
	} else if err != storage.ErrNotFound {
		m.logger.Warnw("hourly_matching_load_failed", "err", err)
	}

	m.profile = m.generate(today)
	m.persistLocked()
}

// generate builds a solar-shaped day: generation peaks at midday,
// consumption is flat with an evening bump.
func (m *Matching) generate(day string) DayProfile {
	hours := make([]HourlyEnergy, 24)
	for h := 0; h < 24; h++ {
		solar := math.Sin(math.Pi * float64(h-6) / 12.0)
		if solar < 0 {
			solar = 0
		}
		generation := 20 + 180*solar*(0.85+0.3*m.rng.Float64())

		consumption := 80 + 40*m.rng.Float64()
		if h >= 18 && h <= 22 {
			consumption += 30
		}

		matched := math.Min(generation, consumption)
		hours[h] = HourlyEnergy{
			Hour:        h,
			Generation:  generation,
			Consumption: consumption,
			Matched:     matched,
			Percentage:  clampPct(matched / consumption * 100),
		}
	}
	return DayProfile{Day: day, Hours: hours}
}

func (m *Matching) persistLocked() {
	data, err := json.Marshal(m.profile)
	if err != nil {
		return
	}
	if err := m.store.Put(storage.KeyHourlyMatching, data); err != nil {
		m.logger.Warnw("hourly_matching_persist_failed", "err", err)
	}
}

// Profile returns the current day's profile, regenerating it when the
// calendar day has rolled over since the cached blob was written.
func (m *Matching) Profile() DayProfile {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.clock.Now().Format(dayLayout)
	if m.profile.Day != today || len(m.profile.Hours) != 24 {
		m.profile = m.generate(today)
		m.persistLocked()
		m.logger.Infow("hourly_matching_regenerated", "day", today)
	}

	out := DayProfile{Day: m.profile.Day, Hours: make([]HourlyEnergy, len(m.profile.Hours))}
	copy(out.Hours, m.profile.Hours)
	return out
}

// HourPercentage reports the matched percentage for one hour of
// today's profile. Out-of-range hours report 0.
func (m *Matching) HourPercentage(hour int) float64 {
	if hour < 0 || hour > 23 {
		return 0
	}
	for _, h := range m.Profile().Hours {
		if h.Hour == hour {
			return h.Percentage
		}
	}
	return 0
}

// Summary aggregates the current profile.
func (m *Matching) Summary() MatchingSummary {
	p := m.Profile()

	s := MatchingSummary{Day: p.Day}
	for _, h := range p.Hours {
		s.TotalGeneration += h.Generation
		s.TotalConsumption += h.Consumption
		s.TotalMatched += h.Matched
	}
	if s.TotalConsumption > 0 {
		s.CFEPercent = clampPct(s.TotalMatched / s.TotalConsumption * 100)
	}
	return s
}

// GenerateCertificate fabricates a certificate for the current day's
// summary, valid for one year.
func (m *Matching) GenerateCertificate() Certificate {
	s := m.Summary()
	now := m.clock.Now()
	return Certificate{
		ID:           "CFE-" + strings.ToUpper(uuid.NewString()[:8]),
		Day:          s.Day,
		CFEPercent:   s.CFEPercent,
		TotalMatched: s.TotalMatched,
		IssuedAt:     now,
		ExpiresAt:    now.AddDate(1, 0, 0),
	}
}
