package cfe

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/blockedge/carbonx/pkg/storage"
)

func newTestMatching(t *testing.T) (*Matching, *fakeClock, storage.Store) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
	store := storage.NewMemStore()
	return NewMatching(store, clock, zap.NewNop().Sugar()), clock, store
}

func TestProfileShape(t *testing.T) {
	m, _, _ := newTestMatching(t)

	p := m.Profile()
	if p.Day != "2026-08-25" {
		t.Errorf("day = %s, want 2026-08-25", p.Day)
	}
	if len(p.Hours) != 24 {
		t.Fatalf("hours = %d, want 24", len(p.Hours))
	}

	for i, h := range p.Hours {
		if h.Hour != i {
			t.Errorf("hour[%d].Hour = %d", i, h.Hour)
		}
		if h.Generation < 0 || h.Consumption <= 0 {
			t.Errorf("hour %d: generation %f / consumption %f", i, h.Generation, h.Consumption)
		}
		if h.Matched > h.Consumption || h.Matched > h.Generation {
			t.Errorf("hour %d: matched %f exceeds generation %f or consumption %f",
				i, h.Matched, h.Generation, h.Consumption)
		}
		if h.Percentage < 0 || h.Percentage > 100 {
			t.Errorf("hour %d: percentage %f outside [0,100]", i, h.Percentage)
		}
	}

	// Midday solar generation should beat the midnight hours.
	if p.Hours[12].Generation <= p.Hours[0].Generation {
		t.Errorf("noon generation %f not above midnight %f",
			p.Hours[12].Generation, p.Hours[0].Generation)
	}
}

func TestProfileStableWithinDay(t *testing.T) {
	m, clock, store := newTestMatching(t)

	first := m.Profile()
	second := m.Profile()
	if first.Hours[7] != second.Hours[7] {
		t.Error("profile changed between calls on the same day")
	}

	// A fresh instance over the same store reuses the cached blob.
	again := NewMatching(store, clock, zap.NewNop().Sugar())
	reloaded := again.Profile()
	if reloaded.Day != first.Day || reloaded.Hours[7] != first.Hours[7] {
		t.Error("cached profile not reused across instances")
	}
}

func TestProfileRegeneratesOnNewDay(t *testing.T) {
	m, clock, _ := newTestMatching(t)

	first := m.Profile()
	clock.advance(24 * time.Hour)
	second := m.Profile()

	if second.Day != "2026-08-26" {
		t.Errorf("day = %s, want 2026-08-26", second.Day)
	}
	if second.Day == first.Day {
		t.Error("profile day did not roll over")
	}
}

func TestCorruptCacheRegenerates(t *testing.T) {
	store := storage.NewMemStore()
	if err := store.Put(storage.KeyHourlyMatching, []byte(`[broken`)); err != nil {
		t.Fatalf("seed corrupt blob: %v", err)
	}

	clock := &fakeClock{now: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
	m := NewMatching(store, clock, zap.NewNop().Sugar())

	p := m.Profile()
	if len(p.Hours) != 24 {
		t.Fatalf("hours = %d, want regenerated 24", len(p.Hours))
	}
}

func TestSummaryTotals(t *testing.T) {
	m, _, _ := newTestMatching(t)

	p := m.Profile()
	s := m.Summary()

	var gen, cons, matched float64
	for _, h := range p.Hours {
		gen += h.Generation
		cons += h.Consumption
		matched += h.Matched
	}

	if s.TotalGeneration != gen || s.TotalConsumption != cons || s.TotalMatched != matched {
		t.Errorf("summary totals = %f/%f/%f, want %f/%f/%f",
			s.TotalGeneration, s.TotalConsumption, s.TotalMatched, gen, cons, matched)
	}
	if s.CFEPercent < 0 || s.CFEPercent > 100 {
		t.Errorf("cfe percent = %f outside [0,100]", s.CFEPercent)
	}
}

func TestGenerateCertificate(t *testing.T) {
	m, clock, _ := newTestMatching(t)

	cert := m.GenerateCertificate()

	if !strings.HasPrefix(cert.ID, "CFE-") || len(cert.ID) != len("CFE-")+8 {
		t.Errorf("id = %s, want CFE- prefix with 8 chars", cert.ID)
	}
	if cert.Day != "2026-08-25" {
		t.Errorf("day = %s, want 2026-08-25", cert.Day)
	}
	if !cert.IssuedAt.Equal(clock.now) {
		t.Errorf("issuedAt = %v, want %v", cert.IssuedAt, clock.now)
	}
	if !cert.ExpiresAt.Equal(clock.now.AddDate(1, 0, 0)) {
		t.Errorf("expiresAt = %v, want one year out", cert.ExpiresAt)
	}

	// IDs are unique per issuance.
	if again := m.GenerateCertificate(); again.ID == cert.ID {
		t.Error("certificate IDs should differ")
	}
}

func TestHourPercentageMatchesProfile(t *testing.T) {
	m, _, _ := newTestMatching(t)

	profile := m.Profile()
	for _, h := range profile.Hours {
		if got := m.HourPercentage(h.Hour); got != h.Percentage {
			t.Errorf("hour %d: got %f, want %f", h.Hour, got, h.Percentage)
		}
	}

	if got := m.HourPercentage(-1); got != 0 {
		t.Errorf("hour -1: got %f, want 0", got)
	}
	if got := m.HourPercentage(24); got != 0 {
		t.Errorf("hour 24: got %f, want 0", got)
	}
}
