// Package gps provides the vehicle position feed for the access
// ledger. Without real hardware the provider reports a fixed
// configured position.
package gps

import (
	"fmt"
	"sync"
	"time"

	"github.com/mkhumalo/drivelock/internal/models"
)

// historyWindow bounds the in-memory fix history.
const historyWindow = 100

// Provider yields the current vehicle position.
type Provider interface {
	Current() models.GPSFix
}

// Static reports a fixed position, the deployment's parking location.
type Static struct {
	Latitude  float64
	Longitude float64
	Address   string
}

func (s Static) Current() models.GPSFix {
	return models.GPSFix{
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Address:   s.Address,
		Timestamp: time.Now().UTC(),
	}
}

// Tracker records fixes and keeps a bounded recent window. The ledger
// carries the durable history; this window only feeds the stats view.
type Tracker struct {
	mu       sync.Mutex
	provider Provider
	recent   []models.GPSFix
}

// NewTracker wraps a provider with a recent-fix window.
func NewTracker(provider Provider) *Tracker {
	return &Tracker{provider: provider}
}

// Record captures the current fix and returns it.
func (t *Tracker) Record() models.GPSFix {
	fix := t.provider.Current()
	t.mu.Lock()
	t.recent = append(t.recent, fix)
	if len(t.recent) > historyWindow {
		t.recent = t.recent[len(t.recent)-historyWindow:]
	}
	t.mu.Unlock()
	return fix
}

// Recent returns a copy of the recent-fix window, oldest first.
func (t *Tracker) Recent() []models.GPSFix {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.GPSFix, len(t.recent))
	copy(out, t.recent)
	return out
}

// Format renders a fix as the location string stored on ledger
// entries.
func Format(fix models.GPSFix) string {
	if fix.Address != "" {
		return fix.Address
	}
	return fmt.Sprintf("%.4f,%.4f", fix.Latitude, fix.Longitude)
}
