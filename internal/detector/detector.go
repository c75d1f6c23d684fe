// Package detector tracks per-market price history across polling cycles and
// decides when a YES-price move is large enough to alert on.
package detector

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rewired-gh/warometer/internal/models"
)

// Config holds the detection parameters.
type Config struct {
	Threshold float64
	Cooldown  time.Duration
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Threshold: 0.05,
		Cooldown:  300 * time.Second,
	}
}

// Detector holds the most recent snapshot and the last alert time per market.
// Entries are never evicted.
//
// Evaluate must not be called concurrently; the lock only makes Status safe to
// call from other goroutines while a cycle is running.
type Detector struct {
	mu        sync.RWMutex
	config    Config
	history   map[string]models.MarketSnapshot
	lastAlert map[string]time.Time
}

// New creates a detector with empty state.
func New(config Config) *Detector {
	return &Detector{
		config:    config,
		history:   make(map[string]models.MarketSnapshot),
		lastAlert: make(map[string]time.Time),
	}
}

// Config returns the detection parameters.
func (d *Detector) Config() Config {
	return d.config
}

// Evaluate compares each market against its previous snapshot and returns the
// alerts that fired, in input order.
func (d *Detector) Evaluate(markets []models.Market, now time.Time) []models.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	var alerts []models.Alert
	for i := range markets {
		if alert, ok := d.check(&markets[i], now); ok {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

func (d *Detector) check(market *models.Market, now time.Time) (models.Alert, bool) {
	previous, seen := d.history[market.ID]

	// Overwritten unconditionally, suppressed or not.
	d.history[market.ID] = models.MarketSnapshot{
		MarketID:  market.ID,
		Question:  market.Question,
		YesPrice:  market.YesPrice,
		NoPrice:   market.NoPrice,
		Timestamp: now,
	}

	if !seen {
		return models.Alert{}, false
	}

	if last, ok := d.lastAlert[market.ID]; ok && now.Sub(last) < d.config.Cooldown {
		return models.Alert{}, false
	}

	delta := market.YesPrice - previous.YesPrice
	// Written as a negated >= so a NaN delta never alerts.
	if !(math.Abs(delta) >= d.config.Threshold) {
		return models.Alert{}, false
	}

	kind := models.AlertDrop
	if delta > 0 {
		kind = models.AlertSpike
	}

	d.lastAlert[market.ID] = now
	return models.Alert{
		MarketID:  market.ID,
		Question:  market.Question,
		Kind:      kind,
		OldPrice:  previous.YesPrice,
		NewPrice:  market.YesPrice,
		Change:    delta,
		Timestamp: now,
	}, true
}

// Snapshot returns the retained snapshot for a market.
func (d *Detector) Snapshot(marketID string) (models.MarketSnapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap, ok := d.history[marketID]
	return snap, ok
}

// LastAlert returns when the market last alerted.
func (d *Detector) LastAlert(marketID string) (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.lastAlert[marketID]
	return t, ok
}

// MarketStatus summarizes one tracked market.
type MarketStatus struct {
	Question   string    `json:"question"`
	YesPrice   string    `json:"yes_price"`
	LastUpdate time.Time `json:"last_update"`
}

// Status is a read-only view of the detector for diagnostics.
type Status struct {
	TrackedMarkets  int                     `json:"tracked_markets"`
	Threshold       float64                 `json:"threshold"`
	CooldownSeconds float64                 `json:"cooldown_seconds"`
	Markets         map[string]MarketStatus `json:"markets"`
}

// Status reports the current tracked state without modifying it.
func (d *Detector) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	markets := make(map[string]MarketStatus, len(d.history))
	for id, snap := range d.history {
		markets[id] = MarketStatus{
			Question:   snap.Question,
			YesPrice:   fmt.Sprintf("%.1f%%", snap.YesPrice*100),
			LastUpdate: snap.Timestamp,
		}
	}

	return Status{
		TrackedMarkets:  len(d.history),
		Threshold:       d.config.Threshold,
		CooldownSeconds: d.config.Cooldown.Seconds(),
		Markets:         markets,
	}
}
