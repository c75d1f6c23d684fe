package models

import (
	"errors"
	"math"
	"time"
)

// MarketSnapshot is one market's observed prices at one polling cycle.
type MarketSnapshot struct {
	MarketID  string    `json:"market_id"`
	Question  string    `json:"question"`
	YesPrice  float64   `json:"yes_price"`
	NoPrice   float64   `json:"no_price"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertKind is the direction of an alerted price move.
type AlertKind string

const (
	AlertSpike AlertKind = "spike"
	AlertDrop  AlertKind = "drop"
)

// Label returns the human-readable direction used in notifications.
func (k AlertKind) Label() string {
	if k == AlertSpike {
		return "UP"
	}
	return "DOWN"
}

// Alert is an emitted irregularity notice for a single market.
// ID and Notified are journal bookkeeping; the detector leaves them zero.
type Alert struct {
	ID        string    `json:"id,omitempty"`
	MarketID  string    `json:"market_id"`
	Question  string    `json:"question"`
	Kind      AlertKind `json:"kind"`
	OldPrice  float64   `json:"old_price"`
	NewPrice  float64   `json:"new_price"`
	Change    float64   `json:"change"`
	Timestamp time.Time `json:"timestamp"`
	Notified  bool      `json:"notified"`
}

// Validate checks that the alert is internally consistent.
func (a *Alert) Validate() error {
	if a.MarketID == "" {
		return errors.New("market ID must not be empty")
	}
	if a.Kind != AlertSpike && a.Kind != AlertDrop {
		return errors.New("kind must be 'spike' or 'drop'")
	}
	if math.Abs(a.Change-(a.NewPrice-a.OldPrice)) > 1e-9 {
		return errors.New("change must equal new_price - old_price")
	}
	if (a.Kind == AlertSpike) != (a.Change > 0) {
		return errors.New("kind does not match the sign of change")
	}
	if a.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	return nil
}
