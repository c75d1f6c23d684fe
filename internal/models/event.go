// Package models defines the core domain entities: events, markets, snapshots and alerts.
//
// Terminology (matching Polymarket's own naming):
//   - Event: a Polymarket event page, which groups one or more related markets.
//   - Market: a single yes/no question within an event. This is the unit we track.
package models

import (
	"errors"
	"time"
)

// Market is the latest state of one yes/no market as reported by the Gamma API.
// Missing or malformed prices arrive here already normalized to 0.
type Market struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	YesPrice  float64   `json:"yes_price"`
	NoPrice   float64   `json:"no_price"`
	Volume    float64   `json:"volume"`
	Liquidity float64   `json:"liquidity"`
	EndDate   string    `json:"end_date,omitempty"`
	Active    bool      `json:"active"`
	Closed    bool      `json:"closed"`
	FetchedAt time.Time `json:"fetched_at"`
}

// YesPercent returns the YES price as a percentage.
func (m *Market) YesPercent() float64 {
	return m.YesPrice * 100
}

// NoPercent returns the NO price as a percentage.
func (m *Market) NoPercent() float64 {
	return m.NoPrice * 100
}

// Validate checks market field constraints that the source can guarantee.
// Prices are deliberately not range-checked: upstream data may be malformed.
func (m *Market) Validate() error {
	if m.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if m.Volume < 0 {
		return errors.New("volume must not be negative")
	}
	if m.Liquidity < 0 {
		return errors.New("liquidity must not be negative")
	}
	return nil
}

// Event is a Polymarket event page and the markets it groups.
type Event struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Slug        string   `json:"slug"`
	Description string   `json:"description,omitempty"`
	Markets     []Market `json:"markets"`
	Volume      float64  `json:"volume"`
	Liquidity   float64  `json:"liquidity"`
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
}
