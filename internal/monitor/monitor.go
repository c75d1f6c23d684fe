// Package monitor runs the polling loop: fetch the tracked event, evaluate
// price moves, and notify on alerts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/warometer/internal/detector"
	"github.com/rewired-gh/warometer/internal/logger"
	"github.com/rewired-gh/warometer/internal/models"
	"github.com/rewired-gh/warometer/internal/telegram"
)

// Source supplies the current markets of an event.
type Source interface {
	FetchMarkets(ctx context.Context, slug string) ([]models.Market, error)
}

// Notifier delivers messages. Delivery failures are reported as false, never as errors.
type Notifier interface {
	Configured() bool
	Deliver(ctx context.Context, text string) bool
	SendError(ctx context.Context, cycleErr error) bool
	SendRecovery(ctx context.Context, failureCount int) bool
}

// Journal records fetched markets and emitted alerts.
type Journal interface {
	UpsertMarkets(markets []models.Market) error
	AddAlert(alert *models.Alert) error
	MarkNotified(id string) error
}

type Config struct {
	EventSlug    string
	PollInterval time.Duration
}

type Monitor struct {
	source   Source
	detector *detector.Detector
	notifier Notifier
	journal  Journal
	config   Config
	now      func() time.Time

	consecutiveFailures int
}

// New creates a monitor. journal may be nil.
func New(source Source, det *detector.Detector, notifier Notifier, journal Journal, config Config) *Monitor {
	return &Monitor{
		source:   source,
		detector: det,
		notifier: notifier,
		journal:  journal,
		config:   config,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sends the startup notice, runs an initial cycle and then one cycle per
// poll interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	detCfg := m.detector.Config()
	logger.Info("Starting monitor (event: %s, interval: %v, threshold: %.0f%%, cooldown: %v)",
		m.config.EventSlug, m.config.PollInterval, detCfg.Threshold*100, detCfg.Cooldown)

	if m.notifier.Configured() {
		m.notifier.Deliver(ctx, telegram.FormatStartup(m.config.EventSlug, detCfg.Threshold, m.config.PollInterval))
	} else {
		logger.Warn("Telegram not configured - alerts will only be logged")
	}

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	logger.Debug("Running initial monitoring cycle")
	_, err := m.RunCycle(ctx, m.now())
	m.handleCycleResult(ctx, err)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Monitor stopped")
			return nil

		case <-ticker.C:
			logger.Debug("Starting scheduled monitoring cycle")
			_, err := m.RunCycle(ctx, m.now())
			m.handleCycleResult(ctx, err)
		}
	}
}

// RunCycle performs one fetch, evaluate and notify pass and returns the
// alerts that fired. A fetch failure yields no alerts and leaves detector
// state untouched.
func (m *Monitor) RunCycle(ctx context.Context, now time.Time) ([]models.Alert, error) {
	startTime := time.Now()

	markets, err := m.source.FetchMarkets(ctx, m.config.EventSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}
	if len(markets) == 0 {
		logger.Warn("No markets found for event: %s", m.config.EventSlug)
		return nil, nil
	}

	logger.Info("Fetched %d markets", len(markets))
	for i := range markets {
		logger.Debug("  - %s: YES=%.1f%%", markets[i].Question, markets[i].YesPercent())
	}

	if m.journal != nil {
		if err := m.journal.UpsertMarkets(markets); err != nil {
			logger.Warn("Failed to record markets: %v", err)
		}
	}

	alerts := m.detector.Evaluate(markets, now)

	for i := range alerts {
		alert := &alerts[i]
		message := telegram.FormatAlert(*alert)
		logger.Warn("Alert triggered: %s", message)

		if m.journal != nil {
			if err := m.journal.AddAlert(alert); err != nil {
				logger.Warn("Failed to journal alert for market %s: %v", alert.MarketID, err)
			}
		}

		if !m.notifier.Deliver(ctx, message) {
			continue
		}
		alert.Notified = true
		if m.journal != nil && alert.ID != "" {
			if err := m.journal.MarkNotified(alert.ID); err != nil {
				logger.Warn("Failed to mark alert %s notified: %v", alert.ID, err)
			}
		}
	}

	logger.Info("Monitoring cycle completed in %v (%d alerts)", time.Since(startTime), len(alerts))
	return alerts, nil
}

// handleCycleResult logs cycle failures and sends an error notice on the first
// failure of a run and a recovery notice on the first success after it.
func (m *Monitor) handleCycleResult(ctx context.Context, err error) {
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			logger.Debug("Monitoring cycle interrupted by shutdown")
			return
		}
		m.consecutiveFailures++
		logger.Error("Monitoring cycle failed: %v", err)
		if m.consecutiveFailures == 1 && m.notifier.Configured() {
			if !m.notifier.SendError(ctx, err) {
				logger.Warn("Failed to send error notification to Telegram")
			}
		}
		return
	}

	if m.consecutiveFailures > 0 {
		logger.Info("Monitoring recovered after %d consecutive failures", m.consecutiveFailures)
		if m.notifier.Configured() && !m.notifier.SendRecovery(ctx, m.consecutiveFailures) {
			logger.Warn("Failed to send recovery notification to Telegram")
		}
	}
	m.consecutiveFailures = 0
}
