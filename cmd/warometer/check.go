package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/warometer/internal/models"
)

const testMessage = "Test message from War-O-Meter\n\nIf you see this, Telegram alerts are working!"

var errCheckFailed = errors.New("component check failed")

type checkResult int

const (
	checkSkipped checkResult = iota
	checkOK
	checkFailed
)

func (r checkResult) String() string {
	switch r {
	case checkOK:
		return "OK"
	case checkFailed:
		return "FAILED"
	default:
		return "SKIPPED (not configured)"
	}
}

type eventFetcher interface {
	FetchEvent(ctx context.Context, slug string) (*models.Event, error)
}

type messageSender interface {
	Configured() bool
	Deliver(ctx context.Context, text string) bool
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the Polymarket API and Telegram delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			polyClient := newPolymarketClient(cfg)
			defer polyClient.Close()

			return runChecks(cmd.Context(), cmd.OutOrStdout(), polyClient, newTelegramClient(cfg), cfg.Polymarket.EventSlug, cfg.Telegram.ChatID)
		},
	}
}

// runChecks runs both component checks concurrently and prints their reports
// in a fixed order followed by a summary. A skipped Telegram check is not a
// failure.
func runChecks(ctx context.Context, w io.Writer, events eventFetcher, sender messageSender, slug, chatID string) error {
	var polyOut, tgOut bytes.Buffer
	var polyResult, tgResult checkResult

	// A plain Group: one failing check must not cancel the other.
	var g errgroup.Group
	g.Go(func() error {
		polyResult = checkPolymarket(ctx, &polyOut, events, slug)
		if polyResult != checkOK {
			return fmt.Errorf("polymarket: %w", errCheckFailed)
		}
		return nil
	})
	g.Go(func() error {
		tgResult = checkTelegram(ctx, &tgOut, sender, chatID)
		if tgResult == checkFailed {
			return fmt.Errorf("telegram: %w", errCheckFailed)
		}
		return nil
	})
	err := g.Wait()

	rule := strings.Repeat("=", 50)
	fmt.Fprintf(w, "\nWar-O-Meter Component Test\n%s\n\n", rule)
	_, _ = polyOut.WriteTo(w)
	fmt.Fprintln(w)
	_, _ = tgOut.WriteTo(w)
	fmt.Fprintln(w)

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Polymarket API: %s\n", polyResult)
	fmt.Fprintf(w, "  Telegram Bot:   %s\n", tgResult)
	fmt.Fprintln(w, rule)

	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nReady to run: warometer run")
	return nil
}

func checkPolymarket(ctx context.Context, w io.Writer, events eventFetcher, slug string) checkResult {
	rule := strings.Repeat("=", 50)
	fmt.Fprintf(w, "%s\nTesting Polymarket API...\nEvent slug: %s\n%s\n", rule, slug, strings.Repeat("-", 50))

	event, err := events.FetchEvent(ctx, slug)
	if err != nil {
		fmt.Fprintf(w, "ERROR: %v\n", err)
		return checkFailed
	}
	if event == nil {
		fmt.Fprintln(w, "WARNING: No events found for this slug")
		return checkFailed
	}
	if len(event.Markets) == 0 {
		fmt.Fprintln(w, "WARNING: No markets found for this event")
		return checkFailed
	}

	fmt.Fprintf(w, "Event: %s\n", event.Title)
	fmt.Fprintf(w, "Volume: %s\n", dollars(event.Volume))
	fmt.Fprintf(w, "Liquidity: %s\n\n", dollars(event.Liquidity))

	fmt.Fprintf(w, "Found %d market(s):\n\n", len(event.Markets))
	for i := range event.Markets {
		m := &event.Markets[i]
		fmt.Fprintf(w, "  Market: %s\n", m.Question)
		fmt.Fprintf(w, "  YES: %.1f%%\n", m.YesPercent())
		fmt.Fprintf(w, "  NO:  %.1f%%\n", m.NoPercent())
		fmt.Fprintf(w, "  Volume: %s\n", dollars(m.Volume))
		fmt.Fprintf(w, "  Active: %t\n\n", m.Active)
	}

	fmt.Fprintln(w, "Polymarket API: OK")
	return checkOK
}

func checkTelegram(ctx context.Context, w io.Writer, sender messageSender, chatID string) checkResult {
	fmt.Fprintf(w, "%s\nTesting Telegram Bot...\n%s\n", strings.Repeat("=", 50), strings.Repeat("-", 50))

	if !sender.Configured() {
		fmt.Fprintln(w, "SKIP: bot token or chat ID not configured")
		return checkSkipped
	}

	fmt.Fprintf(w, "Chat ID: %s\n", chatID)
	if !sender.Deliver(ctx, testMessage) {
		fmt.Fprintln(w, "Telegram Bot: FAILED")
		return checkFailed
	}
	fmt.Fprintln(w, "Telegram Bot: OK - Check your Telegram!")
	return checkOK
}

func dollars(v float64) string {
	return "$" + humanize.Comma(int64(math.Round(v)))
}
