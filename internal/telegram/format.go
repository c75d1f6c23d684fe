package telegram

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/warometer/internal/detector"
	"github.com/rewired-gh/warometer/internal/models"
)

// severeChange is the absolute YES-price move above which an alert is marked severe.
const severeChange = 0.10

// FormatAlert renders an alert as a plain-text notification.
func FormatAlert(a models.Alert) string {
	marker := "⚠️"
	if math.Abs(a.Change) > severeChange {
		marker = "🚨"
	}

	return fmt.Sprintf("%s ALERT: Price %s\n\nMarket: %s\nOld: %.1f%% -> New: %.1f%%\nChange: %+.1f%%\nTime: %s",
		marker,
		a.Kind.Label(),
		a.Question,
		a.OldPrice*100,
		a.NewPrice*100,
		a.Change*100,
		a.Timestamp.UTC().Format("2006-01-02 15:04:05")+" UTC",
	)
}

// FormatStartup renders the plain-text "monitor started" notice.
func FormatStartup(slug string, threshold float64, interval time.Duration) string {
	return fmt.Sprintf("🔔 War-O-Meter Started\n\nMonitoring: %s\nThreshold: %.0f%%\nPoll interval: %ds",
		slug, threshold*100, int(interval.Seconds()))
}

// FormatError renders a MarkdownV2 monitoring error notice.
func FormatError(err error) string {
	return fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(err.Error()))
}

// FormatRecovery renders a MarkdownV2 recovery notice.
func FormatRecovery(failureCount int) string {
	return fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
}

// FormatStatus renders the detector status as a MarkdownV2 message, markets
// sorted by question.
func FormatStatus(s detector.Status) string {
	var b strings.Builder
	b.WriteString("📊 *Monitor status*\n\n")
	fmt.Fprintf(&b, "Tracked markets: %d\n", s.TrackedMarkets)
	fmt.Fprintf(&b, "Threshold: %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f%%", s.Threshold*100)))
	fmt.Fprintf(&b, "Cooldown: %ds\n", int(s.CooldownSeconds))

	ids := make([]string, 0, len(s.Markets))
	for id := range s.Markets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		qi, qj := s.Markets[ids[i]].Question, s.Markets[ids[j]].Question
		if qi != qj {
			return qi < qj
		}
		return ids[i] < ids[j]
	})

	if len(ids) > 0 {
		b.WriteString("\n")
	}
	for _, id := range ids {
		m := s.Markets[id]
		fmt.Fprintf(&b, "• %s: *%s*\n", escapeMarkdownV2(m.Question), escapeMarkdownV2(m.YesPrice))
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
