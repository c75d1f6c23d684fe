// Package polymarket fetches event and market prices from the Polymarket Gamma API.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/warometer/internal/models"
)

// ClientConfig holds HTTP client tuning for the Gamma API.
type ClientConfig struct {
	Timeout             time.Duration
	MaxRetries          int
	RetryDelayBase      time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// APIError is returned when the Gamma API answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gamma API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("gamma API returned status %d: %s", e.StatusCode, e.Body)
}

// Client provides access to the Polymarket Gamma API
type Client struct {
	gammaAPIURL    string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// GammaEvent represents an event from the Gamma API
type GammaEvent struct {
	ID          flexString    `json:"id"`
	Title       string        `json:"title"`
	Slug        string        `json:"slug"`
	Description string        `json:"description"`
	Volume      flexFloat     `json:"volume"`
	Liquidity   flexFloat     `json:"liquidity"`
	StartDate   string        `json:"startDate"`
	EndDate     string        `json:"endDate"`
	Markets     []GammaMarket `json:"markets"`
}

// GammaMarket represents a market from the Gamma API
type GammaMarket struct {
	ID            flexString      `json:"id"`
	Question      string          `json:"question"`
	OutcomePrices json.RawMessage `json:"outcomePrices"` // JSON string "[\"0.75\", \"0.25\"]" or an array
	Volume        flexFloat       `json:"volume"`
	Liquidity     flexFloat       `json:"liquidity"`
	EndDate       string          `json:"endDate"`
	Active        bool            `json:"active"`
	Closed        bool            `json:"closed"`
}

// NewClient creates a new Gamma API client
func NewClient(gammaAPIURL string, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}

	return &Client{
		gammaAPIURL: strings.TrimRight(gammaAPIURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

// Close releases idle connections held by the client.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// FetchEvent retrieves the event with the given slug. It returns nil and no
// error when the API knows no such event.
func (c *Client) FetchEvent(ctx context.Context, slug string) (*models.Event, error) {
	u, err := url.Parse(c.gammaAPIURL + "/events")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("slug", slug)
	u.RawQuery = q.Encode()

	body, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch event %s: %w", slug, err)
	}

	// Response is array directly, not wrapped
	var events []GammaEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	event := convertEvent(events[0], time.Now().UTC())
	return &event, nil
}

// FetchMarkets returns every market of the event with the given slug. An
// unknown event yields an empty slice.
func (c *Client) FetchMarkets(ctx context.Context, slug string) ([]models.Market, error) {
	event, err := c.FetchEvent(ctx, slug)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return []models.Market{}, nil
	}
	return event.Markets, nil
}

func convertEvent(ge GammaEvent, fetchedAt time.Time) models.Event {
	markets := make([]models.Market, 0, len(ge.Markets))
	for _, gm := range ge.Markets {
		yes, no := parseOutcomePrices(gm.OutcomePrices)
		markets = append(markets, models.Market{
			ID:        string(gm.ID),
			Question:  gm.Question,
			YesPrice:  yes,
			NoPrice:   no,
			Volume:    float64(gm.Volume),
			Liquidity: float64(gm.Liquidity),
			EndDate:   gm.EndDate,
			Active:    gm.Active,
			Closed:    gm.Closed,
			FetchedAt: fetchedAt,
		})
	}

	return models.Event{
		ID:          string(ge.ID),
		Title:       ge.Title,
		Slug:        ge.Slug,
		Description: ge.Description,
		Markets:     markets,
		Volume:      float64(ge.Volume),
		Liquidity:   float64(ge.Liquidity),
		StartDate:   ge.StartDate,
		EndDate:     ge.EndDate,
	}
}

// parseOutcomePrices extracts the YES and NO prices. Anything malformed or
// shorter than two entries yields 0, 0.
func parseOutcomePrices(raw json.RawMessage) (float64, float64) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, 0
	}

	// Usually a JSON-encoded string holding the array
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return 0, 0
		}
		raw = []byte(inner)
	}

	var prices []flexFloat
	if err := json.Unmarshal(raw, &prices); err != nil || len(prices) < 2 {
		return 0, 0
	}
	return float64(prices[0]), float64(prices[1])
}

// doRequest performs a GET with retry on network errors and 5xx responses.
// 4xx responses are returned immediately as *APIError.
func (c *Client) doRequest(ctx context.Context, urlStr string) ([]byte, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = &APIError{StatusCode: resp.StatusCode, Body: excerpt(body)}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{StatusCode: resp.StatusCode, Body: excerpt(body)}
		}
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response: %w", readErr)
			continue
		}

		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func excerpt(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

// flexFloat accepts a JSON number, a numeric string, an empty string or null.
// Non-finite values decode as 0.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			*f = 0
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	// NaN and Inf are treated like any other malformed value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	*f = flexFloat(v)
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return errors.New("id must be a string or number")
	}
	*s = flexString(num.String())
	return nil
}
