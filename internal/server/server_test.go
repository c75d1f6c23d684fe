package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rewired-gh/warometer/internal/detector"
	"github.com/rewired-gh/warometer/internal/models"
	"github.com/rewired-gh/warometer/internal/storage"
)

type fakeJournal struct {
	alerts  []models.Alert
	markets []models.Market
	err     error
	limit   int
}

func (f *fakeJournal) RecentAlerts(k int) ([]models.Alert, error) {
	f.limit = k
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.alerts) {
		return f.alerts[:k], nil
	}
	return f.alerts, nil
}

func (f *fakeJournal) GetAllMarkets() ([]models.Market, error) {
	return f.markets, f.err
}

func (f *fakeJournal) GetMarket(id string) (*models.Market, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.markets {
		if f.markets[i].ID == id {
			return &f.markets[i], nil
		}
	}
	return nil, fmt.Errorf("market %s: %w", id, storage.ErrNotFound)
}

func newDetector(t *testing.T) *detector.Detector {
	t.Helper()
	d := detector.New(detector.Config{Threshold: 0.05, Cooldown: 300 * time.Second})
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	d.Evaluate([]models.Market{{ID: "253591", Question: "US strikes Iran by June 30?", YesPrice: 0.625}}, at)
	return d
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
}

func TestHealth(t *testing.T) {
	s := New(":0", newDetector(t), nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestStatus(t *testing.T) {
	s := New(":0", newDetector(t), nil)
	rec := do(t, s.Handler(), http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var status detector.Status
	decode(t, rec, &status)
	if status.TrackedMarkets != 1 {
		t.Errorf("TrackedMarkets = %d, want 1", status.TrackedMarkets)
	}
	if status.Threshold != 0.05 || status.CooldownSeconds != 300 {
		t.Errorf("unexpected config in status: %+v", status)
	}
	m, ok := status.Markets["253591"]
	if !ok {
		t.Fatalf("market missing from status: %+v", status.Markets)
	}
	if m.YesPrice != "62.5%" || m.Question != "US strikes Iran by June 30?" {
		t.Errorf("unexpected market status %+v", m)
	}
}

func TestAlerts(t *testing.T) {
	at := time.Date(2026, 6, 1, 12, 1, 0, 0, time.UTC)
	journal := &fakeJournal{alerts: []models.Alert{
		{ID: "b", MarketID: "m2", Kind: models.AlertDrop, OldPrice: 0.5, NewPrice: 0.375, Change: -0.125, Timestamp: at},
		{ID: "a", MarketID: "m1", Kind: models.AlertSpike, OldPrice: 0.5, NewPrice: 0.625, Change: 0.125, Timestamp: at, Notified: true},
	}}
	s := New(":0", newDetector(t), journal)

	tests := []struct {
		target     string
		wantStatus int
		wantCount  int
		wantLimit  int
	}{
		{"/alerts", http.StatusOK, 2, defaultAlertLimit},
		{"/alerts?limit=1", http.StatusOK, 1, 1},
		{"/alerts?limit=0", http.StatusBadRequest, 0, 0},
		{"/alerts?limit=abc", http.StatusBadRequest, 0, 0},
		{fmt.Sprintf("/alerts?limit=%d", maxAlertLimit+1), http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			journal.limit = 0
			rec := do(t, s.Handler(), http.MethodGet, tt.target)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var body struct {
				Alerts []models.Alert `json:"alerts"`
				Count  int           `json:"count"`
			}
			decode(t, rec, &body)
			if body.Count != tt.wantCount || len(body.Alerts) != tt.wantCount {
				t.Errorf("count = %d (%d alerts), want %d", body.Count, len(body.Alerts), tt.wantCount)
			}
			if journal.limit != tt.wantLimit {
				t.Errorf("journal queried with limit %d, want %d", journal.limit, tt.wantLimit)
			}
			if body.Alerts[0].ID != "b" || body.Alerts[0].Kind != models.AlertDrop {
				t.Errorf("unexpected first alert %+v", body.Alerts[0])
			}
		})
	}
}

func TestMarkets(t *testing.T) {
	journal := &fakeJournal{markets: []models.Market{
		{ID: "253591", Question: "US strikes Iran by June 30?", YesPrice: 0.625, NoPrice: 0.375, Active: true},
	}}
	s := New(":0", newDetector(t), journal)

	rec := do(t, s.Handler(), http.MethodGet, "/markets")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Markets []models.Market `json:"markets"`
		Count   int             `json:"count"`
	}
	decode(t, rec, &body)
	if body.Count != 1 || body.Markets[0].YesPrice != 0.625 {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestMarketByID(t *testing.T) {
	journal := &fakeJournal{markets: []models.Market{
		{ID: "253591", Question: "US strikes Iran by June 30?", YesPrice: 0.625, NoPrice: 0.375, Active: true},
	}}
	s := New(":0", newDetector(t), journal)

	rec := do(t, s.Handler(), http.MethodGet, "/markets/253591")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var m models.Market
	decode(t, rec, &m)
	if m.ID != "253591" || m.YesPrice != 0.625 {
		t.Errorf("unexpected market %+v", m)
	}

	if rec := do(t, s.Handler(), http.MethodGet, "/markets/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown market: status = %d, want 404", rec.Code)
	}
}

func TestMarketByID_RealJournal(t *testing.T) {
	store, err := storage.New(10, ":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer store.Close()

	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := store.UpsertMarkets([]models.Market{{ID: "1", Question: "q", YesPrice: 0.25, NoPrice: 0.75, FetchedAt: at}}); err != nil {
		t.Fatalf("UpsertMarkets: %v", err)
	}

	s := New(":0", newDetector(t), store)
	if rec := do(t, s.Handler(), http.MethodGet, "/markets/1"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec := do(t, s.Handler(), http.MethodGet, "/markets/2"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestJournalErrors(t *testing.T) {
	noJournal := New(":0", newDetector(t), nil)
	for _, target := range []string{"/alerts", "/markets", "/markets/1"} {
		if rec := do(t, noJournal.Handler(), http.MethodGet, target); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s without journal: status = %d, want 503", target, rec.Code)
		}
	}

	broken := New(":0", newDetector(t), &fakeJournal{err: errors.New("disk I/O error")})
	for _, target := range []string{"/alerts", "/markets", "/markets/1"} {
		rec := do(t, broken.Handler(), http.MethodGet, target)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("%s with failing journal: status = %d, want 500", target, rec.Code)
		}
		var body map[string]string
		decode(t, rec, &body)
		if body["error"] == "" {
			t.Errorf("%s: expected error message", target)
		}
	}
}

func TestRouting(t *testing.T) {
	s := New(":0", newDetector(t), nil)
	if rec := do(t, s.Handler(), http.MethodPost, "/status"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /status = %d, want 405", rec.Code)
	}
	if rec := do(t, s.Handler(), http.MethodGet, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", rec.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	s := New("127.0.0.1:0", newDetector(t), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestStart_BadAddress(t *testing.T) {
	s := New("256.0.0.1:bad", newDetector(t), nil)
	if err := s.Start(); err == nil {
		t.Error("expected error for invalid listen address")
	}
}
