// Package server exposes a read-only HTTP view of the monitor: health,
// detector status, recent alerts and the latest market prices.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rewired-gh/warometer/internal/detector"
	"github.com/rewired-gh/warometer/internal/logger"
	"github.com/rewired-gh/warometer/internal/models"
	"github.com/rewired-gh/warometer/internal/storage"
)

const (
	defaultAlertLimit = 20
	maxAlertLimit     = 500
)

// StatusProvider exposes the detector state.
type StatusProvider interface {
	Status() detector.Status
}

// Journal is the read side of the alert journal.
type Journal interface {
	RecentAlerts(k int) ([]models.Alert, error)
	GetAllMarkets() ([]models.Market, error)
	GetMarket(id string) (*models.Market, error)
}

type Server struct {
	status  StatusProvider
	journal Journal
	srv     *http.Server
	started time.Time
}

// New creates a status server. journal may be nil, in which case the journal
// endpoints answer 503.
func New(addr string, status StatusProvider, journal Journal) *Server {
	s := &Server{
		status:  status,
		journal: journal,
		started: time.Now().UTC(),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler wrapped with CORS, access logging and
// panic recovery.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/alerts", s.getAlerts).Methods(http.MethodGet)
	r.HandleFunc("/markets", s.getMarkets).Methods(http.MethodGet)
	r.HandleFunc("/markets/{id}", s.getMarket).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.RecoveryHandler()(handlers.LoggingHandler(logger.Writer(), cors(r)))
}

// Start binds the listen address and serves in the background. Bind errors
// are returned immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	logger.Info("Status server listening on %s", ln.Addr())

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server stopped: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) getAlerts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeErr(w, http.StatusServiceUnavailable, "alert journal disabled")
		return
	}

	limit := defaultAlertLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAlertLimit {
			writeErr(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxAlertLimit))
			return
		}
		limit = n
	}

	alerts, err := s.journal.RecentAlerts(limit)
	if err != nil {
		logger.Error("Failed to read alerts: %v", err)
		writeErr(w, http.StatusInternalServerError, "failed to read alerts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) getMarkets(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeErr(w, http.StatusServiceUnavailable, "alert journal disabled")
		return
	}

	markets, err := s.journal.GetAllMarkets()
	if err != nil {
		logger.Error("Failed to read markets: %v", err)
		writeErr(w, http.StatusInternalServerError, "failed to read markets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets, "count": len(markets)})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeErr(w, http.StatusServiceUnavailable, "alert journal disabled")
		return
	}

	id := mux.Vars(r)["id"]
	market, err := s.journal.GetMarket(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, http.StatusNotFound, fmt.Sprintf("market %s not found", id))
		return
	}
	if err != nil {
		logger.Error("Failed to read market %s: %v", id, err)
		writeErr(w, http.StatusInternalServerError, "failed to read market")
		return
	}
	writeJSON(w, http.StatusOK, market)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
