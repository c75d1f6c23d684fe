// Package storage provides a SQLite-backed journal of fetched markets and
// emitted alerts. It is write-mostly: the detector never reloads from it.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/warometer/internal/logger"
	"github.com/rewired-gh/warometer/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage wraps a SQLite database for the journal.
type Storage struct {
	db        *sql.DB
	maxAlerts int
}

// New opens or creates the SQLite database at dbPath. An empty dbPath or
// ":memory:" keeps everything in memory for the life of the process.
func New(maxAlerts int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	if !isMemory(dbPath) {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer; also pins the one connection an in-memory database lives on
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if maxAlerts <= 0 {
		maxAlerts = 500
	}
	s := &Storage{db: db, maxAlerts: maxAlerts}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.HasPrefix(dbPath, "file::memory:")
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS markets (
			id          TEXT PRIMARY KEY,
			question    TEXT NOT NULL,
			yes_price   REAL NOT NULL,
			no_price    REAL NOT NULL,
			volume      REAL NOT NULL DEFAULT 0,
			liquidity   REAL NOT NULL DEFAULT 0,
			end_date    TEXT,
			active      INTEGER NOT NULL DEFAULT 0,
			closed      INTEGER NOT NULL DEFAULT 0,
			fetched_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id          TEXT PRIMARY KEY,
			market_id   TEXT NOT NULL,
			question    TEXT NOT NULL,
			kind        TEXT NOT NULL,
			old_price   REAL NOT NULL,
			new_price   REAL NOT NULL,
			price_change REAL NOT NULL,
			detected_at INTEGER NOT NULL,
			notified    INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON alerts(detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_market_id ON alerts(market_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertMarkets records the latest observation of each market in one transaction.
// Markets that fail validation are skipped with a warning.
func (s *Storage) UpsertMarkets(markets []models.Market) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO markets
			(id, question, yes_price, no_price, volume, liquidity, end_date, active, closed, fetched_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			question=excluded.question, yes_price=excluded.yes_price, no_price=excluded.no_price,
			volume=excluded.volume, liquidity=excluded.liquidity, end_date=excluded.end_date,
			active=excluded.active, closed=excluded.closed, fetched_at=excluded.fetched_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range markets {
		m := &markets[i]
		if err := m.Validate(); err != nil {
			logger.Warn("Skipping invalid market %q: %v", m.ID, err)
			continue
		}
		if _, err := stmt.Exec(
			m.ID, m.Question, m.YesPrice, m.NoPrice, m.Volume, m.Liquidity, m.EndDate,
			boolToInt(m.Active), boolToInt(m.Closed), m.FetchedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to upsert market %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// GetMarket returns the latest recorded observation of one market.
func (s *Storage) GetMarket(id string) (*models.Market, error) {
	row := s.db.QueryRow(`SELECT `+marketCols+` FROM markets WHERE id = ?`, id)
	m, err := scanMarket(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get market: %w", err)
	}
	return m, nil
}

// GetAllMarkets returns every recorded market ordered by question.
func (s *Storage) GetAllMarkets() ([]models.Market, error) {
	rows, err := s.db.Query(`SELECT ` + marketCols + ` FROM markets ORDER BY question, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query markets: %w", err)
	}
	defer rows.Close()

	markets := []models.Market{}
	for rows.Next() {
		m, err := scanMarket(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

// AddAlert journals an alert, assigning it an ID when it has none, and drops
// the oldest alerts beyond the configured cap.
func (s *Storage) AddAlert(alert *models.Alert) error {
	if err := alert.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO alerts
			(id, market_id, question, kind, old_price, new_price, price_change, detected_at, notified)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		alert.ID, alert.MarketID, alert.Question, string(alert.Kind),
		alert.OldPrice, alert.NewPrice, alert.Change,
		alert.Timestamp.UnixNano(), boolToInt(alert.Notified),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	if err := rotateAlerts(tx, s.maxAlerts); err != nil {
		return err
	}

	return tx.Commit()
}

// MarkNotified flags a journaled alert as delivered.
func (s *Storage) MarkNotified(id string) error {
	res, err := s.db.Exec(`UPDATE alerts SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark alert notified: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecentAlerts returns up to k alerts, newest first.
func (s *Storage) RecentAlerts(k int) ([]models.Alert, error) {
	rows, err := s.db.Query(`
		SELECT id, market_id, question, kind, old_price, new_price, price_change, detected_at, notified
		FROM alerts ORDER BY detected_at DESC, rowid DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		var a models.Alert
		var kind string
		var detectedAtNano int64
		var notified int

		err := rows.Scan(
			&a.ID, &a.MarketID, &a.Question, &kind,
			&a.OldPrice, &a.NewPrice, &a.Change,
			&detectedAtNano, &notified,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		a.Kind = models.AlertKind(kind)
		a.Timestamp = time.Unix(0, detectedAtNano).UTC()
		a.Notified = notified != 0
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// CountAlerts returns the number of journaled alerts.
func (s *Storage) CountAlerts() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

// RotateAlerts keeps at most maxAlerts newest alerts by detected_at.
func (s *Storage) RotateAlerts() error {
	return rotateAlerts(s.db, s.maxAlerts)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func rotateAlerts(db execer, maxAlerts int) error {
	_, err := db.Exec(`
		DELETE FROM alerts WHERE id NOT IN (
			SELECT id FROM alerts ORDER BY detected_at DESC, rowid DESC LIMIT ?
		)`, maxAlerts)
	if err != nil {
		return fmt.Errorf("failed to rotate alerts: %w", err)
	}
	return nil
}

const marketCols = `id, question, yes_price, no_price, volume, liquidity, end_date, active, closed, fetched_at`

func scanMarket(scan func(...any) error) (*models.Market, error) {
	var m models.Market
	var endDate sql.NullString
	var active, closed int
	var fetchedAtNano int64
	err := scan(
		&m.ID, &m.Question, &m.YesPrice, &m.NoPrice, &m.Volume, &m.Liquidity,
		&endDate, &active, &closed, &fetchedAtNano,
	)
	if err != nil {
		return nil, err
	}
	m.EndDate = endDate.String
	m.Active = active != 0
	m.Closed = closed != 0
	m.FetchedAt = time.Unix(0, fetchedAtNano).UTC()
	return &m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
