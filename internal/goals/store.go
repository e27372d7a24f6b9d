// Package goals owns the goal table and the study engine that works
// through pending goals one at a time.
package goals

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/normanking/alpha/internal/fault"
)

// Goal statuses and sources.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"

	SourceReflection  = "reflection"
	SourceInteraction = "interaction"
	SourceResearch    = "autonomous_research"
	SourceArchitect   = "architect"
)

// Goal is one row of the goal table.
type Goal struct {
	ID          string
	Description string
	CreatedAt   time.Time
	Priority    int
	Status      string
	Progress    float64
	Source      string
	Metrics     map[string]any
	CompletedAt *time.Time
}

// Store is the SQL-backed goal table.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the goal database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fault.New(fault.StorageError, "goals.open", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS autonomous_goals_v5 (
			id           TEXT PRIMARY KEY,
			description  TEXT NOT NULL,
			created_at   TIMESTAMP NOT NULL,
			priority     INTEGER NOT NULL DEFAULT 1,
			status       TEXT NOT NULL DEFAULT 'pending',
			progress     REAL NOT NULL DEFAULT 0,
			source       TEXT NOT NULL,
			metrics      TEXT NOT NULL DEFAULT '{}',
			dedup_hash   TEXT,
			completed_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_goals_status_created
			ON autonomous_goals_v5(status, created_at);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_goals_dedup
			ON autonomous_goals_v5(dedup_hash) WHERE dedup_hash IS NOT NULL;
	`)
	if err != nil {
		return fault.New(fault.StorageError, "goals.migrate", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func newGoalID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// Create inserts a pending goal. A duplicate dedup hash is not an error:
// the existing goal is left alone and nil is returned.
func (s *Store) Create(description string, priority int, source string, metricsBlob map[string]any, dedupHash string) (*Goal, error) {
	if dedupHash != "" {
		var existing int
		err := s.db.QueryRow(
			`SELECT COUNT(*) FROM autonomous_goals_v5 WHERE dedup_hash = ?`, dedupHash,
		).Scan(&existing)
		if err != nil {
			return nil, fault.New(fault.StorageError, "goals.create", err)
		}
		if existing > 0 {
			return nil, nil
		}
	}

	if metricsBlob == nil {
		metricsBlob = map[string]any{}
	}
	blob, err := json.Marshal(metricsBlob)
	if err != nil {
		return nil, fault.New(fault.StorageError, "goals.create", err)
	}

	g := &Goal{
		ID:          newGoalID(),
		Description: description,
		CreatedAt:   time.Now().UTC(),
		Priority:    priority,
		Status:      StatusPending,
		Source:      source,
		Metrics:     metricsBlob,
	}
	var hash any
	if dedupHash != "" {
		hash = dedupHash
	}
	_, err = s.db.Exec(`
		INSERT INTO autonomous_goals_v5
			(id, description, created_at, priority, status, progress, source, metrics, dedup_hash)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		g.ID, g.Description, g.CreatedAt, g.Priority, g.Status, g.Source, string(blob), hash)
	if err != nil {
		return nil, fault.New(fault.StorageError, "goals.create", err)
	}
	return g, nil
}

// OldestPending returns the pending goal with the earliest created_at, or
// nil when the queue is empty.
func (s *Store) OldestPending() (*Goal, error) {
	row := s.db.QueryRow(`
		SELECT id, description, created_at, priority, status, progress, source, metrics, completed_at
		FROM autonomous_goals_v5
		WHERE status = ?
		ORDER BY created_at
		LIMIT 1`, StatusPending)
	g, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault.New(fault.StorageError, "goals.oldest_pending", err)
	}
	return g, nil
}

// Get fetches a goal by id.
func (s *Store) Get(id string) (*Goal, error) {
	row := s.db.QueryRow(`
		SELECT id, description, created_at, priority, status, progress, source, metrics, completed_at
		FROM autonomous_goals_v5 WHERE id = ?`, id)
	g, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault.New(fault.StorageError, "goals.get", err)
	}
	return g, nil
}

// Complete marks a goal finished.
func (s *Store) Complete(id string, completedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE autonomous_goals_v5
		SET status = ?, progress = 1.0, completed_at = ?
		WHERE id = ?`, StatusCompleted, completedAt.UTC(), id)
	if err != nil {
		return fault.New(fault.StorageError, "goals.complete", err)
	}
	return nil
}

// Counts returns pending and completed totals.
func (s *Store) Counts() (pending, completed int, err error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM autonomous_goals_v5 GROUP BY status`)
	if err != nil {
		return 0, 0, fault.New(fault.StorageError, "goals.counts", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, fault.New(fault.StorageError, "goals.counts", err)
		}
		switch status {
		case StatusPending:
			pending = n
		case StatusCompleted:
			completed = n
		}
	}
	return pending, completed, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner) (*Goal, error) {
	var g Goal
	var blob string
	var completedAt sql.NullTime
	err := row.Scan(&g.ID, &g.Description, &g.CreatedAt, &g.Priority, &g.Status,
		&g.Progress, &g.Source, &blob, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		g.CompletedAt = &t
	}
	g.Metrics = map[string]any{}
	_ = json.Unmarshal([]byte(blob), &g.Metrics)
	return &g, nil
}
