// Package consolidate turns accumulated knowledge artifacts into a SQL
// summary database and a short digest that flows back into prompts.
package consolidate

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/normanking/alpha/internal/corestate"
	"github.com/normanking/alpha/internal/fault"
	"github.com/normanking/alpha/internal/metrics"
)

const (
	// reimportThreshold triggers a forced reimport when the database holds
	// fewer rows than this but the artifact directory does not.
	reimportThreshold = 5

	maxPureInsightsPerFile = 7
	promptDigestMaxBytes   = 2048
)

// Config configures a Consolidator.
type Config struct {
	DBPath       string
	ArtifactsDir string
	PromptDigest string
	HumanDigest  string
	ProcessedLog string
}

// Consolidator owns the summary database.
type Consolidator struct {
	cfg  Config
	db   *sql.DB
	core *corestate.Store
	now  func() time.Time
}

// New opens (and migrates) the summary database.
func New(cfg Config, core *corestate.Store) (*Consolidator, error) {
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fault.New(fault.StorageError, "consolidate.open", err)
	}
	c := &Consolidator{cfg: cfg, db: db, core: core, now: time.Now}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// SetClock overrides the clock for digest timestamps.
func (c *Consolidator) SetClock(now func() time.Time) { c.now = now }

// Close closes the database.
func (c *Consolidator) Close() error { return c.db.Close() }

func (c *Consolidator) migrate() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS bella_knowledge (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			topic       TEXT NOT NULL,
			filename    TEXT NOT NULL,
			file_hash   TEXT NOT NULL UNIQUE,
			key_insight TEXT,
			imported_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS topic_stats (
			topic         TEXT PRIMARY KEY,
			study_count   INTEGER NOT NULL DEFAULT 0,
			first_studied TEXT NOT NULL,
			last_studied  TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS pure_insights (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			topic           TEXT NOT NULL,
			text            TEXT NOT NULL,
			source_artifact TEXT NOT NULL,
			extracted_at    TEXT NOT NULL,
			hash            TEXT NOT NULL UNIQUE
		);
	`)
	if err != nil {
		return fault.New(fault.StorageError, "consolidate.migrate", err)
	}
	return nil
}

// Run scans the artifact directory, imports anything new, and regenerates
// both digests. It returns the number of newly imported artifacts.
func (c *Consolidator) Run(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(c.cfg.ArtifactsDir)
	if err != nil && !os.IsNotExist(err) {
		return 0, fault.New(fault.StorageError, "consolidate.scan", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	processed := c.readProcessedLog()
	forced := false
	if rows, err := c.rowCount("bella_knowledge"); err == nil {
		if rows < reimportThreshold && len(files) >= reimportThreshold {
			forced = true
			processed = map[string]bool{}
			log.Warn().Int("rows", rows).Int("artifacts", len(files)).
				Msg("summary db underpopulated, forcing reimport")
		}
	}

	imported := 0
	for _, name := range files {
		select {
		case <-ctx.Done():
			return imported, ctx.Err()
		default:
		}
		if !forced && processed[name] {
			continue
		}
		ok, err := c.importArtifact(name)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("artifact import failed")
			continue
		}
		c.appendProcessedLog(name)
		if ok {
			imported++
		}
	}

	if err := c.writeDigests(); err != nil {
		return imported, err
	}

	if imported > 0 && c.core != nil {
		c.core.IncMemoryConsolidations()
	}
	metrics.ConsolidationRuns.Inc()
	log.Info().Int("imported", imported).Int("artifacts", len(files)).Msg("consolidation finished")
	return imported, nil
}

// importArtifact processes one file. Returns false when the content hash is
// already known.
func (c *Consolidator) importArtifact(name string) (bool, error) {
	content, err := os.ReadFile(filepath.Join(c.cfg.ArtifactsDir, name))
	if err != nil {
		return false, err
	}
	sum := md5.Sum(content)
	fileHash := hex.EncodeToString(sum[:])

	var known int
	if err := c.db.QueryRow(
		`SELECT COUNT(*) FROM bella_knowledge WHERE file_hash = ?`, fileHash,
	).Scan(&known); err != nil {
		return false, err
	}
	if known > 0 {
		return false, nil
	}

	doc := parseArtifact(string(content), name)
	nowStr := c.now().Format(time.RFC3339)

	tx, err := c.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO bella_knowledge (topic, filename, file_hash, key_insight, imported_at)
		VALUES (?, ?, ?, ?, ?)`,
		doc.Topic, name, fileHash, doc.KeyInsight, nowStr); err != nil {
		return false, err
	}

	if _, err := tx.Exec(`
		INSERT INTO topic_stats (topic, study_count, first_studied, last_studied)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(topic) DO UPDATE SET
			study_count  = study_count + 1,
			last_studied = excluded.last_studied`,
		doc.Topic, nowStr, nowStr); err != nil {
		return false, err
	}

	for _, insight := range doc.PureInsights {
		ihash := md5.Sum([]byte(strings.ToLower(insight)))
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO pure_insights (topic, text, source_artifact, extracted_at, hash)
			VALUES (?, ?, ?, ?, ?)`,
			doc.Topic, insight, name, nowStr, hex.EncodeToString(ihash[:])); err != nil {
			return false, err
		}
	}

	return true, tx.Commit()
}

func (c *Consolidator) rowCount(table string) (int, error) {
	var n int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n)
	return n, err
}

func (c *Consolidator) readProcessedLog() map[string]bool {
	set := map[string]bool{}
	data, err := os.ReadFile(c.cfg.ProcessedLog)
	if err != nil {
		return set
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			set[line] = true
		}
	}
	return set
}

func (c *Consolidator) appendProcessedLog(name string) {
	f, err := os.OpenFile(c.cfg.ProcessedLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn().Err(err).Msg("processed log open failed")
		return
	}
	defer f.Close()
	f.WriteString(name + "\n")
}
