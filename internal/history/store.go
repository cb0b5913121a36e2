// Package history persists evolution runs: a SQLite store for queryable run
// history and a JSON snapshot fallback for demo replay without a database.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"promptsynth/internal/genome"
	"promptsynth/internal/logging"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store records runs, per-generation metrics and per-individual scores in
// SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// RunSummary describes a recorded run.
type RunSummary struct {
	ID          string
	Task        string
	Evaluator   string
	Generations int
	BestFitness float64
	CreatedAt   time.Time
}

// GenerationRecord holds the metrics of one evolved generation.
type GenerationRecord struct {
	Generation  int
	Mode        genome.Mode
	AvgFitness  float64
	BestFitness float64
	Diversity   int
	CommonsSize int
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe with WAL and much faster than FULL
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("history store ready at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		evaluator TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS generations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		generation INTEGER NOT NULL,
		mode TEXT NOT NULL,
		avg_fitness REAL NOT NULL,
		best_fitness REAL NOT NULL,
		diversity INTEGER NOT NULL,
		commons_size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_generations_run ON generations(run_id, generation);

	CREATE TABLE IF NOT EXISTS individuals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		generation INTEGER NOT NULL,
		genome TEXT NOT NULL,
		score REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_individuals_run ON individuals(run_id, generation);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// migration defines an additive column migration.
type migration struct {
	table  string
	column string
	def    string
}

// pendingMigrations handles databases created before newer columns existed.
var pendingMigrations = []migration{
	{"runs", "evaluator", "TEXT NOT NULL DEFAULT ''"},
	{"generations", "commons_size", "INTEGER NOT NULL DEFAULT 0"},
}

// migrate applies additive column migrations to older databases.
func (s *Store) migrate() error {
	for _, m := range pendingMigrations {
		exists, err := s.columnExists(m.table, m.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.def)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.table, m.column, err)
		}
		logging.Store("migrated: added %s.%s", m.table, m.column)
	}
	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun records a new run and returns its ID.
func (s *Store) BeginRun(task, evaluatorMode string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT INTO runs (id, task, evaluator) VALUES (?, ?, ?)",
		id, task, evaluatorMode,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	logging.Store("run %s started (task=%q evaluator=%s)", id, task, evaluatorMode)
	return id, nil
}

// RecordGeneration stores the metrics of one generation.
func (s *Store) RecordGeneration(runID string, rec GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO generations (run_id, generation, mode, avg_fitness, best_fitness, diversity, commons_size)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Generation, string(rec.Mode), rec.AvgFitness, rec.BestFitness, rec.Diversity, rec.CommonsSize,
	)
	if err != nil {
		return fmt.Errorf("failed to record generation: %w", err)
	}
	return nil
}

// RecordIndividuals stores the scored population of one generation.
func (s *Store) RecordIndividuals(runID string, generation int, population []*genome.Genome, scores []float64) error {
	if len(population) != len(scores) {
		return fmt.Errorf("population and scores length mismatch: %d vs %d", len(population), len(scores))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO individuals (run_id, generation, genome, score) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, g := range population {
		data, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("failed to marshal genome: %w", err)
		}
		if _, err := stmt.Exec(runID, generation, string(data), scores[i]); err != nil {
			return fmt.Errorf("failed to insert individual: %w", err)
		}
	}
	return tx.Commit()
}

// FitnessHistory returns the per-generation records of a run, in order.
func (s *Store) FitnessHistory(runID string) ([]GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT generation, mode, avg_fitness, best_fitness, diversity, commons_size
		 FROM generations WHERE run_id = ? ORDER BY generation`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	var records []GenerationRecord
	for rows.Next() {
		var rec GenerationRecord
		var mode string
		if err := rows.Scan(&rec.Generation, &mode, &rec.AvgFitness, &rec.BestFitness, &rec.Diversity, &rec.CommonsSize); err != nil {
			return nil, err
		}
		rec.Mode = genome.Mode(mode)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// BestIndividual returns the highest-scoring genome of a run.
func (s *Store) BestIndividual(runID string) (*genome.Genome, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	var score float64
	err := s.db.QueryRow(
		"SELECT genome, score FROM individuals WHERE run_id = ? ORDER BY score DESC LIMIT 1",
		runID,
	).Scan(&data, &score)
	if err == sql.ErrNoRows {
		return nil, 0, fmt.Errorf("run %s has no individuals", runID)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query best individual: %w", err)
	}

	var g genome.Genome
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal genome: %w", err)
	}
	return &g, score, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT r.id, r.task, r.evaluator, r.created_at,
		        COUNT(g.id), COALESCE(MAX(g.best_fitness), 0)
		 FROM runs r LEFT JOIN generations g ON g.run_id = r.id
		 GROUP BY r.id ORDER BY r.created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Task, &r.Evaluator, &r.CreatedAt, &r.Generations, &r.BestFitness); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
