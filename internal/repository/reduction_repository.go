// Package repository provides data access implementations
package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/abelzeko/station-reducer/internal/entities"
)

// RunSummary describes one persisted reduction run
type RunSummary struct {
	ID        string
	Source    string
	CreatedAt time.Time
	Fields    int
	Stations  int
	Groups    int
}

// StoredGroup is a group as persisted for a field of a run
type StoredGroup struct {
	Position         int
	RepresentativeID string
	Label            string
	Members          int
	Totals           []entities.Total
}

// ReductionRepository defines persistence of reduction runs
type ReductionRepository interface {
	SaveRun(batch *entities.Batch) error
	ListRuns(limit int) ([]RunSummary, error)
	GetFieldGroups(runID, fieldID string) ([]StoredGroup, error)
	GetLastRunTime() (time.Time, error)
	Close() error
}

// SQLiteReductionRepository implements ReductionRepository using SQLite
type SQLiteReductionRepository struct {
	db     *sql.DB
	DBPath string
	logger *zap.Logger
}

// NewSQLiteReductionRepository creates and initializes a new SQLite repository
func NewSQLiteReductionRepository(dbPath string, logger *zap.Logger) (*SQLiteReductionRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dbPath == "" {
		dbDir := "data"
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dbPath = filepath.Join(dbDir, "reductions.db")
	}

	logger.Info("Opening database", zap.String("path", dbPath))
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTablesSQL := `
	CREATE TABLE IF NOT EXISTS reduction_runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS reduction_groups (
		run_id TEXT NOT NULL REFERENCES reduction_runs(id) ON DELETE CASCADE,
		field_id TEXT NOT NULL,
		field_name TEXT NOT NULL,
		position INTEGER NOT NULL,
		representative_id TEXT NOT NULL,
		label TEXT NOT NULL,
		members INTEGER NOT NULL,
		PRIMARY KEY(run_id, field_id, position)
	);
	CREATE TABLE IF NOT EXISTS reduction_totals (
		run_id TEXT NOT NULL REFERENCES reduction_runs(id) ON DELETE CASCADE,
		field_id TEXT NOT NULL,
		representative_id TEXT NOT NULL,
		sensor_id TEXT NOT NULL,
		category TEXT NOT NULL,
		position INTEGER NOT NULL,
		value INTEGER NOT NULL,
		PRIMARY KEY(run_id, field_id, representative_id, sensor_id)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON reduction_runs(created_at);`

	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteReductionRepository{
		db:     db,
		DBPath: dbPath,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (r *SQLiteReductionRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveRun stores the groups and totals of every processed field of the batch
func (r *SQLiteReductionRepository) SaveRun(batch *entities.Batch) error {
	if batch.ID == "" {
		return errors.New("batch has no run id")
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO reduction_runs(id, source, created_at) VALUES(?, ?, ?)`,
		batch.ID, batch.Source, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", batch.ID, err)
	}

	groupStmt, err := tx.Prepare(`
		INSERT INTO reduction_groups(run_id, field_id, field_name, position, representative_id, label, members)
		VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare group statement: %w", err)
	}
	defer groupStmt.Close()

	totalStmt, err := tx.Prepare(`
		INSERT INTO reduction_totals(run_id, field_id, representative_id, sensor_id, category, position, value)
		VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare total statement: %w", err)
	}
	defer totalStmt.Close()

	groups := 0
	for _, f := range batch.Fields {
		if !f.Processed() {
			continue
		}
		for pos, g := range f.Groups {
			rep := g.Representative()
			if _, err := groupStmt.Exec(batch.ID, f.ID, f.Name, pos, rep.ID, g.Label(), len(g.Members)); err != nil {
				return fmt.Errorf("failed to insert group %s of field %s: %w", rep.ID, f.ID, err)
			}
			for i, t := range g.Totals {
				if _, err := totalStmt.Exec(batch.ID, f.ID, rep.ID, t.SensorID, string(t.Category), i, t.Value); err != nil {
					return fmt.Errorf("failed to insert total %s for group %s: %w", t.SensorID, rep.ID, err)
				}
			}
			groups++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Saved reduction run", zap.String("run", batch.ID), zap.Int("groups", groups))
	return nil
}

// ListRuns returns the most recent runs first
func (r *SQLiteReductionRepository) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT r.id, r.source, r.created_at,
			COUNT(DISTINCT g.field_id),
			COALESCE(SUM(g.members), 0),
			COUNT(g.position)
		FROM reduction_runs r
		LEFT JOIN reduction_groups g ON g.run_id = r.id
		GROUP BY r.rowid, r.id, r.source, r.created_at
		ORDER BY r.created_at DESC, r.rowid DESC
		LIMIT ?`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.ID, &s.Source, &s.CreatedAt, &s.Fields, &s.Stations, &s.Groups); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		runs = append(runs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

// GetFieldGroups returns the groups stored for a field of a run, in emission order
func (r *SQLiteReductionRepository) GetFieldGroups(runID, fieldID string) ([]StoredGroup, error) {
	rows, err := r.db.Query(`
		SELECT position, representative_id, label, members
		FROM reduction_groups
		WHERE run_id = ? AND field_id = ?
		ORDER BY position`, runID, fieldID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups for field %s: %w", fieldID, err)
	}

	var groups []StoredGroup
	index := make(map[string]int)
	for rows.Next() {
		var g StoredGroup
		if err := rows.Scan(&g.Position, &g.RepresentativeID, &g.Label, &g.Members); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		index[g.RepresentativeID] = len(groups)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	rows.Close()

	totals, err := r.db.Query(`
		SELECT representative_id, sensor_id, category, value
		FROM reduction_totals
		WHERE run_id = ? AND field_id = ?
		ORDER BY representative_id, position`, runID, fieldID)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals for field %s: %w", fieldID, err)
	}
	defer totals.Close()

	for totals.Next() {
		var rep, category string
		var t entities.Total
		if err := totals.Scan(&rep, &t.SensorID, &category, &t.Value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		t.Category = entities.Category(category)
		if i, ok := index[rep]; ok {
			groups[i].Totals = append(groups[i].Totals, t)
		}
	}
	if err := totals.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return groups, nil
}

// GetLastRunTime returns the creation time of the latest run, zero when none exist
func (r *SQLiteReductionRepository) GetLastRunTime() (time.Time, error) {
	var ts sql.NullTime
	err := r.db.QueryRow("SELECT created_at FROM reduction_runs ORDER BY created_at DESC, rowid DESC LIMIT 1").Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last run time: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}
