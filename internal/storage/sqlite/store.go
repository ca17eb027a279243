// Package sqlite persists localization runs: one row per run and one row per
// completed robot command, so runs can be inspected after the fact with SQL.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/localizer/internal/monitoring"
	"github.com/banshee-data/localizer/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("sqlite: run not found")

// Run is one localization session.
type Run struct {
	RunID      string          `json:"run_id"`
	Strategy   string          `json:"strategy"`
	Scenario   string          `json:"scenario"`
	Seed       uint64          `json:"seed"`
	ConfigJSON json.RawMessage `json:"config_json,omitempty"`
	StartedAt  int64           `json:"started_at"`
	FinishedAt *int64          `json:"finished_at,omitempty"`
}

// StepRecord is one completed command with the true pose and the localizer's
// estimate after it.
type StepRecord struct {
	RunID       string  `json:"run_id"`
	StepIdx     int     `json:"step_idx"`
	Action      string  `json:"action"`
	Outcome     int     `json:"outcome"`
	Bumped      bool    `json:"bumped"`
	TrueX       float64 `json:"true_x"`
	TrueY       float64 `json:"true_y"`
	TrueHeading string  `json:"true_heading"`
	Reading     float64 `json:"reading"`
	EstX        float64 `json:"est_x"`
	EstY        float64 `json:"est_y"`
	EstHeading  string  `json:"est_heading"`
	Confidence  float64 `json:"confidence"`
	Error       string  `json:"error,omitempty"`
	RecordedAt  int64   `json:"recorded_at"`
}

// RunStore is a SQLite-backed store of runs and their steps.
type RunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens (or creates) the database at path and applies pending
// migrations. Use ":memory:" for a throwaway store.
func Open(path string, clock timeutil.Clock) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &RunStore{db: db, clock: clock}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for debug tooling.
func (s *RunStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *RunStore) Close() error { return s.db.Close() }

// MigrateUp runs all pending migrations up to the latest version.
func (s *RunStore) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current migration version and dirty state.
func (s *RunStore) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *RunStore) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

var migrateLogf = monitoring.Component("migrate")

func (migrateLogger) Printf(format string, v ...interface{}) {
	migrateLogf(format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// StartRun inserts a run. Empty RunID gets a UUID and zero StartedAt gets
// the store clock's current time.
func (s *RunStore) StartRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = s.clock.Now().UnixNano()
	}

	var cfg interface{}
	if len(run.ConfigJSON) > 0 {
		cfg = string(run.ConfigJSON)
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, strategy, scenario, seed, config_json, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Strategy, run.Scenario, int64(run.Seed), cfg, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stamps the run's finish time.
func (s *RunStore) FinishRun(runID string) error {
	res, err := s.db.Exec(`UPDATE runs SET finished_at = ? WHERE run_id = ?`, s.clock.Now().UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	var (
		r        Run
		seed     int64
		cfg      sql.NullString
		finished sql.NullInt64
	)
	err := s.db.QueryRow(`
		SELECT run_id, strategy, scenario, seed, config_json, started_at, finished_at
		FROM runs WHERE run_id = ?`, runID,
	).Scan(&r.RunID, &r.Strategy, &r.Scenario, &seed, &cfg, &r.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	r.Seed = uint64(seed)
	if cfg.Valid {
		r.ConfigJSON = json.RawMessage(cfg.String)
	}
	if finished.Valid {
		r.FinishedAt = &finished.Int64
	}
	return &r, nil
}

// ListRuns returns all runs, newest first.
func (s *RunStore) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(`SELECT run_id FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	runs := make([]*Run, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRun(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// RecordStep appends one step. Zero RecordedAt gets the store clock's time.
func (s *RunStore) RecordStep(st *StepRecord) error {
	if st.RecordedAt == 0 {
		st.RecordedAt = s.clock.Now().UnixNano()
	}
	var errText interface{}
	if st.Error != "" {
		errText = st.Error
	}
	_, err := s.db.Exec(`
		INSERT INTO steps (
			run_id, step_idx, action, outcome, bumped,
			true_x, true_y, true_heading, reading,
			est_x, est_y, est_heading, confidence, error_text, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.RunID, st.StepIdx, st.Action, st.Outcome, st.Bumped,
		st.TrueX, st.TrueY, st.TrueHeading, st.Reading,
		st.EstX, st.EstY, st.EstHeading, st.Confidence, errText, st.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert step %d: %w", st.StepIdx, err)
	}
	return nil
}

// ListSteps returns a run's steps in order.
func (s *RunStore) ListSteps(runID string) ([]StepRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, step_idx, action, outcome, bumped,
			true_x, true_y, true_heading, reading,
			est_x, est_y, est_heading, confidence, error_text, recorded_at
		FROM steps WHERE run_id = ? ORDER BY step_idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepRecord
	for rows.Next() {
		var (
			st      StepRecord
			errText sql.NullString
		)
		if err := rows.Scan(&st.RunID, &st.StepIdx, &st.Action, &st.Outcome, &st.Bumped,
			&st.TrueX, &st.TrueY, &st.TrueHeading, &st.Reading,
			&st.EstX, &st.EstY, &st.EstHeading, &st.Confidence, &errText, &st.RecordedAt); err != nil {
			return nil, err
		}
		st.Error = errText.String
		out = append(out, st)
	}
	return out, rows.Err()
}
