package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"gumshoe/internal/intel"
)

// ErrNotFound is returned by Load when no snapshot exists for the id.
var ErrNotFound = errors.New("investigation not found")

// ErrLeaseHeld is returned by AcquireLease when another run is active for
// the same investigation id.
var ErrLeaseHeld = errors.New("investigation already has an active run")

// Manager reads and writes investigation snapshots. Writes are atomic
// replace-on-success: a failed snapshot never corrupts the previously
// committed one.
type Manager struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewManager opens (or creates) the state database at path.
// Use ":memory:" for an ephemeral store in tests.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("state: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("state: open database: %w", err)
	}
	// SQLite permits one writer; serialize access through one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	m := &Manager{db: db, logger: logger}
	if err := m.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("state manager ready", zap.String("path", path))
	return m, nil
}

func (m *Manager) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS investigations (
		id             TEXT PRIMARY KEY,
		target         TEXT NOT NULL,
		category       TEXT NOT NULL,
		profile        TEXT NOT NULL,
		status         TEXT NOT NULL,
		created_at     DATETIME NOT NULL,
		updated_at     DATETIME NOT NULL,
		chain_depth    INTEGER NOT NULL DEFAULT 0,
		task_count     INTEGER NOT NULL DEFAULT 0,
		artifact_count INTEGER NOT NULL DEFAULT 0,
		state_json     TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS run_leases (
		investigation_id TEXT PRIMARY KEY,
		acquired_at      DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_investigations_updated
		ON investigations(updated_at DESC);`
	if _, err := m.db.Exec(schema); err != nil {
		return fmt.Errorf("state: initialize schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Snapshot persists the full state, replacing any previous snapshot for
// the same investigation id in one transaction.
func (m *Manager) Snapshot(s *InvestigationState) error {
	s.SchemaVersion = SchemaVersion
	s.UpdatedAt = time.Now().UTC()

	blob, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("state: encode snapshot %s: %w", s.InvestigationID, err)
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("state: begin snapshot %s: %w", s.InvestigationID, err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO investigations
			(id, target, category, profile, status, created_at, updated_at,
			 chain_depth, task_count, artifact_count, state_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at,
			chain_depth = excluded.chain_depth,
			task_count = excluded.task_count,
			artifact_count = excluded.artifact_count,
			state_json = excluded.state_json`,
		s.InvestigationID, s.Target, s.Category, s.ProfileName, string(s.Status),
		s.CreatedAt, s.UpdatedAt, s.ChainDepthReached,
		len(s.Tasks), len(s.Artifacts), string(blob))
	if err != nil {
		return fmt.Errorf("state: write snapshot %s: %w", s.InvestigationID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit snapshot %s: %w", s.InvestigationID, err)
	}

	m.logger.Debug("snapshot written",
		zap.String("investigation_id", s.InvestigationID),
		zap.String("status", string(s.Status)),
		zap.Int("tasks", len(s.Tasks)),
		zap.Int("artifacts", len(s.Artifacts)))
	return nil
}

// Load reconstructs the snapshot for an investigation id. Snapshots
// written by newer schema versions load fine; unknown fields are ignored.
func (m *Manager) Load(investigationID string) (*InvestigationState, error) {
	var blob string
	err := m.db.QueryRow(
		`SELECT state_json FROM investigations WHERE id = ?`,
		investigationID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("state: %w: %s", ErrNotFound, investigationID)
	}
	if err != nil {
		return nil, fmt.Errorf("state: load %s: %w", investigationID, err)
	}

	var s InvestigationState
	if err := json.Unmarshal([]byte(blob), &s); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", investigationID, err)
	}
	if s.Artifacts == nil {
		s.Artifacts = make(map[string]*intel.Artifact)
	}
	return &s, nil
}

// List returns summaries of all investigations, newest first.
func (m *Manager) List() ([]Summary, error) {
	rows, err := m.db.Query(`
		SELECT id, target, category, profile, status,
		       created_at, updated_at, chain_depth, task_count, artifact_count
		FROM investigations
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("state: list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var status string
		if err := rows.Scan(&s.InvestigationID, &s.Target, &s.Category,
			&s.ProfileName, &status, &s.CreatedAt, &s.UpdatedAt,
			&s.ChainDepth, &s.TaskCount, &s.ArtifactCount); err != nil {
			return nil, fmt.Errorf("state: list scan: %w", err)
		}
		s.Status = InvestigationStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

// AcquireLease takes the exclusive run marker for an investigation id.
// At most one active run per id is supported.
func (m *Manager) AcquireLease(investigationID string) error {
	_, err := m.db.Exec(
		`INSERT INTO run_leases (investigation_id, acquired_at) VALUES (?, ?)`,
		investigationID, time.Now().UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("state: %w: %s", ErrLeaseHeld, investigationID)
		}
		return fmt.Errorf("state: acquire lease %s: %w", investigationID, err)
	}
	m.logger.Debug("lease acquired", zap.String("investigation_id", investigationID))
	return nil
}

// ReleaseLease drops the exclusive run marker. Releasing an unheld lease
// is a no-op.
func (m *Manager) ReleaseLease(investigationID string) error {
	if _, err := m.db.Exec(
		`DELETE FROM run_leases WHERE investigation_id = ?`, investigationID); err != nil {
		return fmt.Errorf("state: release lease %s: %w", investigationID, err)
	}
	m.logger.Debug("lease released", zap.String("investigation_id", investigationID))
	return nil
}

// Prune deletes terminal investigations last updated before the cutoff.
// Running and paused investigations are never pruned.
func (m *Manager) Prune(maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := m.db.Exec(`
		DELETE FROM investigations
		WHERE updated_at < ? AND status IN (?, ?, ?)`,
		cutoff, string(StatusCompleted), string(StatusKilled), string(StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("state: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		m.logger.Info("pruned investigations", zap.Int64("count", n))
	}
	return int(n), nil
}
