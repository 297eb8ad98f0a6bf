package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteFile is the database file name inside the store's base directory.
const sqliteFile = "checkpoints.db"

// SQLiteStore implements the Store interface on a single SQLite database.
// The checkpoint is kept as a JSON payload next to indexed metadata columns
// so listing does not decode parameter vectors. Traces stay on the
// filesystem under the same base directory.
type SQLiteStore struct {
	baseDir string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) <baseDir>/checkpoints.db.
func NewSQLiteStore(baseDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	path := filepath.Join(baseDir, sqliteFile)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer at a time; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Debug("SQLite store opened", "path", path)
	return &SQLiteStore{baseDir: baseDir, db: db}, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			job_id     TEXT PRIMARY KEY,
			best_cost  REAL NOT NULL,
			generation INTEGER NOT NULL,
			created_ns INTEGER NOT NULL,
			problem    TEXT NOT NULL,
			optimizer  TEXT NOT NULL,
			dim        INTEGER NOT NULL,
			payload    BLOB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

// BaseDir returns the directory holding the database and traces.
func (s *SQLiteStore) BaseDir() string {
	return s.baseDir
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("sqlite store is closed")
	}
	return s.db, nil
}

// SaveCheckpoint validates and upserts the checkpoint in one statement.
func (s *SQLiteStore) SaveCheckpoint(jobID string, checkpoint *Checkpoint) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if err := checkpoint.Validate(); err != nil {
		return err
	}

	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	_, err = db.ExecContext(context.Background(), `
		INSERT INTO checkpoints (job_id, best_cost, generation, created_ns, problem, optimizer, dim, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			best_cost = excluded.best_cost,
			generation = excluded.generation,
			created_ns = excluded.created_ns,
			problem = excluded.problem,
			optimizer = excluded.optimizer,
			dim = excluded.dim,
			payload = excluded.payload
	`, jobID, checkpoint.BestCost, checkpoint.Generation, checkpoint.Timestamp.UnixNano(),
		checkpoint.Config.Problem, checkpoint.Config.Optimizer, checkpoint.Config.Dim, payload)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Debug("Checkpoint saved", "job_id", jobID, "backend", BackendSQLite)
	return nil
}

// LoadCheckpoint retrieves the checkpoint for the given job.
func (s *SQLiteStore) LoadCheckpoint(jobID string) (*Checkpoint, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID cannot be empty")
	}

	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var payload []byte
	err = db.QueryRowContext(context.Background(),
		`SELECT payload FROM checkpoints WHERE job_id = ?`, jobID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{JobID: jobID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(payload, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint %s: %w", jobID, err)
	}
	return &checkpoint, nil
}

// ListCheckpoints returns metadata for all checkpoints, oldest first.
func (s *SQLiteStore) ListCheckpoints() ([]CheckpointInfo, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(context.Background(), `
		SELECT job_id, best_cost, generation, created_ns, problem, optimizer, dim
		FROM checkpoints
		ORDER BY created_ns, job_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	infos := []CheckpointInfo{}
	for rows.Next() {
		var info CheckpointInfo
		var createdNS int64
		if err := rows.Scan(&info.JobID, &info.BestCost, &info.Generation, &createdNS,
			&info.Problem, &info.Optimizer, &info.Dim); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		info.Timestamp = time.Unix(0, createdNS)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return infos, nil
}

// DeleteCheckpoint removes the checkpoint row and the job's trace.
func (s *SQLiteStore) DeleteCheckpoint(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}

	db, err := s.getDB()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(context.Background(), `DELETE FROM checkpoints WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	if n == 0 {
		return &NotFoundError{JobID: jobID}
	}

	if err := os.RemoveAll(jobDir(s.baseDir, jobID)); err != nil {
		return fmt.Errorf("failed to remove job directory: %w", err)
	}
	return nil
}

// Close releases the database handle. Further calls return an error.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
