package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS plan_status (
	plan_id    TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// SQLiteBackend stores one row per plan. The version column doubles as
// the optimistic concurrency guard.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at dbPath.
// The caller is responsible for calling Close.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Read implements Backend.
func (s *SQLiteBackend) Read(ctx context.Context, planID string) (*PlanStatus, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM plan_status WHERE plan_id = ?`, planID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.NewPlanNotFoundError(planID)
	}
	if err != nil {
		return nil, fmt.Errorf("read plan status %s: %w", planID, err)
	}

	var ps PlanStatus
	if err := json.Unmarshal([]byte(data), &ps); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileUnmarshal, fmt.Sprintf("corrupt status row for plan %s", planID), err)
	}
	return &ps, nil
}

// Write implements Backend.
func (s *SQLiteBackend) Write(ctx context.Context, ps *PlanStatus, expected int64) error {
	data, err := json.Marshal(ps)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "failed to marshal plan status", err)
	}
	now := time.Now().UTC()

	var res sql.Result
	if expected == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO plan_status (plan_id, version, data, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(plan_id) DO NOTHING`,
			ps.PlanID, ps.Version, string(data), now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE plan_status SET version = ?, data = ?, updated_at = ? WHERE plan_id = ? AND version = ?`,
			ps.Version, string(data), now, ps.PlanID, expected)
	}
	if err != nil {
		return fmt.Errorf("write plan status %s: %w", ps.PlanID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	var actual int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM plan_status WHERE plan_id = ?`, ps.PlanID).Scan(&actual)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read plan status version %s: %w", ps.PlanID, err)
	}
	return errors.NewStaleVersionError(ps.PlanID, expected, actual)
}

// List implements Backend.
func (s *SQLiteBackend) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT plan_id FROM plan_status ORDER BY plan_id`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the underlying database connection.
func (s *SQLiteBackend) Close() error { return s.db.Close() }
