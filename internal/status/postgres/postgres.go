// Package postgres implements the status store on PostgreSQL. Each task is
// one row in podcast_tasks; the hot columns (status, progress, description)
// are structured and the rest of the record rides along as JSONB.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/castforge/internal/status"
	"github.com/MrWong99/castforge/internal/task"
)

// Schema is the SQL DDL for the podcast_tasks table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS podcast_tasks (
    task_id            TEXT PRIMARY KEY,
    status             TEXT NOT NULL DEFAULT 'queued',
    progress_pct       INTEGER NOT NULL DEFAULT 0,
    status_description TEXT NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    request_data       JSONB NOT NULL DEFAULT '{}',
    logs               JSONB NOT NULL DEFAULT '[]',
    artifacts          JSONB NOT NULL DEFAULT '{}',
    error              JSONB,
    result_episode     JSONB
);
CREATE INDEX IF NOT EXISTS idx_podcast_tasks_status ON podcast_tasks(status);
CREATE INDEX IF NOT EXISTS idx_podcast_tasks_created_at ON podcast_tasks(created_at);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is a status.Store backed by a PostgreSQL database. Every
// read-modify-write runs in a transaction with the row locked FOR UPDATE,
// so pipeline and control-surface writes against the same task serialise.
type Store struct {
	db  DB
	now func() time.Time
}

var _ status.Store = (*Store)(nil)

// New creates a Store on the given connection or pool. The caller is
// responsible for calling [Store.Migrate] once at startup to ensure the
// schema exists before issuing queries.
func New(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate executes the [Schema] DDL against the database, creating the
// podcast_tasks table and indexes if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("status: migrate: %w", err)
	}
	return nil
}

const selectColumns = `task_id, status, progress_pct, status_description,
       created_at, last_updated_at, request_data, logs, artifacts, error, result_episode`

func (s *Store) Create(ctx context.Context, rec *task.Record) error {
	if rec == nil || rec.TaskID == "" {
		return fmt.Errorf("status: create: record must have a task id")
	}
	row, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO podcast_tasks (
			task_id, status, progress_pct, status_description,
			created_at, last_updated_at,
			request_data, logs, artifacts, error, result_episode
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err = s.db.Exec(ctx, query,
		rec.TaskID, string(rec.Status), rec.ProgressPct, rec.StatusDescription,
		rec.CreatedAt, rec.LastUpdatedAt,
		row.request, row.logs, row.artifacts, row.taskErr, row.episode,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %q", status.ErrAlreadyExists, rec.TaskID)
		}
		return fmt.Errorf("status: create %q: %w", rec.TaskID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, taskID string) (*task.Record, error) {
	const query = `SELECT ` + selectColumns + ` FROM podcast_tasks WHERE task_id = $1`
	rec, err := scanRecord(s.db.QueryRow(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", status.ErrNotFound, taskID)
		}
		return nil, fmt.Errorf("status: get %q: %w", taskID, err)
	}
	return rec, nil
}

// withTask loads the task's row FOR UPDATE, applies fn to the record, and
// writes the mutable columns back before committing. Errors from fn abort
// the transaction, so rejected writes leave the row untouched.
func (s *Store) withTask(ctx context.Context, taskID string, fn func(rec *task.Record) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("status: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `SELECT ` + selectColumns + ` FROM podcast_tasks WHERE task_id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %q", status.ErrNotFound, taskID)
		}
		return fmt.Errorf("status: load %q: %w", taskID, err)
	}

	if err := fn(rec); err != nil {
		return err
	}

	row, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	const update = `
		UPDATE podcast_tasks SET
			status = $2, progress_pct = $3, status_description = $4,
			last_updated_at = $5, logs = $6, artifacts = $7,
			error = $8, result_episode = $9
		WHERE task_id = $1`
	_, err = tx.Exec(ctx, update,
		taskID, string(rec.Status), rec.ProgressPct, rec.StatusDescription,
		rec.LastUpdatedAt,
		row.logs, row.artifacts, row.taskErr, row.episode,
	)
	if err != nil {
		return fmt.Errorf("status: save %q: %w", taskID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("status: commit %q: %w", taskID, err)
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, taskID string, to task.Status, progressPct int, description string) error {
	return s.withTask(ctx, taskID, func(rec *task.Record) error {
		return status.Advance(rec, to, progressPct, description, s.now())
	})
}

func (s *Store) AppendLog(ctx context.Context, taskID, level, message string) error {
	return s.withTask(ctx, taskID, func(rec *task.Record) error {
		now := s.now().UTC()
		rec.AppendLog(task.LogEntry{Timestamp: now, Level: level, Message: message})
		rec.LastUpdatedAt = now
		return nil
	})
}

func (s *Store) UpdateArtifacts(ctx context.Context, taskID string, fn func(*task.Artifacts)) error {
	return s.withTask(ctx, taskID, func(rec *task.Record) error {
		fn(&rec.Artifacts)
		rec.LastUpdatedAt = s.now().UTC()
		return nil
	})
}

func (s *Store) SetError(ctx context.Context, taskID string, taskErr task.Error) error {
	return s.withTask(ctx, taskID, func(rec *task.Record) error {
		return status.Fail(rec, taskErr, s.now())
	})
}

func (s *Store) SetEpisode(ctx context.Context, taskID string, ep task.Episode) error {
	return s.withTask(ctx, taskID, func(rec *task.Record) error {
		return status.AttachEpisode(rec, ep, s.now())
	})
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]*task.Record, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM podcast_tasks`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("status: list count: %w", err)
	}

	query := `SELECT ` + selectColumns + ` FROM podcast_tasks ORDER BY created_at DESC, task_id`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1 OFFSET $2`
		args = append(args, limit, max(offset, 0))
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("status: list: %w", err)
	}
	defer rows.Close()

	var recs []*task.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("status: list scan: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("status: list: %w", err)
	}
	return recs, total, nil
}

func (s *Store) Delete(ctx context.Context, taskID string) error {
	const query = `DELETE FROM podcast_tasks WHERE task_id = $1`
	tag, err := s.db.Exec(ctx, query, taskID)
	if err != nil {
		return fmt.Errorf("status: delete %q: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", status.ErrNotFound, taskID)
	}
	return nil
}

// recordRow holds the JSONB column values of one task row. A nil taskErr or
// episode maps to SQL NULL.
type recordRow struct {
	request   []byte
	logs      []byte
	artifacts []byte
	taskErr   []byte
	episode   []byte
}

func marshalRecord(rec *task.Record) (recordRow, error) {
	var row recordRow
	var err error

	if row.request, err = json.Marshal(rec.Request); err != nil {
		return row, fmt.Errorf("status: marshal request: %w", err)
	}
	if row.logs, err = json.Marshal(emptyLogs(rec.Logs)); err != nil {
		return row, fmt.Errorf("status: marshal logs: %w", err)
	}
	if row.artifacts, err = json.Marshal(rec.Artifacts); err != nil {
		return row, fmt.Errorf("status: marshal artifacts: %w", err)
	}
	if rec.Error != nil {
		if row.taskErr, err = json.Marshal(rec.Error); err != nil {
			return row, fmt.Errorf("status: marshal error: %w", err)
		}
	}
	if rec.Episode != nil {
		if row.episode, err = json.Marshal(rec.Episode); err != nil {
			return row, fmt.Errorf("status: marshal episode: %w", err)
		}
	}
	return row, nil
}

// scanRecord deserialises one row into a record. pgx.Rows satisfies pgx.Row,
// so this serves single-row queries and List alike.
func scanRecord(row pgx.Row) (*task.Record, error) {
	var rec task.Record
	var st string
	var reqJSON, logsJSON, artJSON, errJSON, epJSON []byte

	if err := row.Scan(
		&rec.TaskID, &st, &rec.ProgressPct, &rec.StatusDescription,
		&rec.CreatedAt, &rec.LastUpdatedAt,
		&reqJSON, &logsJSON, &artJSON, &errJSON, &epJSON,
	); err != nil {
		return nil, err
	}
	rec.Status = task.Status(st)

	if err := json.Unmarshal(reqJSON, &rec.Request); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if err := json.Unmarshal(logsJSON, &rec.Logs); err != nil {
		return nil, fmt.Errorf("unmarshal logs: %w", err)
	}
	if err := json.Unmarshal(artJSON, &rec.Artifacts); err != nil {
		return nil, fmt.Errorf("unmarshal artifacts: %w", err)
	}
	if len(errJSON) > 0 {
		rec.Error = &task.Error{}
		if err := json.Unmarshal(errJSON, rec.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	if len(epJSON) > 0 {
		rec.Episode = &task.Episode{}
		if err := json.Unmarshal(epJSON, rec.Episode); err != nil {
			return nil, fmt.Errorf("unmarshal episode: %w", err)
		}
	}
	return &rec, nil
}

// emptyLogs returns entries if non-nil, otherwise an empty non-nil slice.
// This ensures JSON marshalling produces "[]" instead of "null".
func emptyLogs(entries []task.LogEntry) []task.LogEntry {
	if entries == nil {
		return []task.LogEntry{}
	}
	return entries
}

// isDuplicateKeyError checks whether a PostgreSQL error is a
// unique-violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
