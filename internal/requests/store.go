package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store manages request persistence backed by SQLite. The scheduler is the
// only writer; the daemon API reads through it for status lookups.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the request database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "kiln.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// New inserts a pending request for a workflow kind and returns it.
func (s *Store) New(ctx context.Context, workflow, paramsJSON string) (*Request, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO requests (id, workflow, params_json, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id,
		workflow,
		nullableString(paramsJSON),
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert request: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a request by identifier. A missing id returns (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// PendingForWorkflow returns up to limit pending requests for a kind in
// enqueue (FIFO) order.
func (s *Store) PendingForWorkflow(ctx context.Context, workflow string, limit int) ([]*Request, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+requestColumns+` FROM requests
         WHERE workflow = ? AND status = ?
         ORDER BY created_at, id LIMIT ?`,
		workflow, StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// PendingWorkflows returns the distinct workflow kinds with pending requests,
// ordered by their oldest pending request.
func (s *Store) PendingWorkflows(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT workflow, MIN(created_at) AS oldest FROM requests
         WHERE status = ? GROUP BY workflow ORDER BY oldest`,
		StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending workflows: %w", err)
	}
	defer rows.Close()

	var kinds []string
	for rows.Next() {
		var kind, oldest string
		if err := rows.Scan(&kind, &oldest); err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, rows.Err()
}

// MarkProcessing transitions a pending request to processing and records the
// assigned pod. It reports whether the transition happened.
func (s *Store) MarkProcessing(ctx context.Context, id, podID string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE requests SET status = ?, pod_id = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusProcessing,
		podID,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkCompleted finalizes a request with its output artifacts. Requests
// already in a terminal state are left untouched (first write wins); the
// return value reports whether this call performed the transition.
func (s *Store) MarkCompleted(ctx context.Context, id, outputsJSON string) (bool, error) {
	return s.finalize(ctx, id, StatusCompleted, nullableString(outputsJSON), nil)
}

// MarkFailed finalizes a request with an error message. Idempotent in the
// same first-write-wins sense as MarkCompleted.
func (s *Store) MarkFailed(ctx context.Context, id, message string) (bool, error) {
	return s.finalize(ctx, id, StatusFailed, nil, nullableString(message))
}

func (s *Store) finalize(ctx context.Context, id string, status Status, outputs, message any) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE requests
         SET status = ?, outputs_json = ?, error_message = ?, updated_at = ?, completed_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		status,
		outputs,
		message,
		now,
		now,
		id,
		StatusPending,
		StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("finalize request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// List returns requests filtered by status set (or all requests when no
// status is provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Request, error) {
	baseQuery := `SELECT ` + requestColumns + ` FROM requests`
	orderClause := ` ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// ResetStuckProcessing returns in-flight requests to pending. Called at
// daemon startup so work interrupted by a crash is rescheduled.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE requests SET status = ?, pod_id = NULL, updated_at = ? WHERE status = ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck requests: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of requests grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("request stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Summarize aggregates request counts for status output.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{}
	for status, count := range stats {
		summary.Total += count
		switch status {
		case StatusPending:
			summary.Pending += count
		case StatusProcessing:
			summary.Processing += count
		case StatusCompleted:
			summary.Completed += count
		case StatusFailed:
			summary.Failed += count
		}
	}
	return summary, nil
}

// ClearCompleted removes completed requests.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes failed requests.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

const requestColumns = "id, workflow, params_json, status, pod_id, outputs_json, error_message, created_at, updated_at, completed_at"

func scanRequest(scanner interface{ Scan(dest ...any) error }) (*Request, error) {
	var (
		id           string
		workflow     string
		params       sql.NullString
		statusStr    string
		podID        sql.NullString
		outputs      sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
		completedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&workflow,
		&params,
		&statusStr,
		&podID,
		&outputs,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	req := &Request{
		ID:           id,
		Workflow:     workflow,
		ParamsJSON:   params.String,
		Status:       Status(statusStr),
		PodID:        podID.String,
		OutputsJSON:  outputs.String,
		ErrorMessage: errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		req.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		req.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			req.CompletedAt = &completed
		}
	}
	return req, nil
}

func collectRequests(rows *sql.Rows) ([]*Request, error) {
	var items []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, req)
	}
	return items, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
