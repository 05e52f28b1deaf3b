package activity

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Record statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusError   = "error"
)

// maxText bounds stored params/payload/error text.
const maxText = 2000

// Record is one audit entry per dispatched command.
type Record struct {
	ID         string
	Command    string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Duration   time.Duration
	Params     string
	Payload    string
	ErrorCode  string
	Error      string
}

// Outcome is what Finish records about a completed command.
type Outcome struct {
	OK        bool
	Duration  time.Duration
	Payload   string
	ErrorCode string
	Error     string
}

// Start inserts a running record and returns its id.
func (s *Store) Start(ctx context.Context, command, params string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO activity (id, command, status, started_at, params)
		VALUES (?, ?, ?, ?, ?)`,
		id, command, StatusRunning, time.Now().UnixMilli(), Truncate(params, maxText))
	if err != nil {
		return "", fmt.Errorf("start activity: %w", err)
	}
	return id, nil
}

// Finish closes a running record with its outcome.
func (s *Store) Finish(ctx context.Context, id string, o Outcome) error {
	status := StatusOK
	if !o.OK {
		status = StatusError
	}
	_, err := s.db.ExecContext(ctx, `UPDATE activity
		SET status = ?, finished_at = ?, duration_ms = ?, payload = ?, error_code = ?, error = ?
		WHERE id = ?`,
		status, time.Now().UnixMilli(), o.Duration.Milliseconds(),
		nullIfEmpty(Truncate(o.Payload, maxText)), nullIfEmpty(o.ErrorCode), nullIfEmpty(Truncate(o.Error, maxText)), id)
	if err != nil {
		return fmt.Errorf("finish activity: %w", err)
	}
	return nil
}

// Get returns a record by id, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, command, status, started_at, finished_at, duration_ms,
		params, payload, error_code, error FROM activity WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return r, nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, command, status, started_at, finished_at, duration_ms,
		params, payload, error_code, error FROM activity ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep records and deletes the rest.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM activity WHERE rowid NOT IN (
		SELECT rowid FROM activity ORDER BY started_at DESC, rowid DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune activity: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r                                  Record
		startedAt                          int64
		finishedAt, durationMs             sql.NullInt64
		params, payload, errorCode, errMsg sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.Command, &r.Status, &startedAt, &finishedAt, &durationMs,
		&params, &payload, &errorCode, &errMsg); err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		r.FinishedAt = &t
	}
	r.Duration = time.Duration(durationMs.Int64) * time.Millisecond
	r.Params = params.String
	r.Payload = payload.String
	r.ErrorCode = errorCode.String
	r.Error = errMsg.String
	return &r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Truncate shortens s to at most n bytes on a rune boundary, marking the cut with "…".
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
