// Package journal persists settled tool calls to the tool_call_log table.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/lore/internal/log"
	"github.com/mattjoyce/lore/internal/sandbox"
)

// Status is the terminal state of a logged call.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCanceled  Status = "canceled"
)

// timeLayout is fixed width so started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one row of tool_call_log.
type Entry struct {
	ID         string    `json:"id"`
	Extension  string    `json:"extension"`
	Module     string    `json:"module"`
	Tool       string    `json:"tool"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// Journal records tool calls in SQLite. It implements sandbox.Observer.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// New returns a Journal writing to db. The table must already exist
// (see storage.BootstrapSQLite).
func New(db *sql.DB) *Journal {
	return &Journal{db: db, logger: log.WithComponent("journal")}
}

// CallSettled implements sandbox.Observer. Write failures are logged, never
// surfaced to the caller of the tool.
func (j *Journal) CallSettled(ctx context.Context, rec sandbox.CallRecord) {
	if err := j.Record(ctx, EntryFor(rec)); err != nil {
		j.logger.Warn("failed to journal tool call", "call_id", rec.ID, "error", err)
	}
}

// EntryFor converts a settled call into its journal form.
func EntryFor(rec sandbox.CallRecord) Entry {
	e := Entry{
		ID:         rec.ID,
		Extension:  rec.Route.ExtensionName,
		Module:     rec.Route.ModulePath,
		Tool:       rec.Tool,
		Status:     StatusSucceeded,
		DurationMS: rec.Duration.Milliseconds(),
		StartedAt:  rec.StartedAt,
	}
	if rec.Err != nil {
		e.Error = rec.Err.Error()
		switch {
		case sandbox.KindOf(rec.Err) == sandbox.KindTimeout:
			e.Status = StatusTimedOut
		case sandbox.KindOf(rec.Err) == 0 && ctxErr(rec.Err):
			e.Status = StatusCanceled
		default:
			e.Status = StatusFailed
		}
	}
	return e
}

func ctxErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Record inserts e.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("entry id is empty")
	}
	var errVal any
	if e.Error != "" {
		errVal = e.Error
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO tool_call_log(id, extension, module, tool, status, error, duration_ms, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.Extension, e.Module, e.Tool, string(e.Status), errVal, e.DurationMS, e.StartedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert tool_call_log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, extension, module, tool, status, error, duration_ms, started_at
FROM tool_call_log
ORDER BY started_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query tool_call_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			status    string
			errText   sql.NullString
			startedAt string
		)
		if err := rows.Scan(&e.ID, &e.Extension, &e.Module, &e.Tool, &status, &errText, &e.DurationMS, &startedAt); err != nil {
			return nil, fmt.Errorf("scan tool_call_log: %w", err)
		}
		e.Status = Status(status)
		e.Error = errText.String
		if t, err := time.Parse(timeLayout, startedAt); err == nil {
			e.StartedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool_call_log: %w", err)
	}
	return out, nil
}

// Prune deletes entries that started more than retention ago and returns how
// many were removed.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)
	res, err := j.db.ExecContext(ctx, `DELETE FROM tool_call_log WHERE started_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune tool_call_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
