package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SQLiteQueue is a persistent trigger queue backed by the triggers table.
// Triggers with the same due time are claimed in scheduling order.
type SQLiteQueue struct {
	db   *sql.DB
	opts options
}

const triggerColumns = `id, hook, instance_id, kind, next_run_at, period, cron, enqueued_at`

// NewSQLiteQueue returns a queue over a migrated database.
func NewSQLiteQueue(db *sql.DB, opts ...Option) *SQLiteQueue {
	return &SQLiteQueue{db: db, opts: defaultOptions(opts)}
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Schedule(ctx context.Context, t Trigger) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO triggers (`+triggerColumns+`, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM triggers))`,
		t.ID,
		t.Hook,
		t.InstanceID,
		string(t.Kind),
		t.NextRunAt.UnixNano(),
		int64(t.Period),
		t.Cron,
		q.opts.now().UnixNano(),
	)
	return err
}

func (q *SQLiteQueue) Unschedule(ctx context.Context, hook, instanceID string) (int, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM triggers WHERE hook = ? AND instance_id = ?`, hook, instanceID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Trigger, error) {
	for {
		t, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
		if err := wait(ctx, q.opts.pollInterval); err != nil {
			return nil, err
		}
	}
}

// claim deletes and returns the earliest due trigger, or nil when none is
// due.
func (q *SQLiteQueue) claim(ctx context.Context) (*Trigger, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+triggerColumns+`
		FROM triggers
		WHERE next_run_at <= ?
		ORDER BY next_run_at, seq
		LIMIT 1`, q.opts.now().UnixNano())
	t, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, t.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func (q *SQLiteQueue) List(ctx context.Context, instanceID string) ([]Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers`
	var args []any
	if instanceID != "" {
		query += ` WHERE instance_id = ?`
		args = append(args, instanceID)
	}
	query += ` ORDER BY next_run_at, seq`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (q *SQLiteQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM triggers`).Scan(&n); err != nil {
		return 0
	}
	return n
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row scanner) (*Trigger, error) {
	var (
		t                   Trigger
		kind                string
		nextRun, enqueuedAt int64
		period              int64
	)
	err := row.Scan(&t.ID, &t.Hook, &t.InstanceID, &kind, &nextRun, &period, &t.Cron, &enqueuedAt)
	if err != nil {
		return nil, err
	}
	t.Kind = Kind(kind)
	t.NextRunAt = time.Unix(0, nextRun).UTC()
	t.Period = time.Duration(period)
	t.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	return &t, nil
}
