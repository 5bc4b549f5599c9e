package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/petrijr/contentflow/pkg/api"
)

const runColumns = `id, instance_id, template_id, status, created_at,
	started_at, completed_at, current_step, error, skip_reason,
	consumed_prompts, output, snapshot`

func (s *SQLiteStore) SaveRun(ctx context.Context, run *api.Run) error {
	consumed, output, snapshot, err := encodeRun(run)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM runs))`,
		run.ID,
		run.InstanceID,
		run.TemplateID,
		string(run.Status),
		unixNano(run.CreatedAt),
		optionalUnixNano(run.StartedAt),
		optionalUnixNano(run.CompletedAt),
		run.CurrentStep,
		run.Error,
		run.SkipReason,
		consumed,
		output,
		snapshot,
	)
	return err
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *api.Run) error {
	consumed, output, snapshot, err := encodeRun(run)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, started_at = ?, completed_at = ?, current_step = ?,
			error = ?, skip_reason = ?, consumed_prompts = ?, output = ?,
			snapshot = ?
		WHERE id = ?`,
		string(run.Status),
		optionalUnixNano(run.StartedAt),
		optionalUnixNano(run.CompletedAt),
		run.CurrentStep,
		run.Error,
		run.SkipReason,
		consumed,
		output,
		snapshot,
		run.ID,
	)
	if err != nil {
		return err
	}
	return expectAffected(res, ErrRunNotFound)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*api.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	var clauses []string

	if filter.InstanceID != "" {
		clauses = append(clauses, "instance_id = ?")
		args = append(args, filter.InstanceID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*api.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) TransitionRun(ctx context.Context, id string, from, to api.RunStatus, at time.Time) (bool, error) {
	query := `UPDATE runs SET status = ?`
	args := []any{string(to)}
	if to == api.RunRunning {
		query += `, started_at = ?`
		args = append(args, at.UnixNano())
	}
	if to.Terminal() {
		query += `, completed_at = ?`
		args = append(args, at.UnixNano())
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(from))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
		return true, nil
	}

	// Distinguish a lost race from a missing run.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrRunNotFound
	}
	return false, err
}

func encodeRun(run *api.Run) (consumed, output any, snapshot string, err error) {
	if len(run.ConsumedPrompts) > 0 {
		b, err := EncodeValue(run.ConsumedPrompts)
		if err != nil {
			return nil, nil, "", err
		}
		consumed = string(b)
	}
	if run.Output != nil {
		b, err := EncodeValue(run.Output)
		if err != nil {
			return nil, nil, "", err
		}
		output = string(b)
	}
	b, err := EncodeValue(run.Snapshot)
	if err != nil {
		return nil, nil, "", err
	}
	return consumed, output, string(b), nil
}

func scanRun(row rowScanner) (*api.Run, error) {
	var (
		run                    api.Run
		status                 string
		createdAt              int64
		startedAt, completedAt *int64
		consumed, output       sql.NullString
		snapshot               string
	)
	if err := row.Scan(
		&run.ID, &run.InstanceID, &run.TemplateID, &status, &createdAt,
		&startedAt, &completedAt, &run.CurrentStep, &run.Error, &run.SkipReason,
		&consumed, &output, &snapshot,
	); err != nil {
		return nil, err
	}

	run.Status = api.RunStatus(status)
	run.CreatedAt = fromUnixNano(createdAt)
	run.StartedAt = fromOptionalUnixNano(startedAt)
	run.CompletedAt = fromOptionalUnixNano(completedAt)

	var err error
	if consumed.Valid {
		if run.ConsumedPrompts, err = DecodeValue[map[string]string]([]byte(consumed.String)); err != nil {
			return nil, err
		}
	}
	if output.Valid {
		if run.Output, err = DecodeValue[*api.DataPacket]([]byte(output.String)); err != nil {
			return nil, err
		}
	}
	if run.Snapshot, err = DecodeValue[api.Snapshot]([]byte(snapshot)); err != nil {
		return nil, err
	}
	return &run, nil
}
