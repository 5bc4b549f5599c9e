package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/petrijr/contentflow/pkg/api"
)

const instanceColumns = `id, template_id, name, schedule, step_bindings,
	last_run_at, last_run_status, created_at, updated_at`

func (s *SQLiteStore) SaveInstance(ctx context.Context, inst *api.Instance) error {
	return insertInstance(ctx, s.db, inst)
}

func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id,
	)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	return inst, err
}

func (s *SQLiteStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances`
	var args []any
	var clauses []string

	if filter.TemplateID != "" {
		clauses = append(clauses, "template_id = ?")
		args = append(args, filter.TemplateID)
	}
	if filter.Scheduled {
		clauses = append(clauses, "json_extract(schedule, '$.kind') <> ?")
		args = append(args, string(api.ScheduleKindManual))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (s *SQLiteStore) DeleteInstance(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res, ErrInstanceNotFound)
}

// ModifyInstance performs the read-modify-write inside one transaction.
func (s *SQLiteStore) ModifyInstance(ctx context.Context, id string, fn func(inst *api.Instance) error) (*api.Instance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id,
	)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}

	if err := fn(inst); err != nil {
		return nil, err
	}
	inst.ID = id

	if err := updateInstance(ctx, tx, inst); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inst, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertInstance(ctx context.Context, db execer, inst *api.Instance) error {
	schedule, bindings, err := encodeInstance(inst)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID,
		inst.TemplateID,
		inst.Name,
		schedule,
		bindings,
		optionalUnixNano(inst.LastRunAt),
		string(inst.LastRunStatus),
		unixNano(inst.CreatedAt),
		unixNano(inst.UpdatedAt),
	)
	return err
}

func updateInstance(ctx context.Context, db execer, inst *api.Instance) error {
	schedule, bindings, err := encodeInstance(inst)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE instances
		SET template_id = ?, name = ?, schedule = ?, step_bindings = ?,
			last_run_at = ?, last_run_status = ?, updated_at = ?
		WHERE id = ?`,
		inst.TemplateID,
		inst.Name,
		schedule,
		bindings,
		optionalUnixNano(inst.LastRunAt),
		string(inst.LastRunStatus),
		unixNano(inst.UpdatedAt),
		inst.ID,
	)
	if err != nil {
		return err
	}
	return expectAffected(res, ErrInstanceNotFound)
}

func encodeInstance(inst *api.Instance) (string, string, error) {
	schedule, err := EncodeValue(api.SpecOf(inst.Schedule))
	if err != nil {
		return "", "", err
	}
	steps := inst.Steps
	if steps == nil {
		steps = map[string]api.StepBinding{}
	}
	bindings, err := EncodeValue(steps)
	if err != nil {
		return "", "", err
	}
	return string(schedule), string(bindings), nil
}

func scanInstance(row rowScanner) (*api.Instance, error) {
	var (
		inst                 api.Instance
		schedule, bindings   string
		lastRunAt            *int64
		lastRunStatus        string
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&inst.ID, &inst.TemplateID, &inst.Name, &schedule, &bindings,
		&lastRunAt, &lastRunStatus, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	spec, err := DecodeValue[api.ScheduleSpec]([]byte(schedule))
	if err != nil {
		return nil, err
	}
	if inst.Schedule, err = spec.Schedule(); err != nil {
		return nil, err
	}

	if inst.Steps, err = DecodeValue[map[string]api.StepBinding]([]byte(bindings)); err != nil {
		return nil, err
	}

	inst.LastRunAt = fromOptionalUnixNano(lastRunAt)
	inst.LastRunStatus = api.RunStatus(lastRunStatus)
	inst.CreatedAt = fromUnixNano(createdAt)
	inst.UpdatedAt = fromUnixNano(updatedAt)
	return &inst, nil
}
