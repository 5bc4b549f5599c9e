package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/petrijr/contentflow/pkg/api"
)

// SQLiteStore implements every store interface on top of SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite") and that has been migrated by db.Open.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements the interfaces.
var (
	_ TemplateStore  = (*SQLiteStore)(nil)
	_ InstanceStore  = (*SQLiteStore)(nil)
	_ RunStore       = (*SQLiteStore)(nil)
	_ ContentStore   = (*SQLiteStore)(nil)
	_ ProcessedStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore returns a store using db.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) SaveTemplate(ctx context.Context, tpl *api.Template) error {
	return upsertTemplate(ctx, s.db, tpl)
}

func upsertTemplate(ctx context.Context, db execer, tpl *api.Template) error {
	steps, err := EncodeValue(tpl.Steps)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO templates (id, name, steps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			steps = excluded.steps,
			updated_at = excluded.updated_at`,
		tpl.ID,
		tpl.Name,
		string(steps),
		unixNano(tpl.CreatedAt),
		unixNano(tpl.UpdatedAt),
	)
	return err
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*api.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, steps, created_at, updated_at
		FROM templates
		WHERE id = ?`,
		id,
	)
	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	return tpl, err
}

func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]*api.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, steps, created_at, updated_at
		FROM templates
		ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*api.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

func (s *SQLiteStore) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res, ErrTemplateNotFound)
}

// ModifyTemplate performs the read-modify-write inside one transaction.
func (s *SQLiteStore) ModifyTemplate(ctx context.Context, id string, fn func(tpl *api.Template) error) (*api.Template, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, name, steps, created_at, updated_at
		FROM templates
		WHERE id = ?`,
		id,
	)
	tpl, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	if err := fn(tpl); err != nil {
		return nil, err
	}
	tpl.ID = id

	if err := upsertTemplate(ctx, tx, tpl); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return tpl, nil
}

func scanTemplate(row rowScanner) (*api.Template, error) {
	var (
		tpl                  api.Template
		steps                string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&tpl.ID, &tpl.Name, &steps, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	decoded, err := DecodeValue[[]api.StepDefinition]([]byte(steps))
	if err != nil {
		return nil, err
	}
	tpl.Steps = decoded
	tpl.CreatedAt = fromUnixNano(createdAt)
	tpl.UpdatedAt = fromUnixNano(updatedAt)
	return &tpl, nil
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
