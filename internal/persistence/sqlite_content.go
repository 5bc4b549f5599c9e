package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/petrijr/contentflow/pkg/api"
)

func (s *SQLiteStore) SaveContent(ctx context.Context, rec *api.ContentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_records (id, title, title_lower, instance_id, run_id, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Title,
		strings.ToLower(strings.TrimSpace(rec.Title)),
		rec.InstanceID,
		rec.RunID,
		rec.URL,
		unixNano(rec.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) FindContentByTitle(ctx context.Context, title string) (*api.ContentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, instance_id, run_id, url, created_at
		FROM content_records
		WHERE title_lower = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`,
		strings.ToLower(strings.TrimSpace(title)),
	)
	rec, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContentNotFound
	}
	return rec, err
}

func (s *SQLiteStore) SearchContent(ctx context.Context, fragment string, limit int) ([]*api.ContentRecord, error) {
	query := `
		SELECT id, title, instance_id, run_id, url, created_at
		FROM content_records
		WHERE instr(title_lower, ?) > 0
		ORDER BY created_at DESC, rowid DESC`
	args := []any{strings.ToLower(strings.TrimSpace(fragment))}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*api.ContentRecord
	for rows.Next() {
		rec, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, stepRefID, itemID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_items (step_ref_id, item_id, processed_at)
		VALUES (?, ?, ?)
		ON CONFLICT (step_ref_id, item_id) DO NOTHING`,
		stepRefID, itemID, unixNano(at),
	)
	return err
}

func (s *SQLiteStore) IsProcessed(ctx context.Context, stepRefID, itemID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM processed_items WHERE step_ref_id = ? AND item_id = ?`,
		stepRefID, itemID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanContent(row rowScanner) (*api.ContentRecord, error) {
	var (
		rec       api.ContentRecord
		createdAt int64
	)
	if err := row.Scan(&rec.ID, &rec.Title, &rec.InstanceID, &rec.RunID, &rec.URL, &createdAt); err != nil {
		return nil, err
	}
	rec.CreatedAt = fromUnixNano(createdAt)
	return &rec, nil
}
