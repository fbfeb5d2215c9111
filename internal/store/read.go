package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Get retrieves a single row by id.
// Returns ErrRowNotFound if the sheet has no such row.
func (s *Store) Get(ctx context.Context, sheet string, id int64) (Row, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, payload
		FROM sheet_rows
		WHERE sheet = ? AND id = ?
	`, sheet, id)

	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, fmt.Errorf("%s #%d: %w", sheet, id, ErrRowNotFound)
	}
	if err != nil {
		return Row{}, fmt.Errorf("get row: %w", err)
	}
	return r, nil
}

// GetMany retrieves the rows with the given ids. Missing ids are simply
// absent from the result map.
func (s *Store) GetMany(ctx context.Context, sheet string, ids []int64) (map[int64]Row, error) {
	out := make(map[int64]Row, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, sheet)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, payload
		FROM sheet_rows
		WHERE sheet = ? AND id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Scan returns every row of a sheet ordered by seq ASC, id ASC.
// Returns an empty slice (not nil) for an empty sheet.
func (s *Store) Scan(ctx context.Context, sheet string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, payload
		FROM sheet_rows
		WHERE sheet = ?
		ORDER BY seq ASC, id ASC
	`, sheet)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", sheet, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", sheet, err)
	}
	return out, nil
}

// Count returns the number of rows in a sheet.
func (s *Store) Count(ctx context.Context, sheet string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sheet_rows WHERE sheet = ?`, sheet).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", sheet, err)
	}
	return n, nil
}

// Exists reports whether a row id is present in a sheet.
func (s *Store) Exists(ctx context.Context, sheet string, id int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sheet_rows WHERE sheet = ? AND id = ?
	`, sheet, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check row: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(sc rowScanner) (Row, error) {
	var r Row
	var payload string
	if err := sc.Scan(&r.ID, &r.Seq, &payload); err != nil {
		return Row{}, err
	}
	values, err := decodePayload(payload)
	if err != nil {
		return Row{}, err
	}
	r.Values = values
	return r, nil
}
