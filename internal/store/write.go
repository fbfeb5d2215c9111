package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Insert appends a row to sheet under the next unused id for the table.
//
// history names the table's history sheet; ids found there count as used, so
// an id is never handed out twice even after its row was removed. The id
// assignment and the insert run in one transaction.
func (s *Store) Insert(ctx context.Context, sheet, history string, values map[string]any) (Row, error) {
	payload, err := encodePayload(values)
	if err != nil {
		return Row{}, fmt.Errorf("insert: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Row{}, fmt.Errorf("insert: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	id, err := nextID(ctx, tx, sheet, history)
	if err != nil {
		return Row{}, fmt.Errorf("insert: %w", err)
	}
	seq, err := nextSeq(ctx, tx, sheet)
	if err != nil {
		return Row{}, fmt.Errorf("insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sheet_rows (sheet, id, seq, payload)
		VALUES (?, ?, ?, ?)
	`, sheet, id, seq, payload); err != nil {
		return Row{}, fmt.Errorf("insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Row{}, fmt.Errorf("insert: commit: %w", err)
	}

	stored, err := decodePayload(payload)
	if err != nil {
		return Row{}, err
	}
	return Row{ID: id, Seq: seq, Values: stored}, nil
}

// Replace overwrites the payload of an existing row, keeping its id and seq.
// Returns ErrRowNotFound if the row does not exist.
func (s *Store) Replace(ctx context.Context, sheet string, id int64, values map[string]any) error {
	payload, err := encodePayload(values)
	if err != nil {
		return fmt.Errorf("replace: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace: begin tx: %w", err)
	}
	defer tx.Rollback()

	// mysql reports zero affected rows for an unchanged payload, so existence
	// is checked explicitly.
	var n int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sheet_rows WHERE sheet = ? AND id = ?
	`, sheet, id).Scan(&n); err != nil {
		return fmt.Errorf("replace: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s #%d: %w", sheet, id, ErrRowNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sheet_rows SET payload = ? WHERE sheet = ? AND id = ?
	`, payload, sheet, id); err != nil {
		return fmt.Errorf("replace: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace: commit: %w", err)
	}
	return nil
}

// Move transfers a row from one sheet to another, keeping its id and values.
//
// The insert into the target and the delete from the source happen in a
// single transaction: if the target write fails the source row is untouched.
// Returns ErrRowNotFound if the row is absent from the source sheet.
func (s *Store) Move(ctx context.Context, from, to string, id int64) (Row, error) {
	rows, err := s.MoveMany(ctx, from, to, []int64{id})
	if err != nil {
		return Row{}, err
	}
	return rows[0], nil
}

// MoveMany transfers several rows in one transaction. Either every row is
// moved or none is.
func (s *Store) MoveMany(ctx context.Context, from, to string, ids []int64) ([]Row, error) {
	if len(ids) == 0 {
		return []Row{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("move: begin tx: %w", err)
	}
	defer tx.Rollback()

	moved := make([]Row, 0, len(ids))
	for _, id := range ids {
		var payload string
		err := tx.QueryRowContext(ctx, `
			SELECT payload FROM sheet_rows WHERE sheet = ? AND id = ?
		`, from, id).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s #%d: %w", from, id, ErrRowNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("move: read: %w", err)
		}

		seq, err := nextSeq(ctx, tx, to)
		if err != nil {
			return nil, fmt.Errorf("move: %w", err)
		}

		// A stale copy in the target would violate the primary key.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM sheet_rows WHERE sheet = ? AND id = ?
		`, to, id); err != nil {
			return nil, fmt.Errorf("move: clear target: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sheet_rows (sheet, id, seq, payload)
			VALUES (?, ?, ?, ?)
		`, to, id, seq, payload); err != nil {
			return nil, fmt.Errorf("move: write %s: %w", to, err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM sheet_rows WHERE sheet = ? AND id = ?
		`, from, id); err != nil {
			return nil, fmt.Errorf("move: delete from %s: %w", from, err)
		}

		values, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		moved = append(moved, Row{ID: id, Seq: seq, Values: values})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("move: commit: %w", err)
	}
	return moved, nil
}

// nextID claims the next identifier for a table.
func nextID(ctx context.Context, tx *sql.Tx, sheet, history string) (int64, error) {
	var maxID int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(id), 0) FROM sheet_rows WHERE sheet IN (?, ?)
	`, sheet, history).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("max id: %w", err)
	}

	var next int64
	err := tx.QueryRowContext(ctx, `
		SELECT next_id FROM sequences WHERE sheet = ?
	`, sheet).Scan(&next)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		next = maxID + 1
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sequences (sheet, next_id) VALUES (?, ?)
		`, sheet, next+1); err != nil {
			return 0, fmt.Errorf("init sequence: %w", err)
		}
		return next, nil
	case err != nil:
		return 0, fmt.Errorf("read sequence: %w", err)
	}

	if next <= maxID {
		next = maxID + 1
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sequences SET next_id = ? WHERE sheet = ?
	`, next+1, sheet); err != nil {
		return 0, fmt.Errorf("advance sequence: %w", err)
	}
	return next, nil
}

// nextSeq returns the insertion position for a new row at the end of a sheet.
func nextSeq(ctx context.Context, tx *sql.Tx, sheet string) (int64, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM sheet_rows WHERE sheet = ?
	`, sheet).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return seq, nil
}
