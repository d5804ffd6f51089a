package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bugbusters/bugbuster/internal/defect"
)

const defectColumns = `id, summary, owner, root_cause_json, solution, url, status, error_log, source`

// UpsertDefect inserts rec or replaces the stored fields of an existing
// record with the same ID. A replaced record keeps its original position.
func (s *Store) UpsertDefect(ctx context.Context, rec defect.Record) error {
	return upsertDefect(ctx, s.db, rec)
}

// UpsertDefects upserts all records in one transaction.
func (s *Store) UpsertDefects(ctx context.Context, recs []defect.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		if err := upsertDefect(ctx, tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertDefect(ctx context.Context, db execer, rec defect.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("upserting defect: %w", defect.ErrMalformed)
	}
	rc, err := json.Marshal(rec.RootCause)
	if err != nil {
		return fmt.Errorf("encoding root cause for %s: %w", rec.ID, err)
	}
	source := rec.Source
	if source == "" {
		source = defect.SourceTracker
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO defects (`+defectColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			summary = excluded.summary,
			owner = excluded.owner,
			root_cause_json = excluded.root_cause_json,
			solution = excluded.solution,
			url = excluded.url,
			status = excluded.status,
			error_log = excluded.error_log,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Summary, rec.Owner, string(rc), rec.Solution, rec.URL, rec.Status,
		rec.ErrorLog, string(source), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting defect %s: %w", rec.ID, err)
	}
	return nil
}

func scanDefect(row rowScanner) (defect.Record, error) {
	var r defect.Record
	var rc, source string
	if err := row.Scan(&r.ID, &r.Summary, &r.Owner, &rc, &r.Solution, &r.URL, &r.Status, &r.ErrorLog, &source); err != nil {
		return defect.Record{}, err
	}
	if err := json.Unmarshal([]byte(rc), &r.RootCause); err != nil {
		return defect.Record{}, fmt.Errorf("decoding root cause for %s: %w", r.ID, err)
	}
	r.Source = defect.Source(source)
	return r, nil
}

// ListDefects returns every stored record in insertion order.
func (s *Store) ListDefects(ctx context.Context) ([]defect.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+defectColumns+` FROM defects ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing defects: %w", err)
	}
	defer rows.Close()

	var out []defect.Record
	for rows.Next() {
		r, err := scanDefect(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetDefect(ctx context.Context, id string) (defect.Record, error) {
	r, err := scanDefect(s.db.QueryRowContext(ctx, `SELECT `+defectColumns+` FROM defects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return defect.Record{}, ErrNotFound
	}
	return r, err
}

func (s *Store) DeleteDefect(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM defects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CountDefects(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM defects`).Scan(&n)
	return n, err
}
