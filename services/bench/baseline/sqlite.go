// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package baseline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps baselines in a SQLite table, one row per name.
//
// Description:
//
//	The encoded baseline is stored as a JSON blob alongside a few indexed
//	columns used by List. Pass ":memory:" as the path for a private
//	in-memory database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and applies migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open baseline database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping baseline database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate baseline database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const query = `
	CREATE TABLE IF NOT EXISTS baselines (
		name TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		format TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		data BLOB NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, name string) (*Baseline, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM baselines WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, ErrBaselineNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading baseline %s: %w", name, err)
	}
	return Unmarshal(data)
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, b *Baseline) error {
	data, err := encodeFor(b)
	if err != nil {
		return err
	}

	const query = `
	INSERT INTO baselines (name, run_id, format, created_at, updated_at, data)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		run_id = excluded.run_id,
		format = excluded.format,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		data = excluded.data
	`
	if _, err := s.db.ExecContext(ctx, query, b.Name, b.RunID.String(), FormatVersion, b.CreatedAt, time.Now().UTC(), data); err != nil {
		return fmt.Errorf("writing baseline %s: %w", b.Name, err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM baselines ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing baselines: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing baselines: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM baselines WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting baseline %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting baseline %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", name, ErrBaselineNotFound)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
