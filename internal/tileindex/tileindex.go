// Package tileindex persists a queryable sidecar of a partitioning run: one
// row per run plus one row per occupied tile, in a SQLite database.
package tileindex

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "modernc.org/sqlite"
)

// schema.sql defines the runs and tiles tables.
//
//go:embed schema.sql
var schemaSQL string

// DB wraps the sidecar database connection.
type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the sidecar database at path and
// applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tileindex: open %s: %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("tileindex: apply schema: %w", err)
	}
	return &DB{db}, nil
}

// RunRecord summarizes one invocation for the runs table.
type RunRecord struct {
	InputPath    string
	OutputPath   string
	CellSize     float64
	CellSizeAuto bool
	ThinFraction float64
	TotalPoints  uint64
	TileCount    int
	ElapsedSecs  float64
}

// TileRecord is one occupied cell of a run.
type TileRecord struct {
	I, J, K    int32
	PointCount uint64
}

// RecordRun inserts the run summary and its tiles in one transaction and
// returns the new run id.
func (db *DB) RecordRun(run RunRecord, tiles []TileRecord) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("tileindex: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO runs (input_path, output_path, cell_size, cell_size_auto,
		                  thin_fraction, total_points, tile_count, elapsed_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.InputPath, run.OutputPath, run.CellSize, run.CellSizeAuto,
		run.ThinFraction, run.TotalPoints, run.TileCount, run.ElapsedSecs)
	if err != nil {
		return 0, fmt.Errorf("tileindex: insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("tileindex: run id: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO tiles (run_id, i, j, k, point_count) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("tileindex: prepare tile insert: %w", err)
	}
	defer stmt.Close()
	for _, t := range tiles {
		if _, err := stmt.Exec(runID, t.I, t.J, t.K, t.PointCount); err != nil {
			return 0, fmt.Errorf("tileindex: insert tile (%d,%d,%d): %w", t.I, t.J, t.K, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("tileindex: commit: %w", err)
	}
	return runID, nil
}

// TilesForRun returns a run's tiles in (i, j, k) order.
func (db *DB) TilesForRun(runID int64) ([]TileRecord, error) {
	rows, err := db.Query(`SELECT i, j, k, point_count FROM tiles WHERE run_id = ? ORDER BY i, j, k`, runID)
	if err != nil {
		return nil, fmt.Errorf("tileindex: query tiles: %w", err)
	}
	defer rows.Close()

	var tiles []TileRecord
	for rows.Next() {
		var t TileRecord
		if err := rows.Scan(&t.I, &t.J, &t.K, &t.PointCount); err != nil {
			return nil, fmt.Errorf("tileindex: scan tile: %w", err)
		}
		tiles = append(tiles, t)
	}
	return tiles, rows.Err()
}
