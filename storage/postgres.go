package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const (
	PSQLRecordBatchSize = 5000
)

type PSQLStorage struct {
	db *sql.DB
}

type PSQLSnapshotWriter struct {
	hash         string
	db           *sql.DB
	next         int
	headerLength int
	recordBuf    [][]string
}

type PSQLSnapshotReader struct {
	hash string
	db   *sql.DB
}

// Creates a new Postgres Storage using the provided connection string.
//
// If clearDB is true, the database will be cleared on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`
DROP TABLE IF EXISTS snapshot;
DROP TABLE IF EXISTS snapshot_header;
DROP TABLE IF EXISTS snapshot_record;
`)
		if err != nil {
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS snapshot (
    hash TEXT NOT NULL,
    url TEXT NOT NULL,
    retrieved_at TIMESTAMPTZ NOT NULL,
    columns INTEGER NOT NULL,
    rows INTEGER NOT NULL,
    PRIMARY KEY (hash, url)
);

CREATE TABLE IF NOT EXISTS snapshot_header (
    hash TEXT NOT NULL,
    columns TEXT[] NOT NULL,
    PRIMARY KEY (hash)
);

CREATE TABLE IF NOT EXISTS snapshot_record (
    hash TEXT NOT NULL,
    idx INTEGER NOT NULL,
    cells TEXT[] NOT NULL,
    PRIMARY KEY (hash, idx)
);`)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot tables: %w", err)
	}

	return &PSQLStorage{
		db: db,
	}, nil
}

func (s *PSQLStorage) Persistent() bool {
	return true
}

func (s *PSQLStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

func (s *PSQLStorage) ListSnapshots(filter ListSnapshotsFilter) ([]*SnapshotMetadata, error) {
	query := `
SELECT
    hash,
    url,
    retrieved_at,
    columns,
    rows
FROM snapshot`

	conditions := []string{}
	params := []interface{}{}
	paramCount := 1

	if filter.URL != "" {
		conditions = append(conditions, fmt.Sprintf("url = $%d", paramCount))
		params = append(params, filter.URL)
		paramCount++
	}
	if filter.Hash != "" {
		conditions = append(conditions, fmt.Sprintf("hash = $%d", paramCount))
		params = append(params, filter.Hash)
		paramCount++
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY retrieved_at DESC"

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []*SnapshotMetadata{}
	for rows.Next() {
		m := &SnapshotMetadata{}
		err := rows.Scan(&m.Hash, &m.URL, &m.RetrievedAt, &m.Columns, &m.Rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		m.RetrievedAt = m.RetrievedAt.UTC()
		snapshots = append(snapshots, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}

	return snapshots, nil
}

func (s *PSQLStorage) WriteSnapshotMetadata(metadata *SnapshotMetadata) error {
	_, err := s.db.Exec(`
INSERT INTO snapshot (hash, url, retrieved_at, columns, rows)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (hash, url) DO UPDATE SET
    retrieved_at = $3,
    columns = $4,
    rows = $5
`,
		metadata.Hash,
		metadata.URL,
		metadata.RetrievedAt,
		metadata.Columns,
		metadata.Rows,
	)
	if err != nil {
		return fmt.Errorf("writing snapshot metadata: %w", err)
	}
	return nil
}

func (s *PSQLStorage) DeleteSnapshotMetadata(url string, hash string) error {
	res, err := s.db.Exec(`DELETE FROM snapshot WHERE url = $1 AND hash = $2`, url, hash)
	if err != nil {
		return fmt.Errorf("deleting snapshot metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("counting deleted rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("snapshot not found")
	}
	return nil
}

func (s *PSQLStorage) GetReader(snapshot string) (SnapshotReader, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM snapshot_header WHERE hash = $1`, snapshot).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("looking up snapshot: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("snapshot not found")
	}
	return &PSQLSnapshotReader{hash: snapshot, db: s.db}, nil
}

func (s *PSQLStorage) GetWriter(snapshot string) (SnapshotWriter, error) {
	for _, table := range []string{"snapshot_header", "snapshot_record"} {
		_, err := s.db.Exec(`DELETE FROM `+table+` WHERE hash = $1`, snapshot)
		if err != nil {
			return nil, fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return &PSQLSnapshotWriter{hash: snapshot, db: s.db}, nil
}

func (w *PSQLSnapshotWriter) WriteHeader(columns []string) error {
	_, err := w.db.Exec(`
INSERT INTO snapshot_header (hash, columns) VALUES ($1, $2)
ON CONFLICT (hash) DO UPDATE SET columns = $2`, w.hash, pq.Array(columns))
	if err != nil {
		return fmt.Errorf("inserting header: %w", err)
	}
	w.headerLength = len(columns)
	return nil
}

func (w *PSQLSnapshotWriter) Begin() error {
	return nil
}

func (w *PSQLSnapshotWriter) WriteRecord(record []string) error {
	if len(record) != w.headerLength {
		return fmt.Errorf("record has %d cells, header has %d", len(record), w.headerLength)
	}

	w.recordBuf = append(w.recordBuf, append([]string{}, record...))
	if len(w.recordBuf) >= PSQLRecordBatchSize {
		err := w.flushRecords()
		if err != nil {
			return fmt.Errorf("flushing records: %w", err)
		}
	}
	return nil
}

func (w *PSQLSnapshotWriter) End() error {
	if len(w.recordBuf) > 0 {
		err := w.flushRecords()
		if err != nil {
			return fmt.Errorf("flushing records: %w", err)
		}
	}
	return nil
}

func (w *PSQLSnapshotWriter) flushRecords() error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn("snapshot_record", "hash", "idx", "cells"))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range w.recordBuf {
		_, err = stmt.Exec(w.hash, w.next, pq.Array(record))
		if err != nil {
			return fmt.Errorf("COPY record: %w", err)
		}
		w.next++
	}

	_, err = stmt.Exec()
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	w.recordBuf = nil

	return nil
}

// Records not yet flushed by End() are discarded.
func (w *PSQLSnapshotWriter) Close() error {
	w.recordBuf = nil
	return nil
}

func (r *PSQLSnapshotReader) Header() ([]string, error) {
	columns := []string{}
	err := r.db.QueryRow(`SELECT columns FROM snapshot_header WHERE hash = $1`, r.hash).Scan(pq.Array(&columns))
	if err != nil {
		return nil, fmt.Errorf("querying header: %w", err)
	}
	return columns, nil
}

func (r *PSQLSnapshotReader) Records() ([][]string, error) {
	rows, err := r.db.Query(`SELECT cells FROM snapshot_record WHERE hash = $1 ORDER BY idx`, r.hash)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	records := [][]string{}
	for rows.Next() {
		record := []string{}
		err := rows.Scan(pq.Array(&record))
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}

	return records, nil
}
