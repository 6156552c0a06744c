package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

type SQLiteStorage struct {
	SQLiteConfig

	db *sql.DB
}

type SQLiteSnapshotWriter struct {
	db           *sql.DB
	hash         string
	next         int
	insertQuery  *sql.Stmt
	insertTx     *sql.Tx
	headerLength int
}

type SQLiteSnapshotReader struct {
	db   *sql.DB
	hash string
}

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	directory := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := ":memory:"
	if onDisk {
		sourceName = directory + "/trips.db"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if !onDisk {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS snapshot (
    hash TEXT NOT NULL,
    url TEXT NOT NULL,
    retrieved_at TIMESTAMP NOT NULL,
    columns INTEGER NOT NULL,
    rows INTEGER NOT NULL,
PRIMARY KEY (hash, url)
);

CREATE TABLE IF NOT EXISTS snapshot_header (
    hash TEXT NOT NULL,
    columns TEXT NOT NULL,
PRIMARY KEY (hash)
);

CREATE TABLE IF NOT EXISTS snapshot_record (
    hash TEXT NOT NULL,
    idx INTEGER NOT NULL,
    cells TEXT NOT NULL,
PRIMARY KEY (hash, idx)
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating snapshot tables: %w", err)
	}

	return &SQLiteStorage{
		SQLiteConfig: SQLiteConfig{
			OnDisk:    onDisk,
			Directory: directory,
		},
		db: db,
	}, nil
}

// Only on-disk databases survive a restart.
func (s *SQLiteStorage) Persistent() bool {
	return s.OnDisk
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) ListSnapshots(filter ListSnapshotsFilter) ([]*SnapshotMetadata, error) {
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
	if filter.URL != "" {
		conditions = append(conditions, "url = ?")
		params = append(params, filter.URL)
	}
	if filter.Hash != "" {
		conditions = append(conditions, "hash = ?")
		params = append(params, filter.Hash)
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

func (s *SQLiteStorage) WriteSnapshotMetadata(metadata *SnapshotMetadata) error {
	_, err := s.db.Exec(`
INSERT INTO snapshot (hash, url, retrieved_at, columns, rows)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (hash, url) DO UPDATE SET
    retrieved_at = excluded.retrieved_at,
    columns = excluded.columns,
    rows = excluded.rows
`,
		metadata.Hash,
		metadata.URL,
		metadata.RetrievedAt.UTC(),
		metadata.Columns,
		metadata.Rows,
	)
	if err != nil {
		return fmt.Errorf("writing snapshot metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteSnapshotMetadata(url string, hash string) error {
	res, err := s.db.Exec(`DELETE FROM snapshot WHERE url = ? AND hash = ?`, url, hash)
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

func (s *SQLiteStorage) GetReader(snapshot string) (SnapshotReader, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM snapshot_header WHERE hash = ?`, snapshot).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("looking up snapshot: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("snapshot not found")
	}
	return &SQLiteSnapshotReader{db: s.db, hash: snapshot}, nil
}

func (s *SQLiteStorage) GetWriter(snapshot string) (SnapshotWriter, error) {
	for _, table := range []string{"snapshot_header", "snapshot_record"} {
		_, err := s.db.Exec(`DELETE FROM `+table+` WHERE hash = ?`, snapshot)
		if err != nil {
			return nil, fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return &SQLiteSnapshotWriter{db: s.db, hash: snapshot}, nil
}

func (w *SQLiteSnapshotWriter) WriteHeader(columns []string) error {
	buf, err := json.Marshal(columns)
	if err != nil {
		return fmt.Errorf("marshalling header: %w", err)
	}
	_, err = w.db.Exec(`
INSERT INTO snapshot_header (hash, columns) VALUES (?, ?)
ON CONFLICT (hash) DO UPDATE SET columns = excluded.columns`, w.hash, string(buf))
	if err != nil {
		return fmt.Errorf("inserting header: %w", err)
	}
	w.headerLength = len(columns)
	return nil
}

func (w *SQLiteSnapshotWriter) Begin() error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO snapshot_record (hash, idx, cells) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing statement: %w", err)
	}

	w.insertTx = tx
	w.insertQuery = stmt
	return nil
}

func (w *SQLiteSnapshotWriter) WriteRecord(record []string) error {
	if len(record) != w.headerLength {
		return fmt.Errorf("record has %d cells, header has %d", len(record), w.headerLength)
	}

	buf, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshalling record: %w", err)
	}

	if w.insertQuery != nil {
		_, err = w.insertQuery.Exec(w.hash, w.next, string(buf))
	} else {
		_, err = w.db.Exec(`INSERT INTO snapshot_record (hash, idx, cells) VALUES (?, ?, ?)`, w.hash, w.next, string(buf))
	}
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}

	w.next++
	return nil
}

func (w *SQLiteSnapshotWriter) End() error {
	if w.insertTx == nil {
		return nil
	}

	w.insertQuery.Close()
	err := w.insertTx.Commit()
	w.insertQuery = nil
	w.insertTx = nil
	if err != nil {
		return fmt.Errorf("committing records: %w", err)
	}
	return nil
}

func (w *SQLiteSnapshotWriter) Close() error {
	if w.insertTx != nil {
		w.insertQuery.Close()
		w.insertTx.Rollback()
		w.insertQuery = nil
		w.insertTx = nil
	}
	return nil
}

func (r *SQLiteSnapshotReader) Header() ([]string, error) {
	var raw string
	err := r.db.QueryRow(`SELECT columns FROM snapshot_header WHERE hash = ?`, r.hash).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("querying header: %w", err)
	}

	columns := []string{}
	err = json.Unmarshal([]byte(raw), &columns)
	if err != nil {
		return nil, fmt.Errorf("unmarshalling header: %w", err)
	}
	return columns, nil
}

func (r *SQLiteSnapshotReader) Records() ([][]string, error) {
	rows, err := r.db.Query(`SELECT cells FROM snapshot_record WHERE hash = ? ORDER BY idx`, r.hash)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	records := [][]string{}
	for rows.Next() {
		var raw string
		err := rows.Scan(&raw)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		record := []string{}
		err = json.Unmarshal([]byte(raw), &record)
		if err != nil {
			return nil, fmt.Errorf("unmarshalling record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}

	return records, nil
}
