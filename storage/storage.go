package storage

import (
	"time"
)

// Storage holds parsed dataset snapshots. The in-memory
// implementation backs normal operation; the SQLite and Postgres
// implementations outlive the process, so a restart whose download
// fails can fall back to the last good snapshot.
type Storage interface {
	// Retrieves all snapshot metadata records matching the given
	// filter, most recently retrieved first.
	ListSnapshots(filter ListSnapshotsFilter) ([]*SnapshotMetadata, error)

	// Writes a SnapshotMetadata record. If a record with the same
	// URL and hash exists, it is updated.
	WriteSnapshotMetadata(metadata *SnapshotMetadata) error

	// Removes the metadata record for the given URL and hash.
	DeleteSnapshotMetadata(url string, hash string) error

	// Gets a reader for the snapshot with the given hash.
	GetReader(snapshot string) (SnapshotReader, error)

	// Gets a writer for the snapshot with the given hash. Any
	// existing data for the hash is replaced.
	GetWriter(snapshot string) (SnapshotWriter, error)

	// Whether snapshots outlive the process.
	Persistent() bool
}

type ListSnapshotsFilter struct {
	// If set, only include snapshots downloaded from the given URL.
	URL string

	// If set, only include snapshots with the given hash.
	Hash string
}

// Metadata for a downloaded dataset. The parsed records can be
// accessed via SnapshotReader.
type SnapshotMetadata struct {
	URL         string
	Hash        string
	RetrievedAt time.Time
	Columns     int
	Rows        int
}

// Writes the header and records of a single snapshot. Records are raw
// CSV cells, each exactly as wide as the header.
//
// Begin() and End() bracket all calls to WriteRecord(), allowing
// transactions/batching.
type SnapshotWriter interface {
	WriteHeader(columns []string) error
	Begin() error
	WriteRecord(record []string) error
	End() error
	Close() error
}

type SnapshotReader interface {
	Header() ([]string, error)

	// All records, in the order they were written.
	Records() ([][]string, error)
}
