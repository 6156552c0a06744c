package storage

import (
	"fmt"
	"sort"
	"sync"
)

// In memory implementation of Storage below

type memoryMetadataKey struct {
	URL  string
	Hash string
}

type MemoryStorage struct {
	Snapshots map[string]*MemoryStorageSnapshot
	Metadata  map[memoryMetadataKey]*SnapshotMetadata

	mutex sync.Mutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Snapshots: map[string]*MemoryStorageSnapshot{},
		Metadata:  map[memoryMetadataKey]*SnapshotMetadata{},
	}
}

func (s *MemoryStorage) ListSnapshots(filter ListSnapshotsFilter) ([]*SnapshotMetadata, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	snapshots := []*SnapshotMetadata{}
	for _, metadata := range s.Metadata {
		if filter.URL != "" && metadata.URL != filter.URL {
			continue
		}
		if filter.Hash != "" && metadata.Hash != filter.Hash {
			continue
		}
		m := *metadata
		snapshots = append(snapshots, &m)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].RetrievedAt.After(snapshots[j].RetrievedAt)
	})
	return snapshots, nil
}

func (s *MemoryStorage) WriteSnapshotMetadata(metadata *SnapshotMetadata) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	m := *metadata
	s.Metadata[memoryMetadataKey{metadata.URL, metadata.Hash}] = &m
	return nil
}

func (s *MemoryStorage) DeleteSnapshotMetadata(url string, hash string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := memoryMetadataKey{url, hash}
	if _, found := s.Metadata[key]; !found {
		return fmt.Errorf("snapshot not found")
	}
	delete(s.Metadata, key)
	return nil
}

func (s *MemoryStorage) Persistent() bool {
	return false
}

func (s *MemoryStorage) GetReader(snapshot string) (SnapshotReader, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sn, ok := s.Snapshots[snapshot]
	if !ok {
		return nil, fmt.Errorf("snapshot not found")
	}
	return sn, nil
}

func (s *MemoryStorage) GetWriter(snapshot string) (SnapshotWriter, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sn := &MemoryStorageSnapshot{}
	s.Snapshots[snapshot] = sn
	return sn, nil
}

type MemoryStorageSnapshot struct {
	header  []string
	records [][]string

	// Written since Begin(), visible after End().
	pending [][]string
}

func (sn *MemoryStorageSnapshot) WriteHeader(columns []string) error {
	sn.header = append([]string{}, columns...)
	return nil
}

func (sn *MemoryStorageSnapshot) Begin() error {
	sn.pending = [][]string{}
	return nil
}

func (sn *MemoryStorageSnapshot) WriteRecord(record []string) error {
	if len(record) != len(sn.header) {
		return fmt.Errorf("record has %d cells, header has %d", len(record), len(sn.header))
	}
	sn.pending = append(sn.pending, append([]string{}, record...))
	return nil
}

func (sn *MemoryStorageSnapshot) End() error {
	sn.records = append(sn.records, sn.pending...)
	sn.pending = nil
	return nil
}

func (sn *MemoryStorageSnapshot) Close() error {
	sn.pending = nil
	return nil
}

func (sn *MemoryStorageSnapshot) Header() ([]string, error) {
	return append([]string{}, sn.header...), nil
}

func (sn *MemoryStorageSnapshot) Records() ([][]string, error) {
	records := make([][]string, len(sn.records))
	for i, r := range sn.records {
		records[i] = append([]string{}, r...)
	}
	return records, nil
}
