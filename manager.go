package trips

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tidwall/gjson"

	"tripdemand.dev/trips/downloader"
	"tripdemand.dev/trips/parse"
	"tripdemand.dev/trips/storage"
)

const (
	DefaultTimeout  = 60 * time.Second
	DefaultMaxSize  = 800 << 20 // 800 MB
	DefaultCacheTTL = 24 * time.Hour
)

var ErrNoSnapshot = errors.New("no snapshot found")

// Everything loaded at startup.
type Dataset struct {
	Table *Table

	// The auxiliary JSON document. Always valid JSON, "{}" if it
	// couldn't be loaded.
	Aux []byte
}

// Looks up a value in the auxiliary document, using gjson path syntax.
func (d *Dataset) AuxValue(path string) gjson.Result {
	return gjson.GetBytes(d.Aux, path)
}

// Manager loads the trip dataset and the auxiliary document.
type Manager struct {
	CSVHandle  string
	JSONHandle string

	// Extra HTTP headers sent with every download.
	Headers map[string]string

	Timeout  time.Duration
	MaxSize  int
	Cache    bool
	CacheTTL time.Duration

	// Drive builds download URLs from handles. Downloader does the
	// downloading; by default it's the Drive itself.
	Drive      *downloader.Drive
	Downloader downloader.Downloader
	TimeNow    func() time.Time

	storage storage.Storage
}

// Creates a Manager on top of the given storage. Parsed snapshots are
// written to storage; if it outlives the process, a later Load can fall
// back to the most recent one when downloading fails.
func NewManager(s storage.Storage, csvHandle string, jsonHandle string) *Manager {
	drive := downloader.NewDrive()
	return &Manager{
		CSVHandle:  csvHandle,
		JSONHandle: jsonHandle,
		Headers:    map[string]string{},

		Timeout:  DefaultTimeout,
		MaxSize:  DefaultMaxSize,
		CacheTTL: DefaultCacheTTL,

		Drive:      drive,
		Downloader: drive,
		TimeNow:    time.Now,

		storage: s,
	}
}

func (m *Manager) options() downloader.GetOptions {
	return downloader.GetOptions{
		Timeout:  m.Timeout,
		MaxSize:  m.MaxSize,
		Cache:    m.Cache,
		CacheTTL: m.CacheTTL,
	}
}

// Loads the trip table and the auxiliary document. Never fails: what
// can't be loaded degrades to an empty table or an empty document.
func (m *Manager) Load(ctx context.Context) *Dataset {
	return &Dataset{
		Table: m.LoadTable(ctx),
		Aux:   m.LoadAux(ctx),
	}
}

// Downloads and parses the trip CSV. On failure, the most recent
// stored snapshot for the same URL is used, and failing that an empty
// table.
func (m *Manager) LoadTable(ctx context.Context) *Table {
	url := m.Drive.URL(m.CSVHandle)

	table, err := m.loadFresh(ctx, url)
	if err == nil {
		log.Printf("[LOAD] trips loaded url=%s rows=%d", url, table.Len())
		return table
	}
	log.Printf("[LOAD] warning: loading trips url=%s err=%v", url, err)

	table, metadata, err := m.loadLatestSnapshot(url)
	if err == nil {
		log.Printf("[LOAD] using stored snapshot hash=%s retrieved_at=%s rows=%d",
			metadata.Hash, metadata.RetrievedAt.Format(time.RFC3339), table.Len())
		return table
	}
	if !errors.Is(err, ErrNoSnapshot) {
		log.Printf("[LOAD] warning: loading stored snapshot url=%s err=%v", url, err)
	}

	log.Printf("[LOAD] starting with empty trip table")
	return EmptyTable()
}

func (m *Manager) loadFresh(ctx context.Context, url string) (*Table, error) {
	body, err := m.Downloader.Get(ctx, url, m.Headers, m.options())
	if err != nil {
		return nil, fmt.Errorf("downloading: %w", err)
	}
	hash := fmt.Sprintf("%x", sha256.Sum256(body))

	// Snapshots that would not survive a restart are never a fallback,
	// so the rows only pass through a scratch store.
	target := m.storage
	if !target.Persistent() {
		target = storage.NewMemoryStorage()
	}

	writer, err := target.GetWriter(hash)
	if err != nil {
		return nil, fmt.Errorf("getting writer: %w", err)
	}
	defer writer.Close()

	metadata, err := parse.ParseTable(writer, body)
	if err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}

	err = writer.Close()
	if err != nil {
		return nil, fmt.Errorf("closing writer: %w", err)
	}

	metadata.Hash = hash
	metadata.URL = url
	metadata.RetrievedAt = m.TimeNow().UTC()

	if target == m.storage {
		err = m.storage.WriteSnapshotMetadata(metadata)
		if err != nil {
			return nil, fmt.Errorf("writing metadata: %w", err)
		}
	}

	reader, err := target.GetReader(hash)
	if err != nil {
		return nil, fmt.Errorf("getting reader: %w", err)
	}

	table, err := NewTable(reader, m.TimeNow())
	if err != nil {
		return nil, fmt.Errorf("building table: %w", err)
	}

	return table, nil
}

func (m *Manager) loadLatestSnapshot(url string) (*Table, *storage.SnapshotMetadata, error) {
	snapshots, err := m.storage.ListSnapshots(storage.ListSnapshotsFilter{URL: url})
	if err != nil {
		return nil, nil, fmt.Errorf("listing snapshots: %w", err)
	}

	errs := []error{}
	for _, metadata := range snapshots {
		reader, err := m.storage.GetReader(metadata.Hash)
		if err != nil {
			errs = append(errs, fmt.Errorf("getting reader for %s: %w", metadata.Hash, err))
			continue
		}
		table, err := NewTable(reader, m.TimeNow())
		if err != nil {
			errs = append(errs, fmt.Errorf("building table for %s: %w", metadata.Hash, err))
			continue
		}
		return table, metadata, nil
	}

	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	return nil, nil, ErrNoSnapshot
}

// Downloads the auxiliary JSON document. Anything but valid JSON
// degrades to "{}".
func (m *Manager) LoadAux(ctx context.Context) []byte {
	if m.JSONHandle == "" {
		return []byte("{}")
	}

	url := m.Drive.URL(m.JSONHandle)
	body, err := m.Downloader.Get(ctx, url, m.Headers, m.options())
	if err != nil {
		log.Printf("[LOAD] warning: loading aux json url=%s err=%v", url, err)
		return []byte("{}")
	}
	if !gjson.ValidBytes(body) {
		log.Printf("[LOAD] warning: aux json url=%s is not valid json (%d bytes)", url, len(body))
		return []byte("{}")
	}

	keys := 0
	gjson.ParseBytes(body).ForEach(func(_, _ gjson.Result) bool {
		keys++
		return true
	})
	log.Printf("[LOAD] aux json loaded url=%s bytes=%d entries=%d", url, len(body), keys)

	return body
}
