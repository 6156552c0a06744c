package testutil

// Helpers and configuration for tests.

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tripdemand.dev/trips"
	"tripdemand.dev/trips/parse"
	"tripdemand.dev/trips/storage"
)

// Load time used for synthesized timestamps.
var LoadTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// Builds a Table from CSV lines, the first being the header.
func BuildTable(t testing.TB, lines ...string) *trips.Table {
	s := storage.NewMemoryStorage()

	writer, err := s.GetWriter("test")
	require.NoError(t, err)

	_, err = parse.ParseTable(writer, []byte(strings.Join(lines, "\n")))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	reader, err := s.GetReader("test")
	require.NoError(t, err)

	table, err := trips.NewTable(reader, LoadTime)
	require.NoError(t, err)

	return table
}

// The three-row example dataset: trip "a" with two points at 05:00 and
// 05:30, trip "b" with one point at 13:00.
func ScenarioTable(t testing.TB) *trips.Table {
	return BuildTable(t,
		"randomized_id,latitude,longitude,timestamp",
		"a,1,2,2024-01-01T05:00:00",
		"a,1,2,2024-01-01T05:30:00",
		"b,3,4,2024-01-01T13:00:00",
	)
}

// A file served by MockDrive.
type DriveFile struct {
	ContentType string
	Body        []byte
}

// Stands in for the shared-drive host. Files are looked up by the "id"
// query parameter.
type MockDrive struct {
	Files    map[string]DriveFile
	Requests []string
	Headers  []http.Header
	Server   *httptest.Server

	mutex sync.Mutex
}

func NewMockDrive(t testing.TB) *MockDrive {
	m := &MockDrive{
		Files:    map[string]DriveFile{},
		Requests: []string{},
		Headers:  []http.Header{},
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handler))
	t.Cleanup(m.Server.Close)
	return m
}

// Base URL to configure a downloader.Drive with.
func (m *MockDrive) BaseURL() string {
	return m.Server.URL + "/uc"
}

func (m *MockDrive) handler(w http.ResponseWriter, r *http.Request) {
	m.mutex.Lock()
	m.Requests = append(m.Requests, r.URL.RequestURI())
	m.Headers = append(m.Headers, r.Header.Clone())
	file, found := m.Files[r.URL.Query().Get("id")]
	m.mutex.Unlock()

	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if file.ContentType != "" {
		w.Header().Set("Content-Type", file.ContentType)
	}
	w.Write(file.Body)
}
