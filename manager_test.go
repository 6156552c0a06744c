package trips_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripdemand.dev/trips"
	"tripdemand.dev/trips/downloader"
	"tripdemand.dev/trips/storage"
	"tripdemand.dev/trips/testutil"
)

const scenarioCSV = `randomized_id,latitude,longitude,timestamp
a,1,2,2024-01-01T05:00:00
a,1,2,2024-01-01T05:30:00
b,3,4,2024-01-01T13:00:00
`

const interstitialPage = `<!DOCTYPE html>
<html><head><title>Virus scan warning</title></head>
<body><p>Can't scan this file for viruses.</p></body></html>`

func onDiskStorage(t *testing.T) storage.Storage {
	s, err := storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: t.TempDir()})
	require.NoError(t, err)
	return s
}

func managerFixture(t *testing.T, s storage.Storage, drive *testutil.MockDrive) *trips.Manager {
	m := trips.NewManager(s, "csv-handle", "json-handle")
	m.Drive.BaseURL = drive.BaseURL()
	m.TimeNow = func() time.Time { return testutil.LoadTime }
	return m
}

func TestManagerLoad(t *testing.T) {
	drive := testutil.NewMockDrive(t)
	drive.Files["csv-handle"] = testutil.DriveFile{ContentType: "text/csv", Body: []byte(scenarioCSV)}
	drive.Files["json-handle"] = testutil.DriveFile{
		ContentType: "application/json",
		Body:        []byte(`{"zones": {"north": 3, "south": 4}, "version": "v2"}`),
	}

	s := onDiskStorage(t)
	m := managerFixture(t, s, drive)

	dataset := m.Load(context.Background())

	require.Equal(t, 3, dataset.Table.Len())
	assert.Equal(t, "a", dataset.Table.Row(0).ID)
	assert.Equal(t, "v2", dataset.AuxValue("version").String())
	assert.Equal(t, int64(4), dataset.AuxValue("zones.south").Int())

	// Parsed snapshot is recorded.
	snapshots, err := s.ListSnapshots(storage.ListSnapshotsFilter{})
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, m.Drive.URL("csv-handle"), snapshots[0].URL)
	assert.Equal(t, 4, snapshots[0].Columns)
	assert.Equal(t, 3, snapshots[0].Rows)
	assert.Equal(t, testutil.LoadTime, snapshots[0].RetrievedAt)
	assert.Len(t, snapshots[0].Hash, 64)

	assert.Len(t, drive.Requests, 2)
}

func TestManagerLoadFailures(t *testing.T) {
	for _, tc := range []struct {
		name string
		csv  *testutil.DriveFile
	}{
		{"missing", nil},
		{"interstitial", &testutil.DriveFile{ContentType: "text/html", Body: []byte(interstitialPage)}},
		{"html_as_csv", &testutil.DriveFile{ContentType: "text/plain", Body: []byte(interstitialPage)}},
		{"empty", &testutil.DriveFile{ContentType: "text/csv", Body: []byte{}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			drive := testutil.NewMockDrive(t)
			if tc.csv != nil {
				drive.Files["csv-handle"] = *tc.csv
			}

			m := managerFixture(t, storage.NewMemoryStorage(), drive)
			dataset := m.Load(context.Background())

			assert.Equal(t, 0, dataset.Table.Len())
			assert.Equal(t, []string{"latitude", "longitude", "timestamp", "randomized_id"}, dataset.Table.Columns())
			assert.Equal(t, "{}", string(dataset.Aux))
		})
	}
}

func TestManagerAuxDegrades(t *testing.T) {
	for _, tc := range []struct {
		name   string
		handle string
		file   *testutil.DriveFile
	}{
		{"no_handle", "", nil},
		{"missing", "json-handle", nil},
		{"invalid", "json-handle", &testutil.DriveFile{ContentType: "application/json", Body: []byte(`{"broken": `)}},
		{"interstitial", "json-handle", &testutil.DriveFile{ContentType: "text/html", Body: []byte(interstitialPage)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			drive := testutil.NewMockDrive(t)
			drive.Files["csv-handle"] = testutil.DriveFile{ContentType: "text/csv", Body: []byte(scenarioCSV)}
			if tc.file != nil {
				drive.Files["json-handle"] = *tc.file
			}

			m := managerFixture(t, storage.NewMemoryStorage(), drive)
			m.JSONHandle = tc.handle

			dataset := m.Load(context.Background())
			assert.Equal(t, 3, dataset.Table.Len())
			assert.Equal(t, "{}", string(dataset.Aux))
			assert.False(t, dataset.AuxValue("anything").Exists())
		})
	}
}

func TestManagerFallsBackToSnapshot(t *testing.T) {
	s, err := storage.NewSQLiteStorage(storage.SQLiteConfig{
		OnDisk:    true,
		Directory: t.TempDir(),
	})
	require.NoError(t, err)

	drive := testutil.NewMockDrive(t)
	drive.Files["csv-handle"] = testutil.DriveFile{ContentType: "text/csv", Body: []byte(scenarioCSV)}

	table := managerFixture(t, s, drive).LoadTable(context.Background())
	require.Equal(t, 3, table.Len())

	// The drive goes away. A later load uses what was stored.
	delete(drive.Files, "csv-handle")

	table = managerFixture(t, s, drive).LoadTable(context.Background())
	require.Equal(t, 3, table.Len())
	assert.Equal(t, "b", table.Row(2).ID)

	// Snapshots for other URLs are not used.
	m := managerFixture(t, s, drive)
	m.CSVHandle = "other-handle"
	table = m.LoadTable(context.Background())
	assert.Equal(t, 0, table.Len())
}

func TestManagerFallsBackToLatestSnapshot(t *testing.T) {
	s := onDiskStorage(t)
	drive := testutil.NewMockDrive(t)

	m := managerFixture(t, s, drive)

	drive.Files["csv-handle"] = testutil.DriveFile{Body: []byte("randomized_id\nold\n")}
	m.TimeNow = func() time.Time { return testutil.LoadTime }
	require.Equal(t, 1, m.LoadTable(context.Background()).Len())

	drive.Files["csv-handle"] = testutil.DriveFile{Body: []byte("randomized_id\nnew\nnewer\n")}
	m.TimeNow = func() time.Time { return testutil.LoadTime.Add(time.Hour) }
	require.Equal(t, 2, m.LoadTable(context.Background()).Len())

	delete(drive.Files, "csv-handle")
	table := m.LoadTable(context.Background())
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "new", table.Row(0).ID)
}

func TestManagerWithFilesystemCache(t *testing.T) {
	drive := testutil.NewMockDrive(t)
	drive.Files["csv-handle"] = testutil.DriveFile{ContentType: "text/csv", Body: []byte(scenarioCSV)}
	drive.Files["json-handle"] = testutil.DriveFile{ContentType: "application/json", Body: []byte(`{}`)}

	cacheFile := filepath.Join(t.TempDir(), "cache.json")

	load := func() *trips.Dataset {
		m := managerFixture(t, storage.NewMemoryStorage(), drive)
		fs, err := downloader.NewFilesystem(cacheFile, m.Drive)
		require.NoError(t, err)
		m.Downloader = fs
		m.Cache = true
		return m.Load(context.Background())
	}

	assert.Equal(t, 3, load().Table.Len())
	assert.Len(t, drive.Requests, 2)

	// Served from the cache file; the drive is not contacted.
	assert.Equal(t, 3, load().Table.Len())
	assert.Len(t, drive.Requests, 2)
}

func TestManagerSendsHeaders(t *testing.T) {
	drive := testutil.NewMockDrive(t)
	drive.Files["csv-handle"] = testutil.DriveFile{ContentType: "text/csv", Body: []byte(scenarioCSV)}

	m := managerFixture(t, storage.NewMemoryStorage(), drive)
	m.JSONHandle = ""
	m.Headers["X-Api-Key"] = "secret"

	require.Equal(t, 3, m.LoadTable(context.Background()).Len())
	require.Len(t, drive.Headers, 1)
	assert.Equal(t, "secret", drive.Headers[0].Get("X-Api-Key"))
	assert.Contains(t, drive.Requests[0], "export=download")
	assert.Contains(t, drive.Requests[0], "id=csv-handle")
}

func TestManagerRejectsOversizedDownload(t *testing.T) {
	for _, tc := range []struct {
		name     string
		storage  func(t *testing.T) storage.Storage
		expected int
	}{
		{
			"no_snapshot",
			func(t *testing.T) storage.Storage { return storage.NewMemoryStorage() },
			0,
		},
		{
			"falls_back_to_snapshot",
			func(t *testing.T) storage.Storage {
				s, err := storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: t.TempDir()})
				require.NoError(t, err)
				return s
			},
			1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.storage(t)
			drive := testutil.NewMockDrive(t)
			m := managerFixture(t, s, drive)
			m.JSONHandle = ""

			if tc.expected > 0 {
				drive.Files["csv-handle"] = testutil.DriveFile{Body: []byte("randomized_id\nstored\n")}
				require.Equal(t, 1, m.LoadTable(context.Background()).Len())
			}

			// Cutting this off at MaxSize would leave a row with a
			// mangled latitude and no longitude or timestamp.
			drive.Files["csv-handle"] = testutil.DriveFile{ContentType: "text/csv", Body: []byte(scenarioCSV)}
			m.MaxSize = len(scenarioCSV) - 30

			table := m.LoadTable(context.Background())
			require.Equal(t, tc.expected, table.Len())
			if tc.expected > 0 {
				assert.Equal(t, "stored", table.Row(0).ID)
			}
		})
	}
}

func TestManagerKeepsSnapshotsOnlyWhenPersistent(t *testing.T) {
	for _, tc := range []struct {
		name      string
		storage   func(t *testing.T) storage.Storage
		snapshots int
	}{
		{"memory", func(t *testing.T) storage.Storage { return storage.NewMemoryStorage() }, 0},
		{"sqlite_in_memory", func(t *testing.T) storage.Storage {
			s, err := storage.NewSQLiteStorage()
			require.NoError(t, err)
			return s
		}, 0},
		{"sqlite_on_disk", onDiskStorage, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			drive := testutil.NewMockDrive(t)
			drive.Files["csv-handle"] = testutil.DriveFile{ContentType: "text/csv", Body: []byte(scenarioCSV)}

			s := tc.storage(t)
			m := managerFixture(t, s, drive)
			m.JSONHandle = ""

			require.Equal(t, 3, m.LoadTable(context.Background()).Len())

			snapshots, err := s.ListSnapshots(storage.ListSnapshotsFilter{})
			require.NoError(t, err)
			assert.Len(t, snapshots, tc.snapshots)

			if memory, ok := s.(*storage.MemoryStorage); ok {
				assert.Empty(t, memory.Snapshots)
			}
		})
	}
}
