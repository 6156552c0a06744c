package trips_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripdemand.dev/trips"
	"tripdemand.dev/trips/testutil"
)

func TestTableColumns(t *testing.T) {
	for _, tc := range []struct {
		name    string
		lines   []string
		columns []string
	}{
		{
			"all_present",
			[]string{"randomized_id,latitude,longitude,timestamp", "a,1,2,2024-01-01T05:00:00"},
			[]string{"randomized_id", "latitude", "longitude", "timestamp"},
		},
		{
			"id_synthesized",
			[]string{"latitude,longitude,timestamp", "1,2,2024-01-01T05:00:00"},
			[]string{"latitude", "longitude", "timestamp", "randomized_id"},
		},
		{
			"timestamp_synthesized",
			[]string{"randomized_id,latitude,longitude", "a,1,2"},
			[]string{"randomized_id", "latitude", "longitude", "timestamp"},
		},
		{
			"both_synthesized",
			[]string{"latitude,longitude,speed", "1,2,30"},
			[]string{"latitude", "longitude", "speed", "randomized_id", "timestamp"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			table := testutil.BuildTable(t, tc.lines...)
			assert.Equal(t, tc.columns, table.Columns())
			assert.Equal(t, len(tc.lines)-1, table.Len())
		})
	}
}

func TestTableSynthesizedValues(t *testing.T) {
	table := testutil.BuildTable(t,
		"latitude,longitude",
		"1,2",
		"3,4",
	)
	require.Equal(t, 2, table.Len())

	first, second := table.Row(0), table.Row(1)

	_, err := uuid.Parse(first.ID)
	assert.NoError(t, err)
	_, err = uuid.Parse(second.ID)
	assert.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	loadedAt := testutil.LoadTime.Format(time.RFC3339)
	require.NotNil(t, first.Timestamp)
	assert.Equal(t, loadedAt, *first.Timestamp)
	assert.True(t, first.HasTime)
	assert.True(t, testutil.LoadTime.Equal(first.Time))
}

func TestTableRowValues(t *testing.T) {
	table := testutil.BuildTable(t,
		"randomized_id,latitude,longitude,timestamp",
		"a,1.5,-2.25,2024-01-01T05:00:00",
		"b,,abc,",
		"c,NaN,Inf,garbage",
	)
	require.Equal(t, 3, table.Len())

	a := table.Row(0)
	assert.Equal(t, "a", a.ID)
	require.NotNil(t, a.Latitude)
	require.NotNil(t, a.Longitude)
	assert.Equal(t, 1.5, *a.Latitude)
	assert.Equal(t, -2.25, *a.Longitude)
	require.NotNil(t, a.Timestamp)
	assert.Equal(t, "2024-01-01T05:00:00", *a.Timestamp)
	assert.True(t, a.HasTime)
	assert.Equal(t, 5, a.Time.Hour())

	b := table.Row(1)
	assert.Nil(t, b.Latitude)
	assert.Nil(t, b.Longitude)
	assert.Nil(t, b.Timestamp)
	assert.False(t, b.HasTime)

	c := table.Row(2)
	assert.Nil(t, c.Latitude)
	assert.Nil(t, c.Longitude)
	require.NotNil(t, c.Timestamp)
	assert.Equal(t, "garbage", *c.Timestamp)
	assert.False(t, c.HasTime)
}

func TestTableRowIsCopy(t *testing.T) {
	table := testutil.ScenarioTable(t)

	r := table.Row(0)
	*r.Latitude = 99
	*r.Timestamp = "mutated"

	again := table.Row(0)
	assert.Equal(t, 1.0, *again.Latitude)
	assert.Equal(t, "2024-01-01T05:00:00", *again.Timestamp)
}

func TestTableRecord(t *testing.T) {
	table := testutil.BuildTable(t,
		"randomized_id,latitude,longitude,timestamp,speed,driver,active,note",
		"a,1,2,2024-01-01T05:00:00,42,7.5,True,",
		"b,x,4,2024-01-01T06:00:00,,bob,false,hello",
	)

	a := table.Record(0)
	assert.Equal(t, "a", a["randomized_id"])
	assert.Equal(t, 1.0, *(a["latitude"].(*float64)))
	assert.Equal(t, 2.0, *(a["longitude"].(*float64)))
	assert.Equal(t, "2024-01-01T05:00:00", *(a["timestamp"].(*string)))
	assert.Equal(t, int64(42), a["speed"])
	assert.Equal(t, 7.5, a["driver"])
	assert.Equal(t, true, a["active"])
	assert.Nil(t, a["note"])
	assert.Len(t, a, 8)

	b := table.Record(1)
	assert.Nil(t, b["latitude"].(*float64))
	assert.Nil(t, b["speed"])
	assert.Equal(t, "bob", b["driver"])
	assert.Equal(t, false, b["active"])
	assert.Equal(t, "hello", b["note"])
}

func TestTableFromRecordsWidthMismatch(t *testing.T) {
	_, err := trips.NewTableFromRecords(
		[]string{"randomized_id", "latitude"},
		[][]string{{"a", "1", "extra"}},
		time.Now(),
	)
	assert.Error(t, err)
}

func TestEmptyTable(t *testing.T) {
	table := trips.EmptyTable()
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, []string{"latitude", "longitude", "timestamp", "randomized_id"}, table.Columns())
}
