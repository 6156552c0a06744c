package trips

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tripdemand.dev/trips/model"
	"tripdemand.dev/trips/parse"
	"tripdemand.dev/trips/storage"
)

// A single trip point. Latitude, Longitude and Timestamp are nil when
// the source cell is empty or unparsable.
type Row struct {
	ID        string
	Latitude  *float64
	Longitude *float64
	Timestamp *string

	// Parsed Timestamp. Only meaningful if HasTime.
	Time    time.Time
	HasTime bool

	cells []string
}

// Table is the in-memory trip dataset. It is never modified after
// construction, so it's safe for concurrent readers.
type Table struct {
	columns []string
	rows    []Row

	// Row indexes by trip ID, in table order.
	byID map[string][]int

	// Distinct trip IDs in order of first appearance.
	ids []string

	// Row indexes sorted by timestamp, most recent first. Rows
	// without a parsable timestamp go last.
	byTimeDesc []int

	// Row indexes of rows with both coordinates present.
	located []int
}

// The table used when no data could be loaded.
func EmptyTable() *Table {
	t, _ := NewTableFromRecords(
		[]string{model.ColumnLatitude, model.ColumnLongitude, model.ColumnTimestamp, model.ColumnID},
		nil,
		time.Now(),
	)
	return t
}

// Builds a Table from a parsed snapshot. Missing randomized_id and
// timestamp columns are synthesized: random UUIDs and the given load
// time respectively.
func NewTable(reader storage.SnapshotReader, now time.Time) (*Table, error) {
	header, err := reader.Header()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	records, err := reader.Records()
	if err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}

	return NewTableFromRecords(header, records, now)
}

func NewTableFromRecords(header []string, records [][]string, now time.Time) (*Table, error) {
	columns := append([]string{}, header...)
	position := map[string]int{}
	for i, c := range columns {
		if _, found := position[c]; !found {
			position[c] = i
		}
	}

	rows := make([]Row, len(records))
	for i, record := range records {
		if len(record) != len(header) {
			return nil, fmt.Errorf("record %d has %d cells, header has %d", i, len(record), len(header))
		}
		rows[i].cells = append([]string{}, record...)
	}

	if _, found := position[model.ColumnID]; !found {
		position[model.ColumnID] = len(columns)
		columns = append(columns, model.ColumnID)
		for i := range rows {
			rows[i].cells = append(rows[i].cells, uuid.NewString())
		}
	}

	if _, found := position[model.ColumnTimestamp]; !found {
		loadedAt := now.UTC().Format(time.RFC3339)
		position[model.ColumnTimestamp] = len(columns)
		columns = append(columns, model.ColumnTimestamp)
		for i := range rows {
			rows[i].cells = append(rows[i].cells, loadedAt)
		}
	}

	t := &Table{
		columns: columns,
		rows:    rows,
		byID:    map[string][]int{},
		ids:     []string{},
		located: []int{},
	}

	latPos, hasLat := position[model.ColumnLatitude]
	lonPos, hasLon := position[model.ColumnLongitude]
	idPos := position[model.ColumnID]
	tsPos := position[model.ColumnTimestamp]

	for i := range rows {
		r := &rows[i]
		r.ID = r.cells[idPos]
		if hasLat {
			r.Latitude = parseCoordinate(r.cells[latPos])
		}
		if hasLon {
			r.Longitude = parseCoordinate(r.cells[lonPos])
		}
		if ts := strings.TrimSpace(r.cells[tsPos]); ts != "" {
			raw := r.cells[tsPos]
			r.Timestamp = &raw
			r.Time, r.HasTime = parse.ParseTimestamp(ts)
		}

		if _, seen := t.byID[r.ID]; !seen {
			t.ids = append(t.ids, r.ID)
		}
		t.byID[r.ID] = append(t.byID[r.ID], i)

		if r.Latitude != nil && r.Longitude != nil {
			t.located = append(t.located, i)
		}
	}

	t.byTimeDesc = make([]int, len(rows))
	for i := range rows {
		t.byTimeDesc[i] = i
	}
	sort.SliceStable(t.byTimeDesc, func(i, j int) bool {
		a, b := rows[t.byTimeDesc[i]], rows[t.byTimeDesc[j]]
		if a.HasTime != b.HasTime {
			return a.HasTime
		}
		return a.HasTime && a.Time.After(b.Time)
	})

	return t, nil
}

func parseCoordinate(cell string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) Columns() []string {
	return append([]string{}, t.columns...)
}

// Returns a copy of row i.
func (t *Table) Row(i int) Row {
	r := t.rows[i]
	r.Latitude = copyFloat(r.Latitude)
	r.Longitude = copyFloat(r.Longitude)
	r.Timestamp = copyString(r.Timestamp)
	r.cells = append([]string{}, r.cells...)
	return r
}

// All columns of row i, keyed by column name. Coordinates are numbers,
// the timestamp is the raw cell, and passthrough cells are converted to
// numbers or booleans when they look like one. Empty cells are nil.
func (t *Table) Record(i int) map[string]any {
	r := t.rows[i]
	record := make(map[string]any, len(t.columns))
	for pos := len(t.columns) - 1; pos >= 0; pos-- {
		record[t.columns[pos]] = inferValue(r.cells[pos])
	}

	record[model.ColumnID] = r.ID
	record[model.ColumnTimestamp] = copyString(r.Timestamp)
	if _, found := record[model.ColumnLatitude]; found {
		record[model.ColumnLatitude] = copyFloat(r.Latitude)
	}
	if _, found := record[model.ColumnLongitude]; found {
		record[model.ColumnLongitude] = copyFloat(r.Longitude)
	}
	return record
}

func inferValue(cell string) any {
	s := strings.TrimSpace(cell)
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	switch s {
	case "True", "true":
		return true
	case "False", "false":
		return false
	}
	return cell
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
