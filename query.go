package trips

import (
	"errors"
	"math/rand"
	"time"

	"github.com/bluele/gcache"

	"tripdemand.dev/trips/model"
)

var (
	ErrNoData       = errors.New("no trip data loaded")
	ErrTripNotFound = errors.New("trip not found")
)

const (
	// Number of trip lookups kept around.
	TripCacheSize = 1024
)

const demandKey = "demand"

// Service answers queries over a Table. Every operation returns
// ErrNoData when the table is empty.
type Service struct {
	// Source of randomness and time. Replaceable for tests.
	Intn    func(n int) int
	TimeNow func() time.Time

	table  *Table
	trips  gcache.Cache
	demand gcache.Cache
}

func NewService(table *Table) *Service {
	s := &Service{
		Intn:    rand.Intn,
		TimeNow: time.Now,
		table:   table,
	}

	s.trips = gcache.New(TripCacheSize).
		LRU().
		LoaderFunc(func(key interface{}) (interface{}, error) {
			return s.lookupTrip(key.(string))
		}).
		Build()

	s.demand = gcache.New(1).
		Simple().
		LoaderFunc(func(interface{}) (interface{}, error) {
			return s.computeDemand(), nil
		}).
		Build()

	return s
}

func (s *Service) Table() *Table {
	return s.table
}

func (s *Service) Health() model.Health {
	if s.table.Len() == 0 {
		return model.Health{Status: model.HealthNoData, Rows: 0}
	}
	return model.Health{Status: model.HealthOK, Rows: s.table.Len()}
}

// Picks a trip ID uniformly among the distinct IDs, so trips with many
// points are not favoured.
func (s *Service) RandomTripID() (string, error) {
	if s.table.Len() == 0 {
		return "", ErrNoData
	}
	return s.table.ids[s.Intn(len(s.table.ids))], nil
}

// Counts distinct trips per hour of day. Rows without a parsable
// timestamp are ignored, and hours without trips are omitted.
func (s *Service) DemandForecast() ([]model.HourCount, error) {
	if s.table.Len() == 0 {
		return nil, ErrNoData
	}

	v, err := s.demand.Get(demandKey)
	if err != nil {
		return nil, err
	}
	counts := v.([]model.HourCount)
	return append([]model.HourCount{}, counts...), nil
}

func (s *Service) computeDemand() []model.HourCount {
	var seen [24]map[string]bool
	for _, r := range s.table.rows {
		if !r.HasTime {
			continue
		}
		h := r.Time.Hour()
		if seen[h] == nil {
			seen[h] = map[string]bool{}
		}
		seen[h][r.ID] = true
	}

	counts := []model.HourCount{}
	for h, ids := range seen {
		if len(ids) == 0 {
			continue
		}
		counts = append(counts, model.HourCount{Hour: h, Count: len(ids)})
	}
	return counts
}

// Returns the points of a trip in table order.
func (s *Service) TripByID(id string) ([]model.TripPoint, error) {
	if s.table.Len() == 0 {
		return nil, ErrNoData
	}

	v, err := s.trips.Get(id)
	if err != nil {
		return nil, err
	}

	points := v.([]model.TripPoint)
	out := make([]model.TripPoint, len(points))
	for i, p := range points {
		out[i] = model.TripPoint{
			Latitude:  copyFloat(p.Latitude),
			Longitude: copyFloat(p.Longitude),
			Timestamp: copyString(p.Timestamp),
		}
	}
	return out, nil
}

func (s *Service) lookupTrip(id string) ([]model.TripPoint, error) {
	idx, found := s.table.byID[id]
	if !found {
		return nil, ErrTripNotFound
	}

	points := make([]model.TripPoint, 0, len(idx))
	for _, i := range idx {
		r := s.table.rows[i]
		points = append(points, model.TripPoint{
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			Timestamp: r.Timestamp,
		})
	}
	return points, nil
}

// Samples up to HotZoneSampleSize located points, without replacement.
func (s *Service) HotZones() ([]model.HotZone, error) {
	if s.table.Len() == 0 {
		return nil, ErrNoData
	}

	pool := append([]int{}, s.table.located...)
	n := len(pool)
	if n > model.HotZoneSampleSize {
		n = model.HotZoneSampleSize
	}

	zones := make([]model.HotZone, 0, n)
	for i := 0; i < n; i++ {
		j := i + s.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]

		r := s.table.rows[pool[i]]
		zones = append(zones, model.HotZone{Lat: *r.Latitude, Lon: *r.Longitude})
	}
	return zones, nil
}

// Returns a random row, all columns, stamped with the current time.
func (s *Service) SimulateTrip() (map[string]any, error) {
	if s.table.Len() == 0 {
		return nil, ErrNoData
	}

	record := s.table.Record(s.Intn(s.table.Len()))
	record[model.ColumnTimestamp] = s.TimeNow().UTC().Format(time.RFC3339)
	return record, nil
}

// Lists trip points, most recent first. limit is clamped to
// [1, MaxListLimit] and offset to >= 0.
func (s *Service) ListTrips(limit int, offset int) (*model.TripPage, error) {
	if s.table.Len() == 0 {
		return nil, ErrNoData
	}

	if limit < 1 {
		limit = 1
	}
	if limit > model.MaxListLimit {
		limit = model.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	total := s.table.Len()
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	items := make([]model.TripItem, 0, end-start)
	for _, i := range s.table.byTimeDesc[start:end] {
		r := s.table.rows[i]
		items = append(items, model.TripItem{
			RandomizedID: r.ID,
			Timestamp:    copyString(r.Timestamp),
			Latitude:     copyFloat(r.Latitude),
			Longitude:    copyFloat(r.Longitude),
		})
	}

	return &model.TripPage{
		Total:  total,
		Limit:  limit,
		Offset: offset,
		Items:  items,
	}, nil
}
