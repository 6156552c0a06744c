package model

// Holds all external facing types and constants.

const (
	ColumnID        = "randomized_id"
	ColumnLatitude  = "latitude"
	ColumnLongitude = "longitude"
	ColumnTimestamp = "timestamp"
)

const (
	// Maximum number of points returned by HotZones.
	HotZoneSampleSize = 200

	DefaultListLimit = 100
	MaxListLimit     = 500
)

const (
	HealthOK     = "ok"
	HealthNoData = "no_data"
)

// A single point of a trip, as returned by trip lookups.
type TripPoint struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Timestamp *string  `json:"timestamp"`
}

// One row of the trip listing.
type TripItem struct {
	RandomizedID string   `json:"randomized_id"`
	Timestamp    *string  `json:"timestamp"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
}

type TripPage struct {
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
	Items  []TripItem `json:"items"`
}

// Number of distinct trips seen during an hour of the day.
type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

type HotZone struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Health struct {
	Status string `json:"status"`
	Rows   int    `json:"rows"`
}
