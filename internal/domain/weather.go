package domain

import (
	"fmt"
	"math"
	"time"
)

// coordinatePrecision rounds coordinates to 4 decimals, roughly 11 m.
const coordinatePrecision = 1e4

// Coordinate is a lat/lng pair rounded for weather cache grouping.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NewCoordinate rounds lat/lng to the cache precision.
func NewCoordinate(lat, lng float64) Coordinate {
	return Coordinate{Lat: RoundCoordinate(lat), Lng: RoundCoordinate(lng)}
}

// RoundCoordinate rounds v to 4 decimal places.
func RoundCoordinate(v float64) float64 {
	return math.Round(v*coordinatePrecision) / coordinatePrecision
}

// IsZero reports whether the coordinate is unset.
func (c Coordinate) IsZero() bool {
	return c.Lat == 0 && c.Lng == 0
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lng)
}

// WeatherDay is one day of weather at a rounded coordinate. Rows for past
// dates are immutable once cached.
type WeatherDay struct {
	Lat                 float64   `json:"lat"`
	Lng                 float64   `json:"lng"`
	Date                time.Time `json:"date"`
	TempMaxF            float64   `json:"temp_max_f"`
	TempMinF            float64   `json:"temp_min_f"`
	TempAvgF            float64   `json:"temp_avg_f"`
	PrecipitationInches float64   `json:"precipitation_inches"`
	HumidityAvgPercent  float64   `json:"humidity_avg_percent"`
	Source              string    `json:"source"`
	FetchedAt           time.Time `json:"fetched_at"`
}

// Coordinate returns the rounded coordinate of the row.
func (w WeatherDay) Coordinate() Coordinate {
	return NewCoordinate(w.Lat, w.Lng)
}
