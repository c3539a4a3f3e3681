package domain

import "context"

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Lat              float64
	Lng              float64
	City             string
	State            string // two-letter code when the provider reports one
	Zip              string
	FormattedAddress string
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Geocoder resolves observation locations.
type Geocoder interface {
	// ForwardGeocode converts a city/state/zip to coordinates.
	ForwardGeocode(ctx context.Context, city, state, zip string) (GeocodingResult, error)

	// ReverseGeocode converts coordinates to place details.
	ReverseGeocode(ctx context.Context, lat, lng float64) (GeocodingResult, error)
}
