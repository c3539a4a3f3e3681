package domain

import (
	"context"
	"log/slog"
)

// EnrichLocation fills in what a location is missing: coordinates from a
// city/state/zip, or city/state from coordinates. If geocoder is nil or the
// lookup fails, the location is returned unchanged (graceful degradation).
func EnrichLocation(ctx context.Context, loc Location, geocoder Geocoder, logger *slog.Logger) Location {
	if geocoder == nil {
		return loc
	}

	hasCoords := loc.HasCoordinates()
	hasPlace := (loc.City != "" && loc.State != "") || loc.Zip != ""

	// Forward geocode: place → coordinates.
	if !hasCoords && hasPlace {
		result, err := geocoder.ForwardGeocode(ctx, loc.City, loc.State, loc.Zip)
		if err != nil {
			logger.Warn("forward geocoding failed",
				"city", loc.City,
				"state", loc.State,
				"zip", loc.Zip,
				"error", err,
			)
			return loc
		}
		if result.Lat != 0 || result.Lng != 0 {
			loc.Lat = result.Lat
			loc.Lng = result.Lng
		}
		if loc.State == "" {
			loc.State = result.State
		}
		return loc
	}

	// Reverse geocode: coordinates → place, only when the place is incomplete.
	if hasCoords && (loc.State == "" || loc.City == "") {
		result, err := geocoder.ReverseGeocode(ctx, loc.Lat, loc.Lng)
		if err != nil {
			logger.Warn("reverse geocoding failed",
				"lat", loc.Lat,
				"lng", loc.Lng,
				"error", err,
			)
			return loc
		}
		if loc.City == "" {
			loc.City = result.City
		}
		if loc.State == "" {
			loc.State = result.State
		}
		if loc.Zip == "" {
			loc.Zip = result.Zip
		}
	}

	return loc
}
