package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

func day(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }

func intPtr(v int) *int { return &v }

func obsAt(t time.Time, urgency int, mentions int, confidence float64) domain.Observation {
	return domain.Observation{
		CompanyID:       "acme",
		PestType:        "ants",
		MentionsCount:   mentions,
		UrgencyLevel:    intPtr(urgency),
		ConfidenceScore: confidence,
		ObservedAt:      t.Add(10 * time.Hour),
		Location:        domain.Location{City: "Austin", State: "TX", Lat: 30.2672, Lng: -97.7431},
	}
}

func TestDailyPressure(t *testing.T) {
	tests := []struct {
		name string
		obs  []domain.Observation
		want float64
	}{
		{"no observations", nil, 0},
		{"single default urgency", []domain.Observation{{MentionsCount: 1, ConfidenceScore: 1}}, 5.1},
		{
			"confidence weighted",
			[]domain.Observation{
				{UrgencyLevel: intPtr(8), ConfidenceScore: 0.75, MentionsCount: 0},
				{UrgencyLevel: intPtr(4), ConfidenceScore: 0.25, MentionsCount: 0},
			},
			7,
		},
		{"volume boost capped at 2", []domain.Observation{{UrgencyLevel: intPtr(3), ConfidenceScore: 1, MentionsCount: 50}}, 5},
		{"clamped to 10", []domain.Observation{{UrgencyLevel: intPtr(10), ConfidenceScore: 1, MentionsCount: 30}}, 10},
		{"zero confidence counts as 1", []domain.Observation{{UrgencyLevel: intPtr(6), MentionsCount: 0}}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DailyPressure(tt.obs), 1e-9)
		})
	}
}

func TestTemporal(t *testing.T) {
	f := Temporal(day(1, 7))
	assert.Equal(t, 1, f.WeekOfYear)
	assert.Equal(t, 2, Temporal(day(1, 8)).WeekOfYear)
	assert.Equal(t, 1, f.Month)

	sat := Temporal(day(7, 6))
	assert.Equal(t, int(time.Saturday), sat.DayOfWeek)
	assert.True(t, sat.IsWeekend)
	assert.False(t, Temporal(day(7, 8)).IsWeekend)
}

func TestBuild_OneVectorPerDayWithTargetsInRange(t *testing.T) {
	var obs []domain.Observation
	for d := 1; d <= 20; d += 3 {
		obs = append(obs, obsAt(day(6, d), d%10+1, d, 0.9))
	}
	vectors := Build(Input{
		Scope:        domain.CompanyScope("acme"),
		PestType:     "ants",
		Start:        day(6, 1),
		End:          day(6, 30),
		Observations: obs,
	})

	require.Len(t, vectors, 30)
	for i, v := range vectors {
		assert.Equal(t, day(6, 1).AddDate(0, 0, i), v.Date)
		assert.GreaterOrEqual(t, v.Target, 0.0)
		assert.LessOrEqual(t, v.Target, 10.0)
		assert.Equal(t, "company:acme", v.Scope)
		assert.Equal(t, "acme", v.CompanyID)
	}
	assert.Equal(t, 1, vectors[0].ObservationCount)
	assert.Zero(t, vectors[1].ObservationCount)
	assert.Zero(t, vectors[1].Target, "a day with no observations has zero pressure")
}

// Rolling averages skip zero-pressure days; lagged values do not.
//
//	day:    1  2  3  4  5  6  7  8  9
//	target: 4  0  6  0  0  0  0  0  ?
func TestBuild_RollingAveragesExcludeZeroDays(t *testing.T) {
	obs := []domain.Observation{
		{UrgencyLevel: intPtr(4), ConfidenceScore: 1, ObservedAt: day(3, 1)},
		{UrgencyLevel: intPtr(6), ConfidenceScore: 1, ObservedAt: day(3, 3)},
	}
	vectors := Build(Input{Scope: domain.CompanyScope("acme"), Start: day(3, 1), End: day(3, 9), Observations: obs})
	require.Len(t, vectors, 9)

	assert.Nil(t, vectors[0].Historical.RollingAvg7d, "nothing before the first day")

	d4 := vectors[3].Historical
	require.NotNil(t, d4.RollingAvg7d)
	assert.InDelta(t, 5, *d4.RollingAvg7d, 1e-9, "mean of 4 and 6, the zero on day 2 is excluded")

	// Day 9's 7-day window is days 2..8 which holds only the 6 on day 3.
	d9 := vectors[8].Historical
	require.NotNil(t, d9.RollingAvg7d)
	assert.InDelta(t, 6, *d9.RollingAvg7d, 1e-9)
	require.NotNil(t, d9.RollingAvg30d)
	assert.InDelta(t, 5, *d9.RollingAvg30d, 1e-9)

	require.NotNil(t, vectors[7].Historical.Pressure7dAgo)
	assert.InDelta(t, 4, *vectors[7].Historical.Pressure7dAgo, 1e-9)
	require.NotNil(t, vectors[8].Historical.Pressure7dAgo)
	assert.Zero(t, *vectors[8].Historical.Pressure7dAgo, "lag keeps zero days")
	assert.Nil(t, vectors[8].Historical.Pressure30dAgo, "window too short")
	assert.Nil(t, vectors[8].Historical.Pressure365dAgo)
}

func TestBuild_WeatherWindows(t *testing.T) {
	var weather []domain.WeatherDay
	for d := 1; d <= 10; d++ {
		weather = append(weather, domain.WeatherDay{
			Date: day(5, d), TempAvgF: float64(60 + d), PrecipitationInches: 0.5, HumidityAvgPercent: 40,
		})
	}
	vectors := Build(Input{Scope: domain.Scope{Kind: domain.ScopeNational}, Start: day(5, 10), End: day(5, 12), Weather: weather})
	require.Len(t, vectors, 3)

	w := vectors[0].Weather
	require.True(t, w.Complete7d())
	assert.InDelta(t, 67, *w.TempAvg7d, 1e-9, "mean of days 4..10")
	assert.InDelta(t, 3.5, *w.PrecipTotal7d, 1e-9, "sum over 7 days")
	assert.InDelta(t, 40, *w.HumidityAvg7d, 1e-9)
	assert.InDelta(t, 65.5, *w.TempAvg30d, 1e-9, "only cached days count")
	assert.InDelta(t, 5, *w.PrecipTotal30d, 1e-9)

	last := vectors[2].Weather
	require.NotNil(t, last.TempAvg7d)
	assert.InDelta(t, 68, *last.TempAvg7d, 1e-9, "days 6..10 remain in the window")

	empty := Build(Input{Scope: domain.Scope{Kind: domain.ScopeNational}, Start: day(9, 1), End: day(9, 1), Weather: weather})
	assert.False(t, empty[0].Weather.Complete7d())
	assert.Nil(t, empty[0].Weather.TempAvg30d)
}

func TestModalLocation(t *testing.T) {
	a := domain.Location{City: "Austin", State: "TX", Lat: 30.2672, Lng: -97.7431}
	d := domain.Location{City: "Dallas", State: "TX", Lat: 32.7767, Lng: -96.797}
	obs := []domain.Observation{{Location: d}, {Location: a}, {Location: a}, {Location: domain.Location{State: "OK"}}}

	assert.Equal(t, a, ModalLocation(obs))
	assert.Equal(t, []domain.Coordinate{a.Coordinate(), d.Coordinate()}, TopCoordinates(obs, 5))
	assert.Len(t, TopCoordinates(obs, 1), 1)

	placeOnly := []domain.Observation{{Location: domain.Location{City: "Tulsa", State: "OK"}}}
	assert.Equal(t, "Tulsa", ModalLocation(placeOnly).City)
}
