package domain

import "time"

// TemporalFeatures describe the calendar position of a day.
type TemporalFeatures struct {
	Month      int  `json:"month"`
	WeekOfYear int  `json:"week_of_year"`
	DayOfWeek  int  `json:"day_of_week"` // 0 = Sunday
	IsWeekend  bool `json:"is_weekend"`
}

// WeatherFeatures are trailing weather aggregates. Nil means no weather data
// covered the window.
type WeatherFeatures struct {
	TempAvg7d      *float64 `json:"temp_avg_7d,omitempty"`
	TempAvg30d     *float64 `json:"temp_avg_30d,omitempty"`
	PrecipTotal7d  *float64 `json:"precip_total_7d,omitempty"`
	PrecipTotal30d *float64 `json:"precip_total_30d,omitempty"`
	HumidityAvg7d  *float64 `json:"humidity_avg_7d,omitempty"`
	HumidityAvg30d *float64 `json:"humidity_avg_30d,omitempty"`
}

// Complete7d reports whether all three 7-day weather features are present.
func (w WeatherFeatures) Complete7d() bool {
	return w.TempAvg7d != nil && w.PrecipTotal7d != nil && w.HumidityAvg7d != nil
}

// HistoricalFeatures are lagged and rolling pressure statistics. Nil means the
// window did not reach far enough back.
type HistoricalFeatures struct {
	Pressure7dAgo   *float64 `json:"pressure_7d_ago,omitempty"`
	Pressure30dAgo  *float64 `json:"pressure_30d_ago,omitempty"`
	Pressure365dAgo *float64 `json:"pressure_365d_ago,omitempty"`
	RollingAvg7d    *float64 `json:"rolling_avg_7d,omitempty"`
	RollingAvg30d   *float64 `json:"rolling_avg_30d,omitempty"`
}

// FeatureVector is the model input for one scope and calendar day. Target is
// that day's pressure.
type FeatureVector struct {
	Scope            string             `json:"scope"`
	CompanyID        string             `json:"company_id,omitempty"`
	PestType         string             `json:"pest_type,omitempty"`
	Location         Location           `json:"location"`
	Date             time.Time          `json:"date"`
	ObservationCount int                `json:"observation_count"`
	Temporal         TemporalFeatures   `json:"temporal"`
	Weather          WeatherFeatures    `json:"weather"`
	Historical       HistoricalFeatures `json:"historical"`
	Target           float64            `json:"target"`
}
