// Package domain models pest-pressure signals and the forecasting models
// trained from them.
//
// # Sources
//
// Raw signals arrive through three channels, in decreasing order of richness:
//
//	call  inbound call with a transcript, run through the LLM extraction bridge
//	form  web form submission with normalized data and a free-text issue field
//	lead  CRM lead, used only as a last-resort fallback for orphaned records
//
// Each source record yields zero or more [Observation] rows, one per canonical
// pest type mentioned. The dedup key is (company_id, source_type, source_id,
// pest_type); inserting the same key twice is a benign no-op surfaced by
// stores as [ErrDuplicateObservation].
//
// # Pest names
//
// Free-text pest names are folded onto canonical types through the synonym
// table in pests.yaml (e.g. "Cockroach", "cockroaches" and "roach" all become
// "roaches"). Form submissions with a non-empty issue field that match no
// keyword produce a single "general_pest_issue" observation.
//
// # Pressure
//
// Daily pressure is a scalar in [0, 10]:
//
//	weighted  = Σ(urgency × confidence) / Σ(confidence)   urgency defaults to 5
//	boost     = min(2, 0.1 × total mentions)
//	pressure  = clamp(weighted + boost, 0, 10)
//
// Days without observations have pressure 0.
//
// # Weather
//
// Weather is keyed by coordinates rounded to 4 decimals (about 11 m) and a
// calendar date. Observed history is immutable, so cache rows are never
// overwritten. Units are imperial: °F and inches.
//
// # Models
//
// Two model types exist, each with its own parameter shape:
//
//	seasonal_forecast   baseline, monthly factors, linear trend, weather weights
//	anomaly_detection   rolling window, z-score threshold, minimum points
//
// A model moves draft → active → superseded. At most one model is active per
// (scope, model_type, pest_type).
package domain
