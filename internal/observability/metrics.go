package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pest_pipeline"

// Metrics holds the Prometheus counters, histograms, and gauges for the pipeline.
type Metrics struct {
	// Job runner metrics.
	JobsConsumed  prometheus.Counter
	JobResults    *prometheus.CounterVec   // labels: job={aggregate,train,train_scope,predict}, outcome={success,error,invalid}
	JobDuration   *prometheus.HistogramVec // labels: job
	WorkerRunning prometheus.Gauge

	// Aggregation metrics.
	ObservationsInserted *prometheus.CounterVec // labels: source={call,form,lead}
	ObservationsSkipped  *prometheus.CounterVec // labels: source
	ObservationErrors    *prometheus.CounterVec // labels: source
	ExtractionOutcomes   *prometheus.CounterVec // labels: outcome={extracted,empty,failed}

	// LLM usage metrics.
	LLMRequests  *prometheus.CounterVec // labels: outcome={success,retry,error}
	LLMTokens    *prometheus.CounterVec // labels: direction={in,out}
	LLMCostCents prometheus.Counter

	// Weather metrics.
	WeatherCache       *prometheus.CounterVec   // labels: result={hit,miss}, counted per date
	WeatherRequests    *prometheus.CounterVec   // labels: endpoint={archive,forecast}, outcome={success,error}
	WeatherAPIDuration *prometheus.HistogramVec // labels: endpoint

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={forward,reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={forward,reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={forward,reverse}
	GeocodeEnabled     prometheus.Gauge

	// Training metrics.
	ModelsTrained      *prometheus.CounterVec // labels: model_type, outcome={success,insufficient_data,error}
	ActivationFailures prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewUnregisteredMetrics creates Metrics that are not registered anywhere.
// One-shot commands without a /metrics endpoint use it.
func NewUnregisteredMetrics() *Metrics {
	return newMetrics()
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, so
// tests can build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		JobsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_consumed_total",
			Help:      "Total job requests read from the jobs topic.",
		}),
		JobResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_results_total",
			Help:      "Completed jobs by kind and outcome.",
		}, []string{"job", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of a single batch job.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"job"}),
		WorkerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_running",
			Help:      "1 when the job worker is active, 0 when shut down.",
		}),
		ObservationsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_inserted_total",
			Help:      "Observations written, by source type.",
		}, []string{"source"}),
		ObservationsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_skipped_total",
			Help:      "Observations skipped as duplicates, by source type.",
		}, []string{"source"}),
		ObservationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observation_errors_total",
			Help:      "Observation writes that failed, by source type.",
		}, []string{"source"}),
		ExtractionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_outcomes_total",
			Help:      "Transcript extractions by outcome.",
		}, []string{"outcome"}),
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM generate attempts by outcome.",
		}, []string{"outcome"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens consumed by direction.",
		}, []string{"direction"}),
		LLMCostCents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_cents_total",
			Help:      "Estimated LLM spend in US cents.",
		}),
		WeatherCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_cache_days_total",
			Help:      "Weather dates served from cache or missing from it.",
		}, []string{"result"}),
		WeatherRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_requests_total",
			Help:      "Weather provider requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		WeatherAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "weather_api_duration_seconds",
			Help:      "Weather provider request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when geocoding enrichment is enabled, 0 otherwise.",
		}),
		ModelsTrained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "models_trained_total",
			Help:      "Training runs by model type and outcome.",
		}, []string{"model_type", "outcome"}),
		ActivationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_activation_failures_total",
			Help:      "Trained models saved but not activated.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.JobsConsumed,
		m.JobResults,
		m.JobDuration,
		m.WorkerRunning,
		m.ObservationsInserted,
		m.ObservationsSkipped,
		m.ObservationErrors,
		m.ExtractionOutcomes,
		m.LLMRequests,
		m.LLMTokens,
		m.LLMCostCents,
		m.WeatherCache,
		m.WeatherRequests,
		m.WeatherAPIDuration,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.ModelsTrained,
		m.ActivationFailures,
	}
}
