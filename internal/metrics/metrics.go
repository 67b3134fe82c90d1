package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricsNamespace       = "embedding_gateway"
	MetricsSubsystemSystem = "system"
	MetricsSubsystemHTTP   = "http"
	MetricsSubsystemAPI    = "api"
	MetricsSubsystemModel  = "model"
	MetricsSubsystemCache  = "cache"

	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

type Metrics interface {
	GetRegistry() *prometheus.Registry

	ObserveAPIEndpointDuration(handler, method, statusCode string, elapsed float64)

	IncrementHTTPRequests()
	IncrementHTTPErrors()

	ObserveLookup(model string, hasVector bool)
	ObserveCache(result string)
}

type InstanceInfo struct {
	ModelName  string
	VectorSize int
}

// metrics used to instrument the gateway in prometheus.
type metrics struct {
	registry *prometheus.Registry

	startTime prometheus.Gauge
	modelInfo prometheus.Gauge

	apiTime *prometheus.HistogramVec

	httpRequestsTotal prometheus.Counter
	httpErrorsTotal   prometheus.Counter

	lookupsTotal *prometheus.CounterVec
	cacheTotal   *prometheus.CounterVec
}

// NewMetrics Factory method to create a new metrics collector.
func NewMetrics(info InstanceInfo) Metrics {
	m := &metrics{}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
		Namespace: MetricsNamespace,
	}))
	m.registry.MustRegister(collectors.NewGoCollector())

	m.startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "start_timestamp_seconds",
		Help:      "The time the gateway started.",
	})
	m.startTime.SetToCurrentTime()
	m.registry.MustRegister(m.startTime)

	m.modelInfo = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemModel,
		Name:      "info",
		Help:      "The loaded embedding model.",
		ConstLabels: prometheus.Labels{
			"model":       info.ModelName,
			"vector_size": strconv.Itoa(info.VectorSize),
		},
	})
	m.modelInfo.Set(1)
	m.registry.MustRegister(m.modelInfo)

	m.apiTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystemAPI,
			Name:      "time_seconds",
			Help:      "Time to execute the api handler",
		},
		[]string{"handler", "method", "status_code"},
	)
	m.registry.MustRegister(m.apiTime)

	m.httpRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemHTTP,
		Name:      "requests_total",
		Help:      "The total number of http API requests.",
	})
	m.registry.MustRegister(m.httpRequestsTotal)

	m.httpErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemHTTP,
		Name:      "errors_total",
		Help:      "The total number of http API errors.",
	})
	m.registry.MustRegister(m.httpErrorsTotal)

	m.lookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemModel,
		Name:      "lookups_total",
		Help:      "The total number of model lookups by outcome.",
	}, []string{"model", "has_vector"})
	m.registry.MustRegister(m.lookupsTotal)

	m.cacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "requests_total",
		Help:      "The total number of embedding cache reads by result.",
	}, []string{"result"})
	m.registry.MustRegister(m.cacheTotal)

	return m
}

func (m *metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *metrics) ObserveAPIEndpointDuration(handler, method, statusCode string, elapsed float64) {
	m.apiTime.With(prometheus.Labels{"handler": handler, "method": method, "status_code": statusCode}).Observe(elapsed)
}

func (m *metrics) IncrementHTTPRequests() {
	m.httpRequestsTotal.Inc()
}

func (m *metrics) IncrementHTTPErrors() {
	m.httpErrorsTotal.Inc()
}

func (m *metrics) ObserveLookup(model string, hasVector bool) {
	label := "false"
	if hasVector {
		label = "true"
	}
	m.lookupsTotal.With(prometheus.Labels{"model": model, "has_vector": label}).Inc()
}

func (m *metrics) ObserveCache(result string) {
	m.cacheTotal.With(prometheus.Labels{"result": result}).Inc()
}

// NewMetricsHandler creates an HTTP handler to expose metrics.
func NewMetricsHandler(m Metrics) http.Handler {
	return promhttp.HandlerFor(m.GetRegistry(), promhttp.HandlerOpts{})
}
