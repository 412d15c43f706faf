// Package metrics provides Prometheus metrics for the CMS engine
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Database metrics
	DbOperationsTotal   *prometheus.CounterVec
	DbOperationDuration *prometheus.HistogramVec

	// Resolution metrics
	ResolutionsTotal      *prometheus.CounterVec
	AncestorLevels        prometheus.Histogram
	WidgetsRenderedTotal  prometheus.Counter
	WidgetsHiddenTotal    prometheus.Counter
	SlotConfigErrorsTotal prometheus.Counter

	// Version metrics
	VersionWritesTotal *prometheus.CounterVec

	ServerStartTime time.Time
}

// NewMetrics creates all metrics and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry() so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	// gRPC request metrics
	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmsengine_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cmsengine_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "cmsengine_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	// Database metrics
	m.DbOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmsengine_db_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	m.DbOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cmsengine_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// Resolution metrics
	m.ResolutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmsengine_slot_resolutions_total",
			Help: "Total number of slot resolutions",
		},
		[]string{"mode", "status"},
	)

	m.AncestorLevels = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cmsengine_resolution_levels",
			Help:    "Number of live nodes read per slot resolution",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 32, 64},
		},
	)

	m.WidgetsRenderedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "cmsengine_widgets_rendered_total",
			Help: "Total number of widgets returned for rendering",
		},
	)

	m.WidgetsHiddenTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "cmsengine_widgets_hidden_total",
			Help: "Total number of inherited widgets hidden by overrides or type replacement",
		},
	)

	m.SlotConfigErrorsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "cmsengine_slot_config_errors_total",
			Help: "Slots rendered empty because their layout policy was missing",
		},
	)

	// Version metrics
	m.VersionWritesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmsengine_version_writes_total",
			Help: "Total number of version write operations",
		},
		[]string{"operation", "status"},
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "cmsengine_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.ServerStartTime).Seconds() },
	)

	return m
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordDbOperation records a database operation. Its signature matches
// the store observer hook.
func (m *Metrics) RecordDbOperation(operation string, duration time.Duration, err error) {
	m.DbOperationsTotal.WithLabelValues(operation, statusOf(err)).Inc()
	m.DbOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordResolution records the outcome of one slot resolution
func (m *Metrics) RecordResolution(mergeMode bool, levels, rendered, hidden int, err error) {
	mode := "replace"
	if mergeMode {
		mode = "merge"
	}
	m.ResolutionsTotal.WithLabelValues(mode, statusOf(err)).Inc()
	if err != nil {
		return
	}
	m.AncestorLevels.Observe(float64(levels))
	m.WidgetsRenderedTotal.Add(float64(rendered))
	m.WidgetsHiddenTotal.Add(float64(hidden))
}

// RecordSlotConfigErrors counts slots a page rendered empty
func (m *Metrics) RecordSlotConfigErrors(n int) {
	m.SlotConfigErrorsTotal.Add(float64(n))
}

// RecordVersionWrite records a create, publish, unpublish or restore
func (m *Metrics) RecordVersionWrite(operation string, err error) {
	m.VersionWritesTotal.WithLabelValues(operation, statusOf(err)).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
