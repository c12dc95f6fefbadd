package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/metrics"
)

var (
	// RequestDuration records how long HTTP requests take, labelled by status
	// code, method and path.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "http",
			Name:      "request_duration_sec",
			Help:      "Time (in seconds) spent serving HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status_code", "method", "path"},
	)
)

func init() {
	metrics.MustRegister(RequestDuration)
}

type metricsMiddleware struct {
	h        http.Handler
	duration *prometheus.HistogramVec
}

// ServeHTTP is our implementation of the http.Handler interface
func (m *metricsMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cw := newCaptureWriter(w)

	startTime := time.Now()
	m.h.ServeHTTP(cw, r)
	took := time.Since(startTime)

	m.duration.WithLabelValues(
		strconv.Itoa(cw.statusCode), r.Method, r.URL.Path,
	).Observe(took.Seconds())
}

// MetricsMiddleware wraps h so that every request is observed in
// RequestDuration.
func MetricsMiddleware(h http.Handler) http.Handler {
	return &metricsMiddleware{
		h:        h,
		duration: RequestDuration,
	}
}
