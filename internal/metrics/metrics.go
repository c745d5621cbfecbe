package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	conversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "savemedia",
			Name:      "conversions_total",
			Help:      "Total conversions by kind and result",
		},
		[]string{"kind", "result"},
	)

	conversionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "savemedia",
			Name:      "conversion_duration_seconds",
			Help:      "Duration of conversions by kind",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	uploadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "savemedia",
			Name:      "upload_bytes",
			Help:      "Size of accepted uploads in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	mediaRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "savemedia",
			Name:      "media_requests_total",
			Help:      "Media extraction requests by platform and result",
		},
		[]string{"platform", "result"},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "savemedia",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter",
		},
	)

	sweptDirs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "savemedia",
			Name:      "temp_dirs_swept_total",
			Help:      "Abandoned request temp directories removed by the janitor",
		},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(conversions, conversionLatency, uploadBytes, mediaRequests, rateLimited, sweptDirs)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveConversion(kind, result string, dur time.Duration) {
	conversions.WithLabelValues(kind, result).Inc()
	conversionLatency.WithLabelValues(kind).Observe(dur.Seconds())
}

func ObserveUpload(size int64) { uploadBytes.Observe(float64(size)) }

func IncMedia(platform, result string) { mediaRequests.WithLabelValues(platform, result).Inc() }

func IncRateLimited() { rateLimited.Inc() }

func IncSwept(n int) { sweptDirs.Add(float64(n)) }
