// metrics.go — Prometheus HTTP метрики LARS Uploader.
// Регистрирует метрики: lars_http_requests_total, lars_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lars_http_requests_total",
			Help: "Общее количество HTTP-запросов к LARS Uploader",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lars_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к LARS Uploader в секундах",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			ww := wrap(w, r)
			next.ServeHTTP(ww, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(statusOf(ww))).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет идентификатор ресурса на {id}.
// /api/v1/assets/3f1c... → /api/v1/assets/{id}
// /api/v1/assets/3f1c.../state → /api/v1/assets/{id}/state
// Неизвестные пути сводятся к "other".
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/uploads", "/api/v1/visibility-cache/rebuild":
		return path
	}

	const assetsPrefix = "/api/v1/assets/"
	if rest, ok := strings.CutPrefix(path, assetsPrefix); ok && rest != "" {
		id, suffix, _ := strings.Cut(rest, "/")
		if id == "" {
			return "other"
		}
		switch suffix {
		case "":
			return "/api/v1/assets/{id}"
		case "state":
			return "/api/v1/assets/{id}/state"
		}
	}
	return "other"
}
