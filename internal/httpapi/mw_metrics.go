package httpapi

import (
	"net/http"
	"time"

	"github.com/Helix48/realistic-chess-puzzles/internal/metrics"
)

// instrument records the request duration under a fixed route label, so
// path parameters never reach the metric labels.
func instrument(m *metrics.Metrics, route string, next http.HandlerFunc) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw, ok := w.(*statusWriter)
		if !ok {
			sw = &statusWriter{ResponseWriter: w}
		}
		next(sw, r)
		m.ObserveHTTP(route, r.Method, sw.status(), time.Since(start))
	})
}
