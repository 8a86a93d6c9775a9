package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// statusWriter remembers the status code written by the handler.
type statusWriter struct {
	http.ResponseWriter
	code  int
	bytes int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// AccessLog logs one line per request with the request id, status and duration.
// Server errors log at error level, client errors at warn.
func AccessLog(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		reqLog := log.With().
			Str("rid", GetRequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		r = r.WithContext(reqLog.WithContext(r.Context()))

		next.ServeHTTP(sw, r)

		ev := reqLog.Info()
		switch code := sw.status(); {
		case code >= 500:
			ev = reqLog.Error()
		case code >= 400:
			ev = reqLog.Warn()
		}
		ev.Int("status", sw.status()).
			Int("bytes", sw.bytes).
			Dur("dur", time.Since(start)).
			Msg("request completed")
	})
}
