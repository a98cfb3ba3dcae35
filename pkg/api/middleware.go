package api

import (
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/caretrust/medlock/pkg/metrics"
)

// statusWriter records the response code for logging and metrics
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// withMiddleware wraps the route table with panic recovery, request
// logging and request metrics
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if v := recover(); v != nil {
				s.logger.Error().
					Interface("panic", v).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("Handler panicked")
				writeError(sw, http.StatusInternalServerError, "internal server error")
			}

			path := s.metricPath(r)
			code := strconv.Itoa(sw.status)
			metrics.HTTPRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
			timer.ObserveDurationVec(metrics.HTTPRequestDuration, path)

			evt := s.logger.Info()
			switch {
			case sw.status >= http.StatusInternalServerError:
				evt = s.logger.Error()
			case sw.status >= http.StatusBadRequest:
				evt = s.logger.Warn()
			}
			evt.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("duration", timer.Duration()).
				Str("remote", r.RemoteAddr).
				Msg("Request handled")
		}()

		next.ServeHTTP(sw, r)
	})
}

// metricPath labels requests by their registered route pattern so
// label cardinality stays bounded by the route table
func (s *Server) metricPath(r *http.Request) string {
	_, pattern := s.mux.Handler(r)
	if pattern == "" {
		return "unmatched"
	}
	return pattern
}
