package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haasonsaas/loom/internal/agent"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAgentError maps a runner failure onto an HTTP status. Quota
// exhaustion gets 429 with the user-facing rendering; everything else is
// a bad gateway.
func writeAgentError(w http.ResponseWriter, err error) {
	var qe *agent.QuotaError
	if errors.As(err, &qe) {
		writeError(w, http.StatusTooManyRequests, qe.UserMessage())
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// observe logs each request and records its latency under the chi route
// pattern so metrics cardinality stays bounded.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		pattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, pattern, strconv.Itoa(rec.status), elapsed.Seconds())
		}
		s.logger.Debug(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}
