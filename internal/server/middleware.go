package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"
)

// slowRequestThreshold flags requests that point at a wedged store or an
// oversized snapshot; normal API calls answer in milliseconds.
const slowRequestThreshold = 5 * time.Second

// wrap applies the middleware chain. WebSocket upgrades skip logging and
// recovery so the hijacked connection is handed over unwrapped; they still
// get CORS headers for cross-origin dashboards.
func (s *Server) wrap(handler http.Handler) http.Handler {
	chained := s.withRecovery(s.withRequestLog(handler))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applyCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if r.URL.Path == "/ws" {
			handler.ServeHTTP(w, r)
			return
		}

		chained.ServeHTTP(w, r)
	})
}

func applyCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// withRequestLog emits one line per request once the status is known.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		entry := s.app.Logger.Debug()
		if elapsed > slowRequestThreshold {
			entry = s.app.Logger.Warn()
		}
		entry.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int("bytes", rec.bytes).
			Dur("duration", elapsed).
			Msg("HTTP request")
	})
}

// withRecovery converts a handler panic into a 500 instead of killing the
// engine while checks are in flight.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.app.Logger.Error().
					Str("error", fmt.Sprintf("%v", v)).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Handler panic recovered")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status and body size for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

// Hijack keeps WebSocket upgrades working behind the recorder.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// Flush lets streaming handlers push partial responses through the recorder.
func (rec *statusRecorder) Flush() {
	if flusher, ok := rec.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
