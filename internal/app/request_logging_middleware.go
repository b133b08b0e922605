package app

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// requestLoggingMiddleware logs one line per request once the handler returns. For SSE
// responses that is when the stream closes, so duration covers the whole answer.
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			// The mux fills Pattern and path values on r while routing.
			route := r.Pattern
			if route == "" {
				route = r.Method + " " + r.URL.Path
			}
			attrs := []slog.Attr{
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status()),
				slog.Int("bytes", rec.written),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			}
			if id := r.PathValue("id"); id != "" && strings.HasPrefix(r.URL.Path, "/api/conversations/") {
				attrs = append(attrs, slog.String("conversation_id", id))
			}
			if name := r.PathValue("name"); name != "" {
				attrs = append(attrs, slog.String("tool_server", name))
			}
			if rec.streaming {
				attrs = append(attrs, slog.Bool("stream", true), slog.Int("flushes", rec.flushes))
			}

			logger.LogAttrs(r.Context(), requestLevel(r.URL.Path, rec.status()), "http request", attrs...)
		})
	}
}

func requestLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest && strings.HasPrefix(path, "/api/"):
		return slog.LevelWarn
	case path == "/readyz" || !strings.HasPrefix(path, "/api/"):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// responseRecorder notes what the handler sent without buffering it.
type responseRecorder struct {
	http.ResponseWriter
	code      int
	written   int
	streaming bool
	flushes   int
}

func (w *responseRecorder) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
		w.streaming = strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream")
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(p []byte) (int, error) {
	if w.code == 0 {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += n
	return n, err
}

func (w *responseRecorder) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

// Flush keeps SSE working through the middleware.
func (w *responseRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		w.flushes++
		flusher.Flush()
	}
}
