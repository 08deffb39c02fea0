package httpmw

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dydhzo/wastream/internal/log"
	"github.com/dydhzo/wastream/internal/xerrors"
)

// responseWriter wraps http.ResponseWriter to capture status and bytes written
type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	// If WriteHeader hasn't been called yet, default to 200.
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// support Flush if the underlying writer does.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// support Hijack (websockets, etc).
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	return h.Hijack()
}

// livenessPaths are exempt from access logging. Health checkers poll
// them every few seconds and the success lines are pure noise.
var livenessPaths = map[string]bool{
	"/health":    true,
	"/-/healthy": true,
	"/-/ready":   true,
}

// WithLogger enriches the context with a request-scoped logger carrying
// the request ID and connection attributes, so every downstream log
// line is correlated.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Request ID from our RequestID middleware (outer)
			reqID := RequestIDFromContext(ctx)

			clientAddr := ClientIPFromContext(ctx)
			if clientAddr == "" {
				clientAddr = r.RemoteAddr
				if host, _, err := net.SplitHostPort(clientAddr); err == nil {
					clientAddr = host
				}
			}

			if span := trace.SpanFromContext(ctx); span != nil {
				if sc := span.SpanContext(); sc.IsValid() {
					span.SetAttributes(
						attribute.String("request_id", reqID),
						attribute.String("client.address", clientAddr),
						attribute.String("server.address", r.Host),
					)
				}
			}

			L := base.With(
				"request_id", reqID,
				"client.address", clientAddr,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
			)
			ctx = log.WithContext(ctx, L)
			r = r.WithContext(ctx)

			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog emits one line per completed request with method, route,
// status, and duration. Liveness endpoints are exempt. A panicking
// handler still produces a line: the failure is logged with a 500
// status placeholder and the panic is re-raised for the outer recovery
// middleware to turn into a response.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w}

			defer func() {
				if p := recover(); p != nil {
					if p != http.ErrAbortHandler {
						logRequest(rw, r, start, p)
					}
					panic(p)
				}
				logRequest(rw, r, start, nil)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

func logRequest(rw *responseWriter, r *http.Request, start time.Time, panicked any) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	duration := time.Since(start)

	// get route pattern for http.route; for configured addon routes this
	// hides the config secret that lives in the raw path
	routePat := ""
	if rc := chi.RouteContext(ctx); rc != nil {
		routePat = rc.RoutePattern()
	}
	if routePat == "" {
		routePat = r.URL.Path
	}

	if panicked != nil {
		// the handler died before writing; report the status the client
		// will ultimately receive
		err, ok := panicked.(error)
		if !ok {
			err = xerrors.Newf("panic: %v", panicked)
		}
		L.Error(ctx, err, "http request failed",
			"http.response.status_code", http.StatusInternalServerError,
			"http.server.request.duration", duration.Seconds(),
			"http.route", routePat,
		)
		return
	}

	if livenessPaths[r.URL.Path] {
		return
	}

	status := rw.status
	if status == 0 {
		status = http.StatusOK
	}

	L.Info(ctx, "http request",
		"http.response.status_code", status,
		"http.server.request.duration", duration.Seconds(),
		"http.response.body.size", rw.bytes,
		"http.route", routePat,
	)
}
