package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/lexcite/corpuscore/internal/apperr"
	"github.com/lexcite/corpuscore/internal/auth"
	"github.com/lexcite/corpuscore/internal/model"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// RequestIDFromContext returns the request ID stashed by requestIDMiddleware,
// or "" if none is present.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(contextKeyRequestID).(string)
	return v
}

// requestIDMiddleware assigns a request ID, reusing an inbound X-Request-ID
// if it looks valid.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !isValidRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isValidRequestID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return true
}

// statusWriter wraps http.ResponseWriter to capture the status code for
// logging, while still supporting Flush (SSE/NDJSON streaming) and Unwrap
// (so http.ResponseController works through the wrapper).
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytes       int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}

// loggingMiddleware logs one structured line per request.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", RequestIDFromContext(r.Context()),
			)
		})
	}
}

var (
	httpRequestCount metric.Int64Counter
	httpDuration     metric.Float64Histogram
)

func init() {
	meter := otel.Meter("corpuscore/server")
	var err error
	httpRequestCount, err = meter.Int64Counter("http_server_requests_total")
	if err != nil {
		httpRequestCount, _ = meter.Int64Counter("http_server_requests_total_fallback")
	}
	httpDuration, err = meter.Float64Histogram("http_server_request_duration_ms")
	if err != nil {
		httpDuration, _ = meter.Float64Histogram("http_server_request_duration_ms_fallback")
	}
}

// tracingMiddleware starts a span per request and records request-count and
// duration metrics keyed by r.Pattern when it is set on the request this
// middleware receives, else by the raw URL path. The ServeMux sets the
// pattern on a later copy of the request (inner middleware passes copies made
// with WithContext), so in the server's chain the raw path is recorded.
func tracingMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer("corpuscore/server")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		pattern := r.Pattern
		if pattern == "" {
			pattern = r.URL.Path
		}
		attrs := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.route", pattern),
			attribute.Int("http.status_code", sw.status),
		}
		span.SetAttributes(attrs...)
		httpRequestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
		httpDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
	})
}

// baggageMiddleware propagates inbound W3C baggage into the span context.
func baggageMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bag, err := baggage.Parse(r.Header.Get("baggage"))
		if err == nil {
			r = r.WithContext(baggage.ContextWithBaggage(r.Context(), bag))
		}
		next.ServeHTTP(w, r)
	})
}

// noAuthPaths lists routes that never require X-API-Key.
var noAuthPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// requireAPIKey compares the inbound X-API-Key header against the
// configured shared secret. There is no per-agent identity or role in this
// service — a single external caller (the product backend) holds the key.
//
// The replay-packet route additionally accepts a signed, short-lived
// Authorization: Bearer service token in place of X-API-Key, for internal
// services (e.g. the eval harness) that replay past runs without holding
// the product backend's shared secret. tokens may be nil, in which case
// that route falls back to X-API-Key only.
func requireAPIKey(expected string, tokens *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if noAuthPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if key := r.Header.Get("X-API-Key"); expected != "" && key == expected {
				next.ServeHTTP(w, r)
				return
			}
			if tokens != nil && strings.HasPrefix(r.URL.Path, "/replay-packet/") {
				if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					if _, err := tokens.ValidateToken(bearer); err == nil {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			writeError(w, http.StatusUnauthorized, "invalid or missing credentials")
		})
	}
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.APIError{Error: msg})
}

// writeInternalError logs err and writes a generic 500, never leaking
// internal error text to the caller.
func writeInternalError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	logger.Error("internal_error", "error", err, "failure_reason", apperr.ReasonOf(err),
		"request_id", RequestIDFromContext(r.Context()), "path", r.URL.Path)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// recoveryMiddleware converts a panic in a downstream handler into a 500.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic_recovered", "panic", rec, "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware allows a configurable set of origins, or "*" for any.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	set := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		set[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || set[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-ID")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// securityHeadersMiddleware sets baseline hardening headers on every response.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// decodeJSON decodes r.Body into v, rejecting unknown fields and bodies
// larger than maxBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
