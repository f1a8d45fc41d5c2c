package http

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/robertarktes/campus-marketplace/internal/idempotency"
	"github.com/robertarktes/campus-marketplace/internal/observability"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	userKey
)

const (
	IdempotencyHeader = "Idempotency-Key"
	maxIdempotencyKey = 128
)

func loggerFrom(ctx context.Context, fallback observability.Logger) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return fallback
}

// userID returns the authenticated caller, or uuid.Nil for anonymous requests.
func userID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(userKey).(uuid.UUID)
	return id
}

func withUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userKey, id)
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

// LoggerMiddleware attaches a request-scoped logger and records the request
// metrics once the handler returns.
func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := logger.WithField("request_id", middleware.GetReqID(r.Context()))
			ctx := context.WithValue(r.Context(), loggerKey, entry)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
			observability.RequestDuration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())

			entry.WithField("method", r.Method).
				WithField("route", route).
				WithField("status", status).
				WithField("latency_ms", elapsed.Milliseconds()).
				Info("request")
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer("http").Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.Int("http.status_code", ww.Status()),
		)
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

// Authenticate resolves an optional bearer token. A malformed or expired token
// is rejected outright rather than treated as anonymous.
func (h *Handlers) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "expected a bearer token", Code: "unauthorized"})
			return
		}
		id, err := h.identity.Authenticate(strings.TrimSpace(token))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ctx := withUserID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID(r.Context()) == uuid.Nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required", Code: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit counts requests per user when authenticated and per client IP
// otherwise. Limiter failures let the request through.
func (h *Handlers) RateLimit(userRate, ipRate int, period time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if h.limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, rate := "ip:"+clientIP(r), ipRate
			if id := userID(r.Context()); id != uuid.Nil {
				key, rate = "user:"+id.String(), userRate
			}
			ok, err := h.limiter.Allow(r.Context(), key, rate, period)
			if err != nil {
				loggerFrom(r.Context(), h.logger).WithError(err).Warn("rate limiter unavailable")
			} else if !ok {
				w.Header().Set("Retry-After", retryAfter(period))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Code: "rate_limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfter(d time.Duration) string {
	s := int(d.Seconds())
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}

// Idempotent replays the stored response for a repeated Idempotency-Key. Keys
// are scoped to the caller and the route, and requests without one pass through.
// Only responses below 500 are stored, so a failed request can be retried.
func (h *Handlers) Idempotent(next http.Handler) http.Handler {
	if h.idemp == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(header) > maxIdempotencyKey {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Idempotency-Key is too long", Code: "invalid_input"})
			return
		}
		ctx := r.Context()
		key := userID(ctx).String() + ":" + r.Method + ":" + r.URL.Path + ":" + header

		if h.replayStored(w, r, key) {
			return
		}

		release, err := h.idemp.Begin(ctx, key)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		defer release(context.WithoutCancel(ctx))

		// A request with the same key may have finished between the lookup and the claim.
		if h.replayStored(w, r, key) {
			return
		}

		var body bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&body)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 || status >= http.StatusInternalServerError {
			return
		}
		resp := idempotency.Response{Status: status, ContentType: w.Header().Get("Content-Type"), Body: body.Bytes()}
		if err := h.idemp.Set(context.WithoutCancel(ctx), key, resp); err != nil {
			loggerFrom(ctx, h.logger).WithError(err).Warn("failed to store idempotent response")
		}
	})
}

// replayStored writes the stored response for key, if any, and reports whether
// the request has been answered.
func (h *Handlers) replayStored(w http.ResponseWriter, r *http.Request, key string) bool {
	stored, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return true
	}
	if stored == nil {
		return false
	}
	replay(w, stored)
	return true
}

func replay(w http.ResponseWriter, resp *idempotency.Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
