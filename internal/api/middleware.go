package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leafsii/nft-marketplace/internal/address"
)

const (
	HeaderCallerAddress   = "X-Caller-Address"
	HeaderCallerSignature = "X-Caller-Signature"
	HeaderRequestID       = "X-Request-ID"

	maxSignedBody = 1 << 20
)

type callerKey struct{}

type Middleware struct {
	logger  *zap.SugaredLogger
	metrics MetricsInterface
}

func NewMiddleware(logger *zap.SugaredLogger, metrics MetricsInterface) *Middleware {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Middleware{
		logger:  logger,
		metrics: metrics,
	}
}

// CORS middleware
func (m *Middleware) CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderCallerAddress, HeaderCallerSignature, HeaderRequestID},
		ExposedHeaders:   []string{HeaderRequestID},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// RateLimit allows rpm requests per minute with a burst of a sixth of that.
// Zero disables limiting.
func (m *Middleware) RateLimit(rpm int) func(http.Handler) http.Handler {
	if rpm <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	burst := rpm / 6
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeErrorResponse(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Request logging middleware
func (m *Middleware) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			duration := time.Since(start)
			m.logger.Infow("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"status", ww.Status(),
				"size", ww.BytesWritten(),
				"duration", duration,
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
			if m.metrics != nil {
				m.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, ww.Status(), duration)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

// Security headers middleware
func (m *Middleware) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Compress gzips JSON responses.
func (m *Middleware) Compress(next http.Handler) http.Handler {
	return middleware.Compress(5, "application/json", "text/plain")(next)
}

// Recovery middleware with structured logging
func (m *Middleware) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				m.logger.Errorw("Panic recovered",
					"panic", rvr,
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL", http.StatusText(http.StatusInternalServerError))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// RequestID reuses the caller's X-Request-ID or assigns a fresh one.
func (m *Middleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, requestID)
		w.Header().Set(HeaderRequestID, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Timeout middleware
func (m *Middleware) Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, "Request timeout")
	}
}

// Authenticate resolves the caller of a state-changing request.
//
// Without signatures the caller is taken from X-Caller-Address. With
// requireSignatures, X-Caller-Signature must hold a hex compact secp256k1
// signature over address.RequestDigest(method, path, body); the recovered
// signer is the caller and must match X-Caller-Address when that is sent.
func (m *Middleware) Authenticate(requireSignatures bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var claimed address.Address
			if raw := r.Header.Get(HeaderCallerAddress); raw != "" {
				addr, err := address.Parse(raw)
				if err != nil {
					writeErrorResponse(w, http.StatusUnauthorized, "INVALID_CALLER", err.Error())
					return
				}
				claimed = addr
			}

			if !requireSignatures {
				if claimed.IsZero() {
					writeErrorResponse(w, http.StatusUnauthorized, "MISSING_CALLER", HeaderCallerAddress+" is required")
					return
				}
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), claimed)))
				return
			}

			sig, err := hex.DecodeString(strings.TrimPrefix(r.Header.Get(HeaderCallerSignature), "0x"))
			if err != nil || len(sig) == 0 {
				writeErrorResponse(w, http.StatusUnauthorized, "MISSING_SIGNATURE", HeaderCallerSignature+" is required")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeErrorResponse(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			signer, err := address.Recover(address.RequestDigest(r.Method, r.URL.Path, body), sig)
			if err != nil {
				writeErrorResponse(w, http.StatusUnauthorized, "BAD_SIGNATURE", err.Error())
				return
			}
			if !claimed.IsZero() && claimed != signer {
				m.logger.Warnw("Caller address does not match signer", "claimed", claimed, "signer", signer)
				writeErrorResponse(w, http.StatusUnauthorized, "BAD_SIGNATURE", "signature does not match "+HeaderCallerAddress)
				return
			}

			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), signer)))
		})
	}
}

func withCaller(ctx context.Context, caller address.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the authenticated caller, or the zero address.
func CallerFrom(ctx context.Context) address.Address {
	if caller, ok := ctx.Value(callerKey{}).(address.Address); ok {
		return caller
	}
	return address.Zero
}
