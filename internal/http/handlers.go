package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tileproxy/internal/config"
	"tileproxy/internal/metrics"
	"tileproxy/internal/pool"
	"tileproxy/internal/quadkey"
	"tileproxy/internal/upstream"
)

const (
	healthBody        = "OK"
	tileContentType   = "image/jpeg"
	tileCacheControl  = "public, max-age=86400"
	fetchTimeHeader   = "X-Fetch-Time"
	requestIDHeader   = "X-Request-Id"
	routeHint         = "Invalid tile URL format. Use: /z/x/y.jpg"
	internalErrorText = "Internal server error"
)

// TileFetcher performs the single upstream fetch for a quadkey.
type TileFetcher interface {
	Fetch(ctx context.Context, quadkey string) (*upstream.Tile, error)
}

type Handlers struct {
	config  *config.Config
	logger  *zap.Logger
	fetcher TileFetcher
	pool    *pool.Pool
	metrics *metrics.Metrics
}

func New(config *config.Config, logger *zap.Logger, fetcher TileFetcher, fetchPool *pool.Pool, m *metrics.Metrics) *Handlers {
	return &Handlers{
		config:  config,
		logger:  logger,
		fetcher: fetcher,
		pool:    fetchPool,
		metrics: m,
	}
}

type requestIDKey struct{}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		w.Header().Set(requestIDHeader, requestID)
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID)))

		duration := time.Since(start)
		bytes := wrapped.bytesWritten

		h.logger.Debug("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", bytes),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigin := h.config.AllowedOrigin
		if allowedOrigin == "" {
			allowedOrigin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a panic into a generic 500; the detail only goes to the log.
func (h *Handlers) RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			h.requestLogger(r).Error("Unexpected error",
				zap.String("path", r.URL.Path),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			h.metrics.RecordRequest(metrics.OutcomeInternalError)
			http.Error(w, internalErrorText, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		w.Write([]byte(healthBody))
	}
}

func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	log := h.requestLogger(r)

	coord, ext, err := ParseTilePath(r.URL.Path)
	if err != nil {
		log.Debug("Unmatched tile route", zap.String("path", r.URL.Path))
		h.metrics.RecordRequest(metrics.OutcomeRouteNotFound)
		http.Error(w, routeHint, http.StatusNotFound)
		return
	}

	log = log.With(zap.Int("z", coord.Zoom), zap.Int("x", coord.X), zap.Int("y", coord.Y))

	if err := coord.Validate(); err != nil {
		switch {
		case errors.Is(err, quadkey.ErrInvalidZoom):
			log.Info("Rejected tile request", zap.Error(err))
			h.metrics.RecordRequest(metrics.OutcomeInvalidZoom)
			http.Error(w, "Invalid zoom level", http.StatusBadRequest)
		default:
			log.Info("Rejected tile request", zap.Error(err))
			h.metrics.RecordRequest(metrics.OutcomeInvalidCoordinates)
			http.Error(w, "Invalid tile coordinates", http.StatusBadRequest)
		}
		return
	}

	qk := quadkey.Encode(coord)
	log = log.With(zap.String("quadkey", qk), zap.String("ext", ext))

	ctx, cancel := context.WithTimeout(r.Context(), h.config.UpstreamTimeout)
	defer cancel()

	release, err := h.pool.Acquire(ctx)
	if err != nil {
		log.Error("No fetch slot available", zap.Error(err))
		h.metrics.RecordRequest(metrics.OutcomeInternalError)
		http.Error(w, internalErrorText, http.StatusInternalServerError)
		return
	}
	defer release()

	start := time.Now()
	tile, err := h.fetcher.Fetch(ctx, qk)
	release()

	if err != nil {
		h.writeFetchError(w, log, err, time.Since(start))
		return
	}

	h.metrics.RecordFetch("ok", tile.Elapsed)

	w.Header().Set("Content-Type", tileContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(tile.Data)))
	w.Header().Set("Cache-Control", tileCacheControl)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set(fetchTimeHeader, fmt.Sprintf("%.3f", tile.Elapsed.Seconds()))
	w.WriteHeader(http.StatusOK)

	if r.Method != http.MethodHead {
		if _, err := w.Write(tile.Data); err != nil {
			log.Warn("Failed to write tile", zap.Error(err))
		}
	}

	h.metrics.RecordRequest(metrics.OutcomeServed)
	center := coord.Bound().Center()
	log.Info("Served tile",
		zap.Int("bytes", len(tile.Data)),
		zap.Float64("lon", center.X()),
		zap.Float64("lat", center.Y()),
		zap.String("fetch_time", fmt.Sprintf("%.3f", tile.Elapsed.Seconds())),
	)
}

func (h *Handlers) writeFetchError(w http.ResponseWriter, log *zap.Logger, err error, elapsed time.Duration) {
	var upErr *upstream.Error
	if !errors.As(err, &upErr) {
		log.Error("Unexpected error", zap.Error(err))
		h.metrics.RecordRequest(metrics.OutcomeInternalError)
		http.Error(w, internalErrorText, http.StatusInternalServerError)
		return
	}

	h.metrics.RecordFetch(upErr.Kind.String(), elapsed)

	switch upErr.Kind {
	case upstream.KindRejected:
		log.Error("HTTP error fetching tile",
			zap.String("url", upErr.URL),
			zap.Int("status", upErr.StatusCode),
			zap.String("reason", upErr.Reason),
		)
		h.metrics.RecordUpstreamStatus(upErr.StatusCode)
		h.metrics.RecordRequest(metrics.OutcomeUpstreamRejected)
		http.Error(w, "Error fetching tile: "+upErr.Reason, upErr.StatusCode)
	case upstream.KindUnreachable:
		log.Error("Transport error fetching tile",
			zap.String("url", upErr.URL),
			zap.Duration("elapsed", elapsed),
			zap.Error(upErr.Err),
		)
		h.metrics.RecordRequest(metrics.OutcomeUpstreamUnreachable)
		http.Error(w, "Error fetching tile", http.StatusInternalServerError)
	default:
		log.Error("Unexpected error", zap.String("url", upErr.URL), zap.Error(upErr.Err))
		h.metrics.RecordRequest(metrics.OutcomeInternalError)
		http.Error(w, internalErrorText, http.StatusInternalServerError)
	}
}

func (h *Handlers) requestLogger(r *http.Request) *zap.Logger {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return h.logger.With(zap.String("request_id", id))
	}
	return h.logger
}

// Not for real production use due to potential spoofing
// but it's fine for logging
func (h *Handlers) extractIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return hostOnly(ip)
	}

	if addr := r.RemoteAddr; addr != "" {
		return hostOnly(addr)
	}

	return "unknown"
}

// hostOnly drops the port from host:port or [v6]:port; bare hosts pass through.
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
