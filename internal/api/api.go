// Package api is the HTTP front door for export and import.
//
// Authentication happens upstream; the caller's user id arrives in the
// X-User-ID header and is trusted as-is.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/slimatic/zakapp-sub004/internal/commit"
	"github.com/slimatic/zakapp-sub004/internal/exporter"
	"github.com/slimatic/zakapp-sub004/internal/importer"
	"github.com/slimatic/zakapp-sub004/internal/metrics"
	"github.com/slimatic/zakapp-sub004/internal/store"
)

// UserHeader carries the authenticated user id.
const UserHeader = "X-User-ID"

// MaxPayloadBytes bounds import request bodies.
const MaxPayloadBytes = 64 << 20

// Handler serves the export and import endpoints.
type Handler struct {
	store     store.TxStore
	assembler *exporter.Assembler
	importer  *importer.Importer
	metrics   *metrics.Recorder
	validate  *validator.Validate
	logger    *slog.Logger

	atomicity commit.Mode
	parallel  bool
	keySalt   []byte
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithMetrics serves rec on /metrics.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(h *Handler) { h.metrics = rec }
}

// WithAtomicity sets the default atomicity for imports that do not ask
// for one.
func WithAtomicity(m commit.Mode, parallel bool) Option {
	return func(h *Handler) {
		h.atomicity = m
		h.parallel = parallel
	}
}

// WithKeySalt enables "pass:<passphrase>" export keys derived under salt.
func WithKeySalt(salt string) Option {
	return func(h *Handler) { h.keySalt = []byte(salt) }
}

// NewHandler returns a Handler over st.
func NewHandler(st store.TxStore, a *exporter.Assembler, im *importer.Importer, opts ...Option) *Handler {
	h := &Handler{
		store:     st,
		assembler: a,
		importer:  im,
		validate:  validator.New(),
		logger:    slog.Default(),
		atomicity: commit.ModeCollection,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireUser)
		r.Post("/export", h.handleExport)
		r.Post("/import", h.handleImport)
	})
	return r
}

type ctxKey struct{}

func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(UserHeader)
		if id == "" {
			h.respondWithError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), id)))
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	h.respondWithJSON(w, code, body)
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encode response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
