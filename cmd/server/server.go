package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
	"github.com/adityaaa08012006/decivue-sub006/evaluation"
	"github.com/adityaaa08012006/decivue-sub006/internal/config"
	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
	"github.com/adityaaa08012006/decivue-sub006/internal/metrics"
	"github.com/adityaaa08012006/decivue-sub006/scoring"
	"github.com/adityaaa08012006/decivue-sub006/tenants"
)

// ServerOptions holds the collaborators of the HTTP server
type ServerOptions struct {
	Store   decisions.Store
	Tenants *tenants.Manager
	Engine  *scoring.Engine

	// DB is nil when the server runs on the in-memory store
	DB *sqlx.DB

	BatchLimit int
	MaxRounds  int
	Now        func() time.Time
}

type Server struct {
	store   decisions.Store
	tenants *tenants.Manager
	engine  *scoring.Engine
	db      *sqlx.DB
	now     func() time.Time
	router  *chi.Mux

	batchLimit atomic.Int64
	maxRounds  atomic.Int64
}

func NewServer(opts ServerOptions) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		store:   opts.Store,
		tenants: opts.Tenants,
		engine:  opts.Engine,
		db:      opts.DB,
		now:     opts.Now,
	}
	s.SetLimits(opts.BatchLimit, opts.MaxRounds)
	s.setupRoutes()
	return s
}

// SetLimits replaces the batch and converge limits, for config reloads
func (s *Server) SetLimits(batchLimit, maxRounds int) {
	if batchLimit <= 0 {
		batchLimit = config.DefaultBatchLimit
	}
	if maxRounds <= 0 {
		maxRounds = config.DefaultMaxRounds
	}
	s.batchLimit.Store(int64(batchLimit))
	s.maxRounds.Store(int64(maxRounds))
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Get("/", s.handleListTenants)
		r.Post("/", s.handleCreateTenant)

		r.Route("/{tenantId}", func(r chi.Router) {
			r.Use(s.tenantContext)

			r.Post("/decisions", s.handleCreateDecision)
			r.Route("/decisions/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDecision)
				r.Get("/staleness", s.handleStaleness)
				r.Post("/evaluate", s.handleEvaluateDecision)
				r.Post("/retire", s.handleRetireDecision)
				r.Post("/dependencies", s.handleAddDependency)
				r.Post("/changed", s.handleDecisionChanged)
				r.Post("/assumptions", s.handleLinkAssumption)
				r.Post("/constraints", s.handleLinkConstraint)
			})

			r.Post("/evaluate", s.handleEvaluateBatch)
			r.Post("/converge", s.handleConverge)

			r.Post("/assumptions", s.handleCreateAssumption)
			r.Put("/assumptions/{id}/status", s.handleUpdateAssumptionStatus)
			r.Post("/constraints", s.handleCreateConstraint)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger counts every response status and logs the request at debug
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.CountHTTPStatus(status)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type serviceKey struct{}

// tenantContext resolves the tenant's evaluation service once per request
func (s *Server) tenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantId")
		svc, err := s.tenants.Get(tenantID)
		if err != nil {
			respondError(w, http.StatusNotFound, "tenant not found", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), serviceKey{}, svc)))
	})
}

func serviceFrom(r *http.Request) *evaluation.Service {
	return r.Context().Value(serviceKey{}).(*evaluation.Service)
}

// asOf reads the optional RFC3339 asOf query parameter of read-only
// endpoints; absent means now
func (s *Server) asOf(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("asOf")
	if v == "" {
		return s.now().UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}

// evaluationTime is the as-of time of endpoints that persist a verdict.
// lastEvaluatedAt is written from it, so only the server clock is accepted.
func (s *Server) evaluationTime(r *http.Request) (time.Time, error) {
	if r.URL.Query().Has("asOf") {
		return time.Time{}, errors.New("asOf is only accepted by the staleness endpoint")
	}
	return s.now().UTC(), nil
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to encode response", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// respondStoreError maps a record-management error onto a status code
func respondStoreError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, decisions.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, decisions.ErrTerminal), errors.Is(err, decisions.ErrAlreadyExists):
		respondError(w, http.StatusConflict, message, err)
	default:
		logger.Error(message, "err", err)
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

// evaluationStatus maps an evaluation failure kind onto a status code
func evaluationStatus(kind decisions.ErrorKind) int {
	switch kind {
	case decisions.KindNotFound:
		return http.StatusNotFound
	case decisions.KindDataIntegrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
