package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/saddleweather/internal/advisor"
	"github.com/lox/saddleweather/internal/forecast"
	"github.com/lox/saddleweather/internal/ingest"
	"github.com/lox/saddleweather/internal/logger"
	"github.com/lox/saddleweather/internal/store"
)

// Invalidator drops cached forecast data after settings change.
type Invalidator interface {
	Invalidate()
}

type Server struct {
	store    *store.Store
	advisor  *advisor.Advisor
	tuner    *forecast.Tuner
	cache    Invalidator
	port     string
	log      *logger.Logger
	validate *validator.Validate
}

// NewServer wires the HTTP surface. cache may be nil.
func NewServer(st *store.Store, adv *advisor.Advisor, tuner *forecast.Tuner, cache Invalidator, port string, log *logger.Logger) *Server {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Server{
		store:    st,
		advisor:  adv,
		tuner:    tuner,
		cache:    cache,
		port:     port,
		log:      log.With("component", "api"),
		validate: v,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/forecast", s.handleForecast)
		r.Get("/alerts", s.handleAlerts)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)

		r.Get("/ride-slots", s.handleGetRideSlots)
		r.Put("/ride-slots", s.handlePutRideSlots)

		r.Route("/feedback", func(r chi.Router) {
			r.Get("/", s.handleListFeedback)
			r.Post("/", s.handleCreateFeedback)
			r.Get("/accuracy", s.handleAccuracy)
		})

		r.Get("/snapshots/{date}", s.handleSnapshot)

		r.Post("/tune", s.handleTune)
		r.Get("/tuning-history", s.handleTuningHistory)
		r.Get("/runs", s.handleRuns)
	})

	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.Info("api: listening", "port", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type HealthStatus struct {
	Status            string     `json:"status"`
	MigrationVersion  int        `json:"migration_version"`
	SourceAvailable   bool       `json:"source_available"`
	LastSuccessfulRun *time.Time `json:"last_successful_run,omitempty"`
	Errors            []string   `json:"errors,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, HealthStatus{Status: "error", Errors: []string{err.Error()}})
		return
	}

	health := HealthStatus{
		Status:          "ok",
		SourceAvailable: s.advisor.SourceAvailable(),
	}

	version, err := s.store.MigrationVersion()
	if err != nil {
		health.Errors = append(health.Errors, "migrations: "+err.Error())
	}
	health.MigrationVersion = version

	last, err := s.store.GetLastSuccessfulRun()
	if err != nil {
		health.Errors = append(health.Errors, "runs: "+err.Error())
	} else if last != nil {
		at := last.StartedAt
		health.LastSuccessfulRun = &at
	}

	if !health.SourceAvailable {
		health.Status = "degraded"
	}
	if len(health.Errors) > 0 {
		health.Status = "error"
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("api: write response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure maps an operation error onto a status code.
func (s *Server) writeFailure(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ingest.ErrSourceUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "forecast source unavailable, try again shortly")
	case errors.Is(err, store.ErrInvalidDate), errors.Is(err, store.ErrInvalidFooting):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("api: "+op+" failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// decodeAndValidate reads a JSON body into dst and runs struct validation over it.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	return nil
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Namespace()[strings.Index(fe.Namespace(), ".")+1:]+": failed "+rule)
	}
	return errors.New(strings.Join(parts, "; "))
}
