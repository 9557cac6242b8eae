package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/baechuer/notification-fabric/internal/config"
	"github.com/baechuer/notification-fabric/internal/logger"
	"github.com/baechuer/notification-fabric/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// batchResult is the fixed webhook response shape.
type batchResult struct {
	Received  int `json:"received"`
	Processed int `json:"processed"`
}

// Server hosts the webhook ingress plus health and metrics endpoints.
type Server struct {
	reconciler *Reconciler
	pool       *pgxpool.Pool
	redis      *redis.Client
	lg         zerolog.Logger
}

func NewServer(reconciler *Reconciler, pool *pgxpool.Pool, rdb *redis.Client) *Server {
	return &Server{
		reconciler: reconciler,
		pool:       pool,
		redis:      rdb,
		lg:         logger.WithComponent("webhook_server"),
	}
}

// Router builds the chi handler.
func (s *Server) Router(cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/health/postgres", s.healthPostgres)
	r.Get("/health/redis", s.healthRedis)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		if cfg.RLEnabled {
			r.Use(httprate.LimitByIP(cfg.RLLimit, cfg.RLWindow))
		}
		r.Post("/{channel}", s.handleBatch)
		r.Get("/{channel}/test", s.handleTest)
	})

	return r
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")

	var events []Event
	if err := render.DecodeJSON(r.Body, &events); err != nil {
		s.lg.Warn().Err(err).Str("channel", channel).Msg("malformed webhook batch")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "malformed batch"})
		return
	}

	received, processed := s.reconciler.ProcessBatch(r.Context(), channel, events)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, batchResult{Received: received, Processed: processed})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status":  "ok",
		"channel": chi.URLParam(r, "channel"),
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// Dependency probes fail only on ping error or timeout.
func (s *Server) healthPostgres(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.pool.Ping(ctx); err != nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) healthRedis(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.redis.Ping(ctx).Err(); err != nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}
