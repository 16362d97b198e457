// Package api serves the forecasting and rule endpoints over HTTP.
package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/forecast"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Deps are the services behind the API. Bus may be nil, in which case job
// submission answers 503.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Forecasts *forecast.Service
	Rules     *rules.Service

	Version string

	// DefaultHorizon applies when a forecast request omits horizonDays.
	DefaultHorizon int
}

// Server is the HTTP front of kestrel.
type Server struct {
	cfg     domain.ServerConfig
	router  *chi.Mux
	handler *Handler
	http    *http.Server
}

func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		router:  chi.NewRouter(),
		handler: NewHandler(deps),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	h, r := s.handler, s.router

	r.Use(CORSMiddleware)
	r.Use(RecoverMiddleware)
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))

	// Probes answer without a tenant.
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)
		if s.cfg.WriteTimeout > 0 {
			r.Use(middleware.Timeout(time.Duration(s.cfg.WriteTimeout) * time.Second))
		}

		r.Route("/forecast", func(r chi.Router) {
			r.Post("/train", h.Train)
			r.Post("/predict", h.Predict)
			r.Post("/scenarios", h.CompareScenarios)
			r.Get("/accuracy", h.Accuracy)
			r.Post("/actuals", h.RecordActual)
			r.Post("/jobs", h.EnqueueJob)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.CreateTransaction)
			r.Get("/{id}", h.GetTransaction)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Post("/marketplace-delay", h.CreateMarketplaceDelayRule)
			r.Post("/seasonal", h.CreateSeasonalRule)
			r.Post("/payment-term", h.CreatePaymentTermRule)
			r.Post("/impact", h.EstimateImpact)
			r.Patch("/{id}", h.UpdateRule)
			r.Delete("/{id}", h.DeactivateRule)
		})
	})
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.cfg.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(s.cfg.WriteTimeout) * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Router exposes the routing tree for in-process tests.
func (s *Server) Router() http.Handler {
	return s.router
}
