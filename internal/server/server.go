// Package server provides the HTTP server of the qrcore API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/devrev/qrcore/internal/config"
	"github.com/devrev/qrcore/internal/envelope"
	apierrors "github.com/devrev/qrcore/internal/errors"
	"github.com/devrev/qrcore/internal/handler"
	"github.com/devrev/qrcore/internal/health"
	"github.com/devrev/qrcore/internal/metrics"
	"github.com/devrev/qrcore/internal/middleware"
	"github.com/devrev/qrcore/internal/ratelimit"
	"github.com/devrev/qrcore/internal/reqctx"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server represents the HTTP server.
type Server struct {
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	handlers   *handler.Handlers
	health     *health.HealthCheck
	auth       *middleware.Authenticator
	limiter    *ratelimit.FixedWindow
	collector  *metrics.Collector
	writer     *envelope.Writer
	logger     *zap.Logger
	cfg        *config.Config
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Handlers  *handler.Handlers
	Health    *health.HealthCheck
	Verifier  middleware.TokenVerifier
	Limiter   *ratelimit.FixedWindow
	Collector *metrics.Collector
	Writer    *envelope.Writer
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		handlers:  deps.Handlers,
		health:    deps.Health,
		auth:      middleware.NewAuthenticator(deps.Verifier, cfg.Auth.TenantClaims, deps.Writer, logger),
		limiter:   deps.Limiter,
		collector: deps.Collector,
		writer:    deps.Writer,
		logger:    logger,
		cfg:       cfg,
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	trusted, err := s.cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		// Validate rejects this at load time
		s.logger.Error("ignoring trusted proxies", zap.Error(err))
		trusted = nil
	}

	// The outer chain wraps the router so unmatched requests are observed too
	chain := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Recovery(s.writer, s.logger),
		middleware.ClientAddr(trusted),
		middleware.Observe(s.collector, s.logger),
		middleware.CORS(s.cfg.Server.CORSOrigins),
	}
	if s.cfg.RateLimiter.GlobalEnabled {
		rl := middleware.NewRateLimiter(
			s.cfg.RateLimiter.GlobalRPS,
			s.cfg.RateLimiter.GlobalBurst,
			s.writer,
			s.collector,
			s.logger,
		)
		chain = append(chain, rl.Limit)
	}
	s.handler = middleware.Chain(chain...)(s.router)

	s.router.Use(middleware.RouteTag)

	// Health check endpoints
	s.router.HandleFunc("/health", s.health.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.health.ReadinessHandler).Methods(http.MethodGet)

	create := middleware.Chain(s.auth.Authenticate, s.auth.ResolveTenant,
		middleware.ClassLimit(s.limiter, ratelimit.ClassCreate, s.writer, s.collector))
	list := middleware.Chain(s.auth.Authenticate, s.auth.ResolveTenant,
		middleware.ClassLimit(s.limiter, ratelimit.ClassList, s.writer, s.collector))
	// Scans carry their own per-address limiter and resolve the tenant in the handler
	scan := middleware.Chain(s.auth.Authenticate, s.auth.OptionalTenant)

	api := s.router.PathPrefix(s.cfg.Server.BasePath).Subrouter()

	api.Handle("/qrcodes", create(http.HandlerFunc(s.handlers.CreateQRCode))).Methods(http.MethodPost)
	api.Handle("/qrcodes", list(http.HandlerFunc(s.handlers.ListQRCodes))).Methods(http.MethodGet)
	api.Handle("/qrcodes/{id}", list(http.HandlerFunc(s.handlers.GetQRCode))).Methods(http.MethodGet)
	api.Handle("/qrcodes/{id}", create(http.HandlerFunc(s.handlers.UpdateQRCode))).Methods(http.MethodPatch)
	api.Handle("/qrcodes/{id}/scans", list(http.HandlerFunc(s.handlers.ListQRCodeScans))).Methods(http.MethodGet)

	api.Handle("/scans", scan(http.HandlerFunc(s.handlers.CreateScan))).Methods(http.MethodPost)

	api.Handle("/prospects", create(http.HandlerFunc(s.handlers.CreateProspect))).Methods(http.MethodPost)
	api.Handle("/prospects", list(http.HandlerFunc(s.handlers.ListProspects))).Methods(http.MethodGet)
	api.Handle("/prospects/{id}", list(http.HandlerFunc(s.handlers.GetProspect))).Methods(http.MethodGet)

	api.Handle("/commissions", create(http.HandlerFunc(s.handlers.CreateCommission))).Methods(http.MethodPost)
	api.Handle("/commissions", list(http.HandlerFunc(s.handlers.ListCommissions))).Methods(http.MethodGet)
	api.Handle("/commissions/{id}", list(http.HandlerFunc(s.handlers.GetCommission))).Methods(http.MethodGet)

	api.Handle("/agents", list(http.HandlerFunc(s.handlers.ListAgents))).Methods(http.MethodGet)

	// Subrouters do not inherit these from their parent
	for _, r := range []*mux.Router{s.router, api} {
		r.NotFoundHandler = http.HandlerFunc(s.notFound)
		r.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowed)
	}
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.writer.Error(w, r, apierrors.NotFound("endpoint"))
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	body, _ := json.Marshal(envelope.Body{
		Code:    http.StatusMethodNotAllowed,
		Status:  "error",
		Success: false,
		Error: &envelope.ErrorBody{
			Code:    apierrors.ErrorCodeInvalidRequest,
			Message: "method not allowed",
		},
		RequestID: reqctx.RequestID(r.Context()),
	})
	envelope.WriteRaw(w, http.StatusMethodNotAllowed, body)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.Int("port", s.cfg.Server.Port),
		zap.String("base_path", s.cfg.Server.BasePath),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.handler
}
