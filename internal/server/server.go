package server

import (
	"context"
	"log/slog"

	"github.com/temmyjay001/claimsflow-webhooks/internal/auth"
	"github.com/temmyjay001/claimsflow-webhooks/internal/config"
	"github.com/temmyjay001/claimsflow-webhooks/internal/events"
	"github.com/temmyjay001/claimsflow-webhooks/internal/webhooks"
)

// HealthChecker is implemented by backing services reported on /health/db.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies are the services the HTTP layer exposes.
type Dependencies struct {
	DB        HealthChecker // nil when running on the memory store
	Lease     HealthChecker // nil when leases are held in process
	Auth      *auth.Service
	Webhooks  *webhooks.Service
	Publisher *events.Publisher
	Logger    *slog.Logger
}

type Server struct {
	config          *config.Config
	db              HealthChecker
	lease           HealthChecker
	logger          *slog.Logger
	authMiddleware  *auth.Middleware
	webhookHandlers *webhooks.Handlers
	eventHandlers   *events.Handlers
}

func New(config *config.Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:          config,
		db:              deps.DB,
		lease:           deps.Lease,
		logger:          logger,
		authMiddleware:  auth.NewMiddleware(deps.Auth),
		webhookHandlers: webhooks.NewHandlers(deps.Webhooks),
		eventHandlers:   events.NewHandlers(deps.Publisher),
	}
}
