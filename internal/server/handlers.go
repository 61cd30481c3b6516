// internal/server/handlers.go
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/temmyjay001/claimsflow-webhooks/pkg/api"
)

const version = "2.0.0"

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	api.WriteSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version,
	})
}

func (s *Server) healthDBHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	database := "memory"
	if s.db != nil {
		if err := s.db.Health(ctx); err != nil {
			s.logger.Error("database health check failed", "error", err)
			api.WriteErrorResponse(w, http.StatusServiceUnavailable, "Database connection failed")
			return
		}
		database = "connected"
	}

	lease := "memory"
	if s.lease != nil {
		if err := s.lease.Health(ctx); err != nil {
			s.logger.Error("lease store health check failed", "error", err)
			api.WriteErrorResponse(w, http.StatusServiceUnavailable, "Lease store connection failed")
			return
		}
		lease = "connected"
	}

	api.WriteSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  database,
		"lease":     lease,
		"timestamp": time.Now().UTC(),
	})
}
