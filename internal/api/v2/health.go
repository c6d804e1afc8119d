package api

import (
	"context"
	"net/http"
	"time"

	"github.com/parishworks/registratura/internal/server"
	"github.com/parishworks/registratura/pkg/database"
)

type HealthGetResponse struct {
	Status   string              `json:"status"`
	Database *database.PoolStats `json:"database,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// HealthHandler pings the database and reports connection pool statistics.
func HealthHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		sqlDB, err := srv.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			srv.Logger.Warn("health check failed", "error", err)
			respondJSON(w, http.StatusServiceUnavailable, HealthGetResponse{
				Status: "unavailable",
				Error:  err.Error(),
			})
			return
		}

		stats, err := database.GetPoolStats(srv.DB)
		if err != nil {
			srv.Logger.Warn("error reading pool stats", "error", err)
		}
		respondJSON(w, http.StatusOK, HealthGetResponse{Status: "ok", Database: stats})
	})
}
