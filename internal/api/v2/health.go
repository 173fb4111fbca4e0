package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/florai/contrib-pipeline/internal/diskmanager"
	"github.com/florai/contrib-pipeline/internal/logger"
)

const healthCheckTimeout = 3 * time.Second

// Health states
const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"

	dbConnected    = "connected"
	dbDisconnected = "disconnected"

	storageAvailable = "available"
	storageDegraded  = "degraded"
	storageUnknown   = "unknown"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string  `json:"status"`
	Version        string  `json:"version"`
	Environment    string  `json:"environment"`
	DatabaseStatus string  `json:"database_status"`
	StorageStatus  string  `json:"storage_status"`
	StorageBackend string  `json:"storage_backend,omitempty"`
	StagingFree    uint64  `json:"staging_free_bytes,omitempty"`
	Uptime         string  `json:"uptime"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// HealthCheck reports database connectivity and staging disk space. It
// answers 503 when the database cannot be reached.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx.Request().Context(), healthCheckTimeout)
	defer cancel()

	uptime := time.Since(c.startTime)
	resp := &HealthResponse{
		Status:         statusHealthy,
		Version:        c.build.GetVersion(),
		Environment:    c.Settings.Main.Environment,
		DatabaseStatus: dbConnected,
		StorageStatus:  storageUnknown,
		Uptime:         uptime.Round(time.Second).String(),
		UptimeSeconds:  uptime.Seconds(),
	}
	if c.Objects != nil {
		resp.StorageBackend = c.Objects.Name()
	}

	if err := c.DS.Ping(reqCtx); err != nil {
		c.log.Warn("health check: database unreachable", logger.Error(err))
		resp.Status = statusUnhealthy
		resp.DatabaseStatus = dbDisconnected
	}

	if c.staging != nil {
		usage, err := diskmanager.GetDetailedDiskUsage(reqCtx, c.staging.BaseDir())
		switch {
		case err != nil:
			c.log.Debug("health check: staging usage unavailable", logger.Error(err))
		case usage.FreeBytes < diskmanager.MinFreeBytes:
			resp.StorageStatus = storageDegraded
			resp.StagingFree = usage.FreeBytes
		default:
			resp.StorageStatus = storageAvailable
			resp.StagingFree = usage.FreeBytes
		}
	}

	code := http.StatusOK
	if resp.Status != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	return ctx.JSON(code, resp)
}
