package common

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

var startedAt = time.Now()

// HealthResponse is the body of the health endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HealthCheck reports the process as alive without touching dependencies
func HealthCheck(serviceName, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:  statusHealthy,
			Service: serviceName,
			Version: version,
			Uptime:  time.Since(startedAt).Truncate(time.Second).String(),
		})
	}
}

// HealthCheckWithDeps runs every dependency check in parallel and answers 503
// if any of them fails
func HealthCheckWithDeps(serviceName, version string, checks map[string]func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := HealthResponse{
			Status:  statusHealthy,
			Service: serviceName,
			Version: version,
			Uptime:  time.Since(startedAt).Truncate(time.Second).String(),
			Checks:  make(map[string]string, len(checks)),
		}

		var (
			mu sync.Mutex
			g  errgroup.Group
		)
		for name, check := range checks {
			g.Go(func() error {
				result := statusHealthy
				if err := check(); err != nil {
					result = statusUnhealthy + ": " + err.Error()
				}
				mu.Lock()
				resp.Checks[name] = result
				if result != statusHealthy {
					resp.Status = statusUnhealthy
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		code := http.StatusOK
		if resp.Status != statusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}
