package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Check reports whether one dependency is usable. A nil Check marks a
// dependency that is not configured.
type Check func(ctx context.Context) error

// RegisterHealth mounts /health (liveness) and /ready (every configured
// dependency answers within timeout).
func RegisterHealth(r gin.IRouter, started time.Time, timeout time.Duration, checks map[string]Check) {
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	sort.Strings(names)

	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		ready := true
		deps := map[string]bool{}
		for _, n := range names {
			if checks[n] == nil {
				continue
			}
			deps[n] = checks[n](ctx) == nil
			ready = ready && deps[n]
		}
		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(started).String()})
	})
}
