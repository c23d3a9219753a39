package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/call-relay-service/internal/monitor"
	"github.com/PratikDhanave/call-relay-service/internal/pipeline"
)

// CounterReader is the ledger side of /stats.
type CounterReader interface {
	Counters(ctx context.Context) (map[string]int64, error)
}

// PoolStatter reports dispatcher counters.
type PoolStatter interface {
	Stats() pipeline.PoolStats
}

// MonitorStatter reports connection state and frame counters.
type MonitorStatter interface {
	Stats() monitor.Stats
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Ledger  map[string]int64   `json:"ledger"`
	Pool    pipeline.PoolStats `json:"pool"`
	Monitor monitor.Stats      `json:"monitor"`
}

// RegisterStatsRoutes registers the operator status endpoint.
//
// GET /stats
// - Requires X-API-Key
// - Ledger counters are the durable success/failed totals; pool and
//   monitor counters reset with the process
func RegisterStatsRoutes(r gin.IRoutes, ledger CounterReader, pool PoolStatter, mon MonitorStatter) {
	r.GET("/stats", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		counters, err := ledger.Counters(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
			return
		}

		c.JSON(http.StatusOK, StatsResponse{
			Ledger:  counters,
			Pool:    pool.Stats(),
			Monitor: mon.Stats(),
		})
	})
}
