package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/call-relay-service/internal/auth"
	"github.com/PratikDhanave/call-relay-service/internal/handlers"
	"github.com/PratikDhanave/call-relay-service/internal/models"
	"github.com/PratikDhanave/call-relay-service/internal/pipeline"
)

// Ledger is what the router needs from the dedup ledger.
type Ledger interface {
	Ping(ctx context.Context) error
	Counters(ctx context.Context) (map[string]int64, error)
}

// Pool is what the router needs from the delivery pool.
type Pool interface {
	Submit(ev models.CallEvent) (string, error)
	Stats() pipeline.PoolStats
}

// Deps are the components exposed over HTTP.
type Deps struct {
	Ledger  Ledger
	Pool    Pool
	Monitor handlers.MonitorStatter
	APIKeys map[string]string
	Logger  *slog.Logger
}

// NewRouter wires public endpoints and, when operator keys are
// configured, the authenticated APIs.
// Public: /health, /ready
// Authenticated: /stats, /calls
func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the ledger is reachable. The relay cannot
	// deduplicate without it.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := d.Ledger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if len(d.APIKeys) == 0 {
		d.Logger.Info("operator API disabled, API_KEYS not set")
		return r
	}

	authGroup := r.Group("/")
	authGroup.Use(auth.APIKeyMiddleware(d.APIKeys))

	handlers.RegisterStatsRoutes(authGroup, d.Ledger, d.Pool, d.Monitor)
	handlers.RegisterCallRoutes(authGroup, d.Pool, d.Logger)

	return r
}
