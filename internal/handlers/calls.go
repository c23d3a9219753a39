package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/call-relay-service/internal/auth"
	"github.com/PratikDhanave/call-relay-service/internal/models"
	"github.com/PratikDhanave/call-relay-service/internal/pipeline"
)

// Submitter hands a call to the delivery pool.
type Submitter interface {
	Submit(ev models.CallEvent) (string, error)
}

// RegisterCallRoutes registers the manual injection endpoint.
//
// POST /calls
// - Requires X-API-Key
// - Accepted for processing: 202 with the run ID; the pipeline's dedup
//   gate still decides whether anything is delivered
func RegisterCallRoutes(r gin.IRoutes, pool Submitter, logger *slog.Logger) {
	r.POST("/calls", func(c *gin.Context) {
		var req models.CallInjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		ev := models.CallEvent{
			ID:          strings.TrimSpace(req.ID),
			DID:         strings.TrimSpace(req.DID),
			AudioRef:    strings.TrimSpace(req.UUID),
			CountryName: strings.TrimSpace(req.Country),
			CountryCode: strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		}

		// Required fields per contract.
		if ev.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
			return
		}
		if ev.DID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "did required"})
			return
		}

		runID, err := pool.Submit(ev)
		if errors.Is(err, pipeline.ErrPoolClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "submit failed"})
			return
		}

		logger.Info("call injected", "operator", auth.Operator(c), "call_id", ev.ID, "run_id", runID)
		c.JSON(http.StatusAccepted, models.CallInjectResponse{
			CallID: ev.ID,
			RunID:  runID,
		})
	})
}
