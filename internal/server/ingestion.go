package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/nfsync/internal/ingestion"
	obscontext "github.com/smallbiznis/nfsync/internal/observability/context"
)

type runResponse struct {
	RunID              string `json:"run_id"`
	Trigger            string `json:"trigger"`
	Listed             int    `json:"listed"`
	Skipped            int    `json:"skipped"`
	Processed          int    `json:"processed"`
	Failed             int    `json:"failed"`
	Duplicates         int    `json:"duplicates"`
	RelocationFailures int    `json:"relocation_failures"`
	DurationMS         int64  `json:"duration_ms"`
}

// TriggerRun runs one ingestion pass synchronously. The run outlives a client
// disconnect so files are never left half handled.
func (s *Server) TriggerRun(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	ctx = obscontext.WithTrigger(ctx, ingestion.TriggerHTTP)

	summary, err := s.runner.RunOnce(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": runResponse{
		RunID:              summary.RunID,
		Trigger:            summary.Trigger,
		Listed:             summary.Listed,
		Skipped:            summary.Skipped,
		Processed:          summary.Processed,
		Failed:             summary.Failed,
		Duplicates:         summary.Duplicates,
		RelocationFailures: summary.RelocationFailures,
		DurationMS:         summary.Duration.Milliseconds(),
	}})
}
