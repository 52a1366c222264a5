package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paperflow/pipeline/pkg/credit"
	"github.com/paperflow/pipeline/pkg/orchestrator"
	"github.com/paperflow/pipeline/pkg/pgdb"
)

// writeServiceError maps a domain error to an HTTP status and writes the
// uniform ErrorResponse body, grounded on the teacher's mapServiceError
// (errors.Is/errors.As dispatch over a small fixed set of sentinels).
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pgdb.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found"})
	case errors.Is(err, orchestrator.ErrRunNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run is not in flight"})
	case errors.Is(err, credit.ErrInsufficientCredits):
		c.JSON(http.StatusPaymentRequired, ErrorResponse{Error: "insufficient credits"})
	default:
		slog.Error("api: unexpected service error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
