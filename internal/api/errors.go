package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mmartingarciia/retroducer/internal/engine"
	"github.com/mmartingarciia/retroducer/internal/models"
)

// classify maps an error to its HTTP status and a short machine-readable
// kind. SourceUnavailable is checked before Busy because a refused playback
// start wraps both.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, models.ErrSourceUnavailable):
		return http.StatusNotFound, "source_unavailable"
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, models.ErrBusy):
		return http.StatusLocked, "busy"
	case errors.Is(err, engine.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "io_failure"
	}
}

func respondError(c *gin.Context, err error) {
	code, kind := classify(err)
	c.JSON(code, Response{Success: false, Message: err.Error(), Error: kind})
}
