package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"startline/internal/domain"
	"startline/internal/dto"
	"startline/internal/service"
	"startline/pkg/telemetry"
)

// RaceHandler handles race catalog HTTP requests.
// These endpoints are public, browsing does not need a session.
type RaceHandler struct {
	raceService service.RaceService
}

// NewRaceHandler creates a new race handler
func NewRaceHandler(raceService service.RaceService) *RaceHandler {
	return &RaceHandler{raceService: raceService}
}

// ListRaces handles GET /races?event_id=...
func (h *RaceHandler) ListRaces(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.race.list")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID := c.Query("event_id")
	if eventID == "" {
		span.SetStatus(codes.Error, "event_id required")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "event_id required",
			Code:    "INVALID_REQUEST",
			Message: "Please provide event_id query parameter",
		})
		return
	}

	span.SetAttributes(attribute.String("event_id", eventID))

	races, err := h.raceService.ListRaces(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetAttributes(attribute.Int("race_count", len(races)))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.SuccessResponse{
		Success: true,
		Data:    races,
	})
}

// GetRace handles GET /races/:id
func (h *RaceHandler) GetRace(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.race.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	raceID := c.Param("id")
	if raceID == "" {
		span.SetStatus(codes.Error, "race id required")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "race id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	span.SetAttributes(attribute.String("race_id", raceID))

	result, err := h.raceService.GetRace(ctx, raceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// GetAvailability handles GET /races/:id/availability
// Reads the live ledger, so held capacity counts toward sold-out.
func (h *RaceHandler) GetAvailability(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.race.availability")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	raceID := c.Param("id")
	if raceID == "" {
		span.SetStatus(codes.Error, "race id required")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "race id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	span.SetAttributes(attribute.String("race_id", raceID))

	result, err := h.raceService.GetAvailability(ctx, raceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetAttributes(attribute.Bool("sold_out", result.SoldOut))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// handleError converts domain errors to HTTP responses
func (h *RaceHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrRaceNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "NOT_FOUND",
		})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "internal server error",
			Code:  "INTERNAL_ERROR",
		})
	}
}
