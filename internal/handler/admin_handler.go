package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"startline/internal/dto"
	"startline/internal/service"
	"startline/pkg/telemetry"
)

// AdminHandler handles admin HTTP requests
type AdminHandler struct {
	raceService service.RaceService
	cartService service.CartService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(raceService service.RaceService, cartService service.CartService) *AdminHandler {
	return &AdminHandler{
		raceService: raceService,
		cartService: cartService,
	}
}

// SyncInventoryResponse represents the response for sync inventory
type SyncInventoryResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	ResourcesSynced int    `json:"resources_synced"`
}

// SyncInventory handles POST /admin/sync-inventory?event_id=...
// Seeds the Redis ledger from the PostgreSQL catalog. Held counts survive.
func (h *AdminHandler) SyncInventory(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.sync_inventory")
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

	count, err := h.raceService.SyncInventory(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "failed to sync inventory",
			Code:    "SYNC_FAILED",
			Message: err.Error(),
		})
		return
	}

	span.SetAttributes(attribute.Int("resources_synced", count))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, SyncInventoryResponse{
		Success:         true,
		Message:         fmt.Sprintf("Successfully seeded %d inventory resources", count),
		ResourcesSynced: count,
	})
}

// ExpireCarts handles POST /admin/expire-carts
// Runs one sweep over lapsed reservations, for operators who do not
// want to wait for the background sweeper.
func (h *AdminHandler) ExpireCarts(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.expire_carts")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	limit := 100
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	span.SetAttributes(attribute.Int("limit", limit))

	expired, err := h.cartService.ExpireDueCarts(ctx, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "failed to expire carts",
			Code:    "EXPIRE_FAILED",
			Message: err.Error(),
		})
		return
	}

	span.SetAttributes(attribute.Int("expired_count", expired))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"expired_count": expired,
	})
}

// GetInventoryStatus handles GET /admin/inventory-status?event_id=...
// Returns the ledger's view of every race in the event.
func (h *AdminHandler) GetInventoryStatus(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.inventory_status")
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
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "failed to list races",
			Code:    "QUERY_FAILED",
			Message: err.Error(),
		})
		return
	}

	var statuses []*dto.RaceAvailabilityResponse
	for _, race := range races {
		status, err := h.raceService.GetAvailability(ctx, race.ID)
		if err != nil {
			span.RecordError(err)
			continue
		}
		statuses = append(statuses, status)
	}

	span.SetAttributes(attribute.Int("race_count", len(statuses)))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    statuses,
		"count":   len(statuses),
	})
}
