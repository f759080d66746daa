package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"startline/internal/domain"
	"startline/internal/dto"
	"startline/internal/service"
	"startline/pkg/middleware"
	"startline/pkg/telemetry"
)

// CartHandler handles cart HTTP requests
type CartHandler struct {
	cartService     service.CartService
	checkoutService service.CheckoutService
	sessions        *middleware.SessionManager
}

// NewCartHandler creates a new cart handler
func NewCartHandler(cartService service.CartService, checkoutService service.CheckoutService, sessions *middleware.SessionManager) *CartHandler {
	return &CartHandler{
		cartService:     cartService,
		checkoutService: checkoutService,
		sessions:        sessions,
	}
}

// CreateCart handles POST /carts
// Returns the new cart together with a session token bound to it, so
// follow-up requests carry the cart in their bearer credential.
func (h *CartHandler) CreateCart(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.cart.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString("user_id")
	if userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	var req dto.CreateCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", req.EventID),
	)

	cart, err := h.cartService.CreateCart(ctx, userID, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	token, err := h.sessions.Mint(userID, cart.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mint session token")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "failed to mint session token",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	span.SetAttributes(attribute.String("cart_id", cart.ID))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, dto.CreateCartResponse{
		Cart:         cart,
		SessionToken: token,
	})
}

// GetCart handles GET /carts/:id
func (h *CartHandler) GetCart(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.cart.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString("user_id")
	if userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	cartID := c.Param("id")
	if cartID == "" {
		span.SetStatus(codes.Error, "cart id required")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "cart id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	span.SetAttributes(
		attribute.String("cart_id", cartID),
		attribute.String("user_id", userID),
	)

	result, err := h.cartService.GetCart(ctx, cartID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// ListCarts handles GET /carts
func (h *CartHandler) ListCarts(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.cart.list")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString("user_id")
	if userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	page := 1
	pageSize := 20
	if p := c.Query("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}
	if ps := c.Query("page_size"); ps != "" {
		if n, err := strconv.Atoi(ps); err == nil && n > 0 && n <= 100 {
			pageSize = n
		}
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	result, err := h.cartService.GetUserCarts(ctx, userID, page, pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// AddItem handles POST /carts/:id/items
func (h *CartHandler) AddItem(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.cart.add_item")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString("user_id")
	if userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	cartID := c.Param("id")
	if cartID == "" {
		span.SetStatus(codes.Error, "cart id required")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "cart id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	var req dto.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return
	}

	span.SetAttributes(
		attribute.String("cart_id", cartID),
		attribute.String("user_id", userID),
		attribute.String("race_id", req.RaceID),
		attribute.Int("selected_options", len(req.SelectedOptions)),
	)

	result, err := h.cartService.AddItem(ctx, cartID, userID, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, result)
}

// RemoveItem handles DELETE /carts/:id/items/:item_id
func (h *CartHandler) RemoveItem(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.cart.remove_item")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString("user_id")
	if userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	cartID := c.Param("id")
	itemID := c.Param("item_id")
	if cartID == "" || itemID == "" {
		span.SetStatus(codes.Error, "cart id and item id required")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "cart id and item id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	span.SetAttributes(
		attribute.String("cart_id", cartID),
		attribute.String("item_id", itemID),
		attribute.String("user_id", userID),
	)

	result, err := h.cartService.RemoveItem(ctx, cartID, userID, itemID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// Reserve handles POST /carts/:id/reserve
// Claims capacity for every item atomically and starts the hold timer.
// Reserving an already reserved cart extends the hold.
func (h *CartHandler) Reserve(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.cart.reserve")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString("user_id")
	if userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	cartID := c.Param("id")
	if cartID == "" {
		span.SetStatus(codes.Error, "cart id required")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "cart id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	span.SetAttributes(
		attribute.String("cart_id", cartID),
		attribute.String("user_id", userID),
	)

	result, err := h.cartService.Reserve(ctx, cartID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetAttributes(attribute.Int64("hold_seconds", result.HoldSeconds))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// Extend handles POST /carts/:id/extend
func (h *CartHandler) Extend(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.cart.extend")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString("user_id")
	if userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	cartID := c.Param("id")
	if cartID == "" {
		span.SetStatus(codes.Error, "cart id required")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "cart id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	span.SetAttributes(
		attribute.String("cart_id", cartID),
		attribute.String("user_id", userID),
	)

	result, err := h.cartService.Extend(ctx, cartID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetAttributes(attribute.Int64("hold_seconds", result.HoldSeconds))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// Checkout handles POST /carts/:id/checkout
func (h *CartHandler) Checkout(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.cart.checkout")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString("user_id")
	if userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	cartID := c.Param("id")
	if cartID == "" {
		span.SetStatus(codes.Error, "cart id required")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "cart id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	var req dto.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return
	}

	span.SetAttributes(
		attribute.String("cart_id", cartID),
		attribute.String("user_id", userID),
		attribute.String("payment_method", req.PaymentMethod),
	)

	result, err := h.checkoutService.Checkout(ctx, cartID, userID, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("payment_id", result.PaymentID))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// Cancel handles DELETE /carts/:id
func (h *CartHandler) Cancel(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.cart.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString("user_id")
	if userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	cartID := c.Param("id")
	if cartID == "" {
		span.SetStatus(codes.Error, "cart id required")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "cart id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	span.SetAttributes(
		attribute.String("cart_id", cartID),
		attribute.String("user_id", userID),
	)

	result, err := h.cartService.Cancel(ctx, cartID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// handleError converts domain errors to HTTP responses
func (h *CartHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrCartNotFound),
		errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, domain.ErrRaceNotFound),
		errors.Is(err, domain.ErrOptionNotFound),
		errors.Is(err, domain.ErrChoiceNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "NOT_FOUND",
		})
	case errors.Is(err, domain.ErrCartExpired):
		c.JSON(http.StatusGone, dto.ErrorResponse{
			Error:   err.Error(),
			Code:    "CART_EXPIRED",
			Message: "The hold on this cart has lapsed. Please start over.",
		})
	case errors.Is(err, domain.ErrCapacityExceeded):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error:   err.Error(),
			Code:    "CAPACITY_EXCEEDED",
			Message: "Not enough places left for everything in the cart",
		})
	case errors.Is(err, domain.ErrResourceFull):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error:   err.Error(),
			Code:    "RACE_FULL",
			Message: "The race filled up before the registration went through",
		})
	case errors.Is(err, domain.ErrMaxItemsExceeded):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "MAX_ITEMS_EXCEEDED",
		})
	case errors.Is(err, domain.ErrIllegalTransition):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "ILLEGAL_TRANSITION",
		})
	case errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrCartNotActive):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "CONFLICT",
		})
	case errors.Is(err, domain.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "ALREADY_REGISTERED",
		})
	case errors.Is(err, domain.ErrRegistrationClosed):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "REGISTRATION_CLOSED",
		})
	case errors.Is(err, domain.ErrPaymentFailed):
		c.JSON(http.StatusPaymentRequired, dto.ErrorResponse{
			Error:   err.Error(),
			Code:    "PAYMENT_FAILED",
			Message: "The payment was declined. The cart is still reserved.",
		})
	case errors.Is(err, domain.ErrLicenseNotVerified):
		c.JSON(http.StatusForbidden, dto.ErrorResponse{
			Error:   err.Error(),
			Code:    "LICENSE_NOT_VERIFIED",
			Message: "This race requires a verified license number",
		})
	case errors.Is(err, domain.ErrPricingUnavailable),
		errors.Is(err, domain.ErrPricingNotConfigured):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error:   err.Error(),
			Code:    "PRICING_UNAVAILABLE",
			Message: "No price is configured for this race right now",
		})
	case errors.Is(err, domain.ErrCartNotReserved),
		errors.Is(err, domain.ErrCartEmpty),
		domain.IsValidationError(err):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "internal server error",
			Code:  "INTERNAL_ERROR",
		})
	}
}
