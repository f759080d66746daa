package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"startline/internal/domain"
	"startline/internal/dto"
	"startline/internal/service"
	"startline/pkg/middleware"
)

// MockCartService is a mock implementation of CartService for testing
type MockCartService struct {
	CreateCartFunc     func(ctx context.Context, userID string, req *dto.CreateCartRequest) (*dto.CartResponse, error)
	GetCartFunc        func(ctx context.Context, cartID, userID string) (*dto.CartResponse, error)
	GetUserCartsFunc   func(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error)
	AddItemFunc        func(ctx context.Context, cartID, userID string, req *dto.AddItemRequest) (*dto.CartResponse, error)
	RemoveItemFunc     func(ctx context.Context, cartID, userID, itemID string) (*dto.CartResponse, error)
	ReserveFunc        func(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error)
	ExtendFunc         func(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error)
	CancelFunc         func(ctx context.Context, cartID, userID string) (*dto.CancelCartResponse, error)
	GetExpiredCartsFunc func(ctx context.Context, limit int) ([]*domain.Cart, error)
	ExpireCartFunc     func(ctx context.Context, cart *domain.Cart) error
	ExpireDueCartsFunc func(ctx context.Context, limit int) (int, error)
}

var _ service.CartService = (*MockCartService)(nil)

func (m *MockCartService) CreateCart(ctx context.Context, userID string, req *dto.CreateCartRequest) (*dto.CartResponse, error) {
	if m.CreateCartFunc != nil {
		return m.CreateCartFunc(ctx, userID, req)
	}
	return nil, nil
}

func (m *MockCartService) GetCart(ctx context.Context, cartID, userID string) (*dto.CartResponse, error) {
	if m.GetCartFunc != nil {
		return m.GetCartFunc(ctx, cartID, userID)
	}
	return nil, nil
}

func (m *MockCartService) GetUserCarts(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error) {
	if m.GetUserCartsFunc != nil {
		return m.GetUserCartsFunc(ctx, userID, page, pageSize)
	}
	return nil, nil
}

func (m *MockCartService) AddItem(ctx context.Context, cartID, userID string, req *dto.AddItemRequest) (*dto.CartResponse, error) {
	if m.AddItemFunc != nil {
		return m.AddItemFunc(ctx, cartID, userID, req)
	}
	return nil, nil
}

func (m *MockCartService) RemoveItem(ctx context.Context, cartID, userID, itemID string) (*dto.CartResponse, error) {
	if m.RemoveItemFunc != nil {
		return m.RemoveItemFunc(ctx, cartID, userID, itemID)
	}
	return nil, nil
}

func (m *MockCartService) Reserve(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error) {
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, cartID, userID)
	}
	return nil, nil
}

func (m *MockCartService) Extend(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error) {
	if m.ExtendFunc != nil {
		return m.ExtendFunc(ctx, cartID, userID)
	}
	return nil, nil
}

func (m *MockCartService) Cancel(ctx context.Context, cartID, userID string) (*dto.CancelCartResponse, error) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, cartID, userID)
	}
	return nil, nil
}

func (m *MockCartService) GetExpiredCarts(ctx context.Context, limit int) ([]*domain.Cart, error) {
	if m.GetExpiredCartsFunc != nil {
		return m.GetExpiredCartsFunc(ctx, limit)
	}
	return nil, nil
}

func (m *MockCartService) ExpireCart(ctx context.Context, cart *domain.Cart) error {
	if m.ExpireCartFunc != nil {
		return m.ExpireCartFunc(ctx, cart)
	}
	return nil
}

func (m *MockCartService) ExpireDueCarts(ctx context.Context, limit int) (int, error) {
	if m.ExpireDueCartsFunc != nil {
		return m.ExpireDueCartsFunc(ctx, limit)
	}
	return 0, nil
}

// MockCheckoutService is a mock implementation of CheckoutService for testing
type MockCheckoutService struct {
	CheckoutFunc func(ctx context.Context, cartID, userID string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error)
}

var _ service.CheckoutService = (*MockCheckoutService)(nil)

func (m *MockCheckoutService) Checkout(ctx context.Context, cartID, userID string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
	if m.CheckoutFunc != nil {
		return m.CheckoutFunc(ctx, cartID, userID, req)
	}
	return nil, nil
}

func newTestCartHandler(cartService *MockCartService, checkoutService *MockCheckoutService) *CartHandler {
	if checkoutService == nil {
		checkoutService = &MockCheckoutService{}
	}
	sessions := middleware.NewSessionManager(&middleware.SessionConfig{
		Secret:   "test-secret",
		TokenTTL: 15 * time.Minute,
		Issuer:   "startline-test",
	})
	return NewCartHandler(cartService, checkoutService, sessions)
}

func setupCartRouter(handler *CartHandler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	if userID != "" {
		router.Use(func(c *gin.Context) {
			c.Set("user_id", userID)
			c.Next()
		})
	}

	carts := router.Group("/carts")
	{
		carts.POST("", handler.CreateCart)
		carts.GET("", handler.ListCarts)
		carts.GET("/:id", handler.GetCart)
		carts.POST("/:id/items", handler.AddItem)
		carts.DELETE("/:id/items/:item_id", handler.RemoveItem)
		carts.POST("/:id/reserve", handler.Reserve)
		carts.POST("/:id/extend", handler.Extend)
		carts.POST("/:id/checkout", handler.Checkout)
		carts.DELETE("/:id", handler.Cancel)
	}

	return router
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return &resp
}

func TestCartHandler_CreateCart(t *testing.T) {
	tests := []struct {
		name           string
		userID         string
		request        *dto.CreateCartRequest
		mockFunc       func(ctx context.Context, userID string, req *dto.CreateCartRequest) (*dto.CartResponse, error)
		expectedStatus int
		expectedCode   string
	}{
		{
			name:    "successful creation",
			userID:  "user-123",
			request: &dto.CreateCartRequest{EventID: "event-123"},
			mockFunc: func(ctx context.Context, userID string, req *dto.CreateCartRequest) (*dto.CartResponse, error) {
				return &dto.CartResponse{
					ID:       "cart-123",
					EventID:  req.EventID,
					UserID:   userID,
					Status:   "active",
					Currency: "EUR",
					Version:  1,
				}, nil
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "unauthorized without user",
			userID:         "",
			request:        &dto.CreateCartRequest{EventID: "event-123"},
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   "UNAUTHORIZED",
		},
		{
			name:           "missing event id",
			userID:         "user-123",
			request:        &dto.CreateCartRequest{},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestCartHandler(&MockCartService{CreateCartFunc: tt.mockFunc}, nil)
			router := setupCartRouter(handler, tt.userID)

			body, _ := json.Marshal(tt.request)
			req := httptest.NewRequest(http.MethodPost, "/carts", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedCode != "" {
				if resp := decodeError(t, w); resp.Code != tt.expectedCode {
					t.Errorf("expected code %s, got %s", tt.expectedCode, resp.Code)
				}
			}
			if tt.expectedStatus == http.StatusCreated {
				var resp dto.CreateCartResponse
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if resp.Cart == nil || resp.Cart.ID != "cart-123" {
					t.Error("expected cart in response")
				}
				if resp.SessionToken == "" {
					t.Error("expected a session token bound to the new cart")
				}
			}
		})
	}
}

func TestCartHandler_AddItem(t *testing.T) {
	validRequest := &dto.AddItemRequest{
		RaceID:        "race-123",
		LicenseTypeID: "license-ffa",
		Participant: dto.ParticipantRequest{
			FirstName: "Ada",
			LastName:  "Runner",
			Email:     "ada@example.com",
		},
	}

	tests := []struct {
		name           string
		mockFunc       func(ctx context.Context, cartID, userID string, req *dto.AddItemRequest) (*dto.CartResponse, error)
		expectedStatus int
		expectedCode   string
	}{
		{
			name: "successful add",
			mockFunc: func(ctx context.Context, cartID, userID string, req *dto.AddItemRequest) (*dto.CartResponse, error) {
				return &dto.CartResponse{ID: cartID, Status: "active", TotalCents: 2599}, nil
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "cart not found",
			mockFunc: func(ctx context.Context, cartID, userID string, req *dto.AddItemRequest) (*dto.CartResponse, error) {
				return nil, domain.ErrCartNotFound
			},
			expectedStatus: http.StatusNotFound,
			expectedCode:   "NOT_FOUND",
		},
		{
			name: "max items exceeded",
			mockFunc: func(ctx context.Context, cartID, userID string, req *dto.AddItemRequest) (*dto.CartResponse, error) {
				return nil, domain.ErrMaxItemsExceeded
			},
			expectedStatus: http.StatusConflict,
			expectedCode:   "MAX_ITEMS_EXCEEDED",
		},
		{
			name: "license not verified",
			mockFunc: func(ctx context.Context, cartID, userID string, req *dto.AddItemRequest) (*dto.CartResponse, error) {
				return nil, domain.ErrLicenseNotVerified
			},
			expectedStatus: http.StatusForbidden,
			expectedCode:   "LICENSE_NOT_VERIFIED",
		},
		{
			name: "pricing not configured",
			mockFunc: func(ctx context.Context, cartID, userID string, req *dto.AddItemRequest) (*dto.CartResponse, error) {
				return nil, domain.ErrPricingNotConfigured
			},
			expectedStatus: http.StatusConflict,
			expectedCode:   "PRICING_UNAVAILABLE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestCartHandler(&MockCartService{AddItemFunc: tt.mockFunc}, nil)
			router := setupCartRouter(handler, "user-123")

			body, _ := json.Marshal(validRequest)
			req := httptest.NewRequest(http.MethodPost, "/carts/cart-123/items", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedCode != "" {
				if resp := decodeError(t, w); resp.Code != tt.expectedCode {
					t.Errorf("expected code %s, got %s", tt.expectedCode, resp.Code)
				}
			}
		})
	}
}

func TestCartHandler_Reserve(t *testing.T) {
	tests := []struct {
		name           string
		mockFunc       func(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error)
		expectedStatus int
		expectedCode   string
	}{
		{
			name: "successful reserve",
			mockFunc: func(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error) {
				return &dto.ReserveCartResponse{
					CartID:      cartID,
					Status:      "reserved",
					ExpiresAt:   time.Now().Add(10 * time.Minute),
					HoldSeconds: 600,
				}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "capacity exceeded",
			mockFunc: func(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error) {
				return nil, domain.ErrCapacityExceeded
			},
			expectedStatus: http.StatusConflict,
			expectedCode:   "CAPACITY_EXCEEDED",
		},
		{
			name: "empty cart",
			mockFunc: func(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error) {
				return nil, domain.ErrCartEmpty
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "INVALID_REQUEST",
		},
		{
			name: "lapsed hold",
			mockFunc: func(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error) {
				return nil, domain.ErrCartExpired
			},
			expectedStatus: http.StatusGone,
			expectedCode:   "CART_EXPIRED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestCartHandler(&MockCartService{ReserveFunc: tt.mockFunc}, nil)
			router := setupCartRouter(handler, "user-123")

			req := httptest.NewRequest(http.MethodPost, "/carts/cart-123/reserve", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedCode != "" {
				if resp := decodeError(t, w); resp.Code != tt.expectedCode {
					t.Errorf("expected code %s, got %s", tt.expectedCode, resp.Code)
				}
			}
		})
	}
}

func TestCartHandler_Extend(t *testing.T) {
	tests := []struct {
		name           string
		mockFunc       func(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error)
		expectedStatus int
		expectedCode   string
	}{
		{
			name: "successful extend",
			mockFunc: func(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error) {
				return &dto.ReserveCartResponse{
					CartID:      cartID,
					Status:      "reserved",
					ExpiresAt:   time.Now().Add(10 * time.Minute),
					HoldSeconds: 600,
				}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "cart not reserved",
			mockFunc: func(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error) {
				return nil, domain.ErrIllegalTransition
			},
			expectedStatus: http.StatusConflict,
			expectedCode:   "ILLEGAL_TRANSITION",
		},
		{
			name: "lapsed hold",
			mockFunc: func(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error) {
				return nil, domain.ErrCartExpired
			},
			expectedStatus: http.StatusGone,
			expectedCode:   "CART_EXPIRED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestCartHandler(&MockCartService{ExtendFunc: tt.mockFunc}, nil)
			router := setupCartRouter(handler, "user-123")

			req := httptest.NewRequest(http.MethodPost, "/carts/cart-123/extend", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedCode != "" {
				if resp := decodeError(t, w); resp.Code != tt.expectedCode {
					t.Errorf("expected code %s, got %s", tt.expectedCode, resp.Code)
				}
			}
		})
	}
}

func TestCartHandler_Checkout(t *testing.T) {
	tests := []struct {
		name           string
		mockFunc       func(ctx context.Context, cartID, userID string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error)
		expectedStatus int
		expectedCode   string
	}{
		{
			name: "successful checkout",
			mockFunc: func(ctx context.Context, cartID, userID string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
				return &dto.CheckoutResponse{
					CartID:      cartID,
					Status:      "completed",
					PaymentID:   "txn-123",
					TotalCents:  2599,
					Currency:    "EUR",
					CompletedAt: time.Now(),
				}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "payment declined leaves cart reserved",
			mockFunc: func(ctx context.Context, cartID, userID string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
				return nil, domain.ErrPaymentFailed
			},
			expectedStatus: http.StatusPaymentRequired,
			expectedCode:   "PAYMENT_FAILED",
		},
		{
			name: "race filled up during checkout",
			mockFunc: func(ctx context.Context, cartID, userID string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
				return nil, domain.ErrResourceFull
			},
			expectedStatus: http.StatusConflict,
			expectedCode:   "RACE_FULL",
		},
		{
			name: "cart not reserved",
			mockFunc: func(ctx context.Context, cartID, userID string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
				return nil, domain.ErrCartNotReserved
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "INVALID_REQUEST",
		},
		{
			name: "participant already registered",
			mockFunc: func(ctx context.Context, cartID, userID string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
				return nil, domain.ErrAlreadyRegistered
			},
			expectedStatus: http.StatusConflict,
			expectedCode:   "ALREADY_REGISTERED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestCartHandler(&MockCartService{}, &MockCheckoutService{CheckoutFunc: tt.mockFunc})
			router := setupCartRouter(handler, "user-123")

			body, _ := json.Marshal(&dto.CheckoutRequest{PaymentMethod: "card"})
			req := httptest.NewRequest(http.MethodPost, "/carts/cart-123/checkout", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedCode != "" {
				if resp := decodeError(t, w); resp.Code != tt.expectedCode {
					t.Errorf("expected code %s, got %s", tt.expectedCode, resp.Code)
				}
			}
		})
	}
}

func TestCartHandler_GetCart(t *testing.T) {
	t.Run("returns the cart", func(t *testing.T) {
		handler := newTestCartHandler(&MockCartService{
			GetCartFunc: func(ctx context.Context, cartID, userID string) (*dto.CartResponse, error) {
				return &dto.CartResponse{ID: cartID, UserID: userID, Status: "active"}, nil
			},
		}, nil)
		router := setupCartRouter(handler, "user-123")

		req := httptest.NewRequest(http.MethodGet, "/carts/cart-123", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var resp dto.CartResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.ID != "cart-123" {
			t.Errorf("expected cart-123, got %s", resp.ID)
		}
	})

	t.Run("expired cart returns 410", func(t *testing.T) {
		handler := newTestCartHandler(&MockCartService{
			GetCartFunc: func(ctx context.Context, cartID, userID string) (*dto.CartResponse, error) {
				return nil, domain.ErrCartExpired
			},
		}, nil)
		router := setupCartRouter(handler, "user-123")

		req := httptest.NewRequest(http.MethodGet, "/carts/cart-123", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusGone {
			t.Fatalf("expected status 410, got %d", w.Code)
		}
	})
}

func TestCartHandler_Cancel(t *testing.T) {
	t.Run("cancels the cart", func(t *testing.T) {
		handler := newTestCartHandler(&MockCartService{
			CancelFunc: func(ctx context.Context, cartID, userID string) (*dto.CancelCartResponse, error) {
				return &dto.CancelCartResponse{CartID: cartID, Status: "expired", Message: "cart cancelled"}, nil
			},
		}, nil)
		router := setupCartRouter(handler, "user-123")

		req := httptest.NewRequest(http.MethodDelete, "/carts/cart-123", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("completed cart cannot be cancelled", func(t *testing.T) {
		handler := newTestCartHandler(&MockCartService{
			CancelFunc: func(ctx context.Context, cartID, userID string) (*dto.CancelCartResponse, error) {
				return nil, domain.ErrIllegalTransition
			},
		}, nil)
		router := setupCartRouter(handler, "user-123")

		req := httptest.NewRequest(http.MethodDelete, "/carts/cart-123", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", w.Code)
		}
		if resp := decodeError(t, w); resp.Code != "ILLEGAL_TRANSITION" {
			t.Errorf("expected code ILLEGAL_TRANSITION, got %s", resp.Code)
		}
	})
}

func TestCartHandler_RemoveItem(t *testing.T) {
	t.Run("item not found", func(t *testing.T) {
		handler := newTestCartHandler(&MockCartService{
			RemoveItemFunc: func(ctx context.Context, cartID, userID, itemID string) (*dto.CartResponse, error) {
				return nil, domain.ErrItemNotFound
			},
		}, nil)
		router := setupCartRouter(handler, "user-123")

		req := httptest.NewRequest(http.MethodDelete, "/carts/cart-123/items/item-999", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", w.Code)
		}
	})
}
