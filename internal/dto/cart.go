package dto

import (
	"time"

	"startline/internal/domain"
)

// CreateCartRequest represents a request to open a new cart for an event
type CreateCartRequest struct {
	EventID string `json:"event_id" binding:"required"`
}

// CreateCartResponse returns the new cart and its session token
type CreateCartResponse struct {
	Cart         *CartResponse `json:"cart"`
	SessionToken string        `json:"session_token"`
}

// ParticipantRequest is the registrant snapshot for one item
type ParticipantRequest struct {
	FirstName     string `json:"first_name" binding:"required"`
	LastName      string `json:"last_name" binding:"required"`
	Email         string `json:"email" binding:"required,email"`
	BirthDate     string `json:"birth_date,omitempty"`
	Gender        string `json:"gender,omitempty"`
	LicenseNumber string `json:"license_number,omitempty"`
	Club          string `json:"club,omitempty"`
}

// SelectedOptionRequest is one add-on selection on an item
type SelectedOptionRequest struct {
	OptionID string `json:"option_id" binding:"required"`
	ChoiceID string `json:"choice_id,omitempty"`
	Value    string `json:"value,omitempty"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

// AddItemRequest represents a request to add a registration line to a cart
type AddItemRequest struct {
	RaceID          string                  `json:"race_id" binding:"required"`
	LicenseTypeID   string                  `json:"license_type_id" binding:"required"`
	Participant     ParticipantRequest      `json:"participant" binding:"required"`
	SelectedOptions []SelectedOptionRequest `json:"selected_options,omitempty"`
}

// ReserveCartResponse returns the hold placed on a cart
type ReserveCartResponse struct {
	CartID    string    `json:"cart_id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	// HoldSeconds is remaining hold time, for countdown display
	HoldSeconds int64 `json:"hold_seconds"`
}

// CheckoutRequest represents a request to check out a reserved cart
type CheckoutRequest struct {
	PaymentMethod string `json:"payment_method" binding:"required"`
}

// CheckoutResponse returns the completed checkout
type CheckoutResponse struct {
	CartID      string    `json:"cart_id"`
	Status      string    `json:"status"`
	PaymentID   string    `json:"payment_id"`
	TotalCents  int64     `json:"total_cents"`
	Currency    string    `json:"currency"`
	CompletedAt time.Time `json:"completed_at"`
}

// CancelCartResponse returns the result of releasing a cart
type CancelCartResponse struct {
	CartID  string `json:"cart_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CartItemResponse represents a cart item in API responses
type CartItemResponse struct {
	ID              string                  `json:"id"`
	RaceID          string                  `json:"race_id"`
	LicenseTypeID   string                  `json:"license_type_id"`
	Participant     domain.Participant      `json:"participant"`
	SelectedOptions []domain.SelectedOption `json:"selected_options,omitempty"`
	BaseCents       int64                   `json:"base_cents"`
	OptionsCents    int64                   `json:"options_cents"`
	CommissionCents int64                   `json:"commission_cents"`
	TotalCents      int64                   `json:"total_cents"`
}

// CartResponse represents a cart in API responses
type CartResponse struct {
	ID          string             `json:"id"`
	EventID     string             `json:"event_id"`
	UserID      string             `json:"user_id"`
	Status      string             `json:"status"`
	Items       []CartItemResponse `json:"items"`
	TotalCents  int64              `json:"total_cents"`
	Currency    string             `json:"currency"`
	Version     int64              `json:"version"`
	ReservedAt  *time.Time         `json:"reserved_at,omitempty"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	HoldSeconds int64              `json:"hold_seconds,omitempty"`
}

// RaceAvailabilityResponse represents browse-time race capacity
type RaceAvailabilityResponse struct {
	RaceID    string `json:"race_id"`
	Name      string `json:"name"`
	Unlimited bool   `json:"unlimited"`
	Limit     int    `json:"limit,omitempty"`
	Confirmed int    `json:"confirmed"`
	Held      int    `json:"held"`
	Available int    `json:"available"`
	SoldOut   bool   `json:"sold_out"`
}

// PaginatedResponse wraps a paged list
type PaginatedResponse struct {
	Data     interface{} `json:"data"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// FromDomain converts a domain Cart to a CartResponse
func FromDomain(c *domain.Cart) *CartResponse {
	items := make([]CartItemResponse, len(c.Items))
	for i, item := range c.Items {
		items[i] = CartItemResponse{
			ID:              item.ID,
			RaceID:          item.RaceID,
			LicenseTypeID:   item.LicenseTypeID,
			Participant:     item.Participant,
			SelectedOptions: item.SelectedOptions,
			BaseCents:       item.BaseCents,
			OptionsCents:    item.OptionsCents,
			CommissionCents: item.CommissionCents,
			TotalCents:      item.TotalCents,
		}
	}

	return &CartResponse{
		ID:          c.ID,
		EventID:     c.EventID,
		UserID:      c.UserID,
		Status:      string(c.Status),
		Items:       items,
		TotalCents:  c.TotalCents,
		Currency:    c.Currency,
		Version:     c.Version,
		ReservedAt:  c.ReservedAt,
		ExpiresAt:   c.ExpiresAt,
		HoldSeconds: int64(c.TimeUntilExpiry().Seconds()),
	}
}

// AvailabilityFromDomain converts domain availability to a response
func AvailabilityFromDomain(a *domain.RaceAvailability, name string) *RaceAvailabilityResponse {
	return &RaceAvailabilityResponse{
		RaceID:    a.RaceID,
		Name:      name,
		Unlimited: a.Unlimited,
		Limit:     a.Limit,
		Confirmed: a.Confirmed,
		Held:      a.Held,
		Available: a.Available,
		SoldOut:   a.SoldOut,
	}
}
