package domain

import (
	"time"
)

// CartStatus represents the lifecycle state of a cart
type CartStatus string

const (
	CartStatusActive    CartStatus = "active"
	CartStatusReserved  CartStatus = "reserved"
	CartStatusExpired   CartStatus = "expired"
	CartStatusCompleted CartStatus = "completed"
)

// IsValid checks if the status is a known cart status
func (s CartStatus) IsValid() bool {
	switch s {
	case CartStatusActive, CartStatusReserved, CartStatusExpired, CartStatusCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed
func (s CartStatus) IsTerminal() bool {
	return s == CartStatusExpired || s == CartStatusCompleted
}

func (s CartStatus) String() string {
	return string(s)
}

// validTransitions is the single source of truth for cart lifecycle edges.
// reserved → reserved covers hold extension.
var validTransitions = map[CartStatus][]CartStatus{
	CartStatusActive:   {CartStatusReserved, CartStatusExpired},
	CartStatusReserved: {CartStatusReserved, CartStatusExpired, CartStatusCompleted},
}

// CanTransition reports whether from → to is a legal lifecycle edge
func CanTransition(from, to CartStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DefaultHoldDuration is how long a reservation holds capacity before expiring
const DefaultHoldDuration = 10 * time.Minute

// Cart represents a registration cart
type Cart struct {
	ID         string     `json:"id"`
	EventID    string     `json:"event_id"`
	UserID     string     `json:"user_id"`
	Status     CartStatus `json:"status"`
	Items      []CartItem `json:"items,omitempty"`
	TotalCents int64      `json:"total_cents"`
	Currency   string     `json:"currency"`
	Version    int64      `json:"version"`
	PaymentID  string     `json:"payment_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ReservedAt *time.Time `json:"reserved_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// CartItem is a single registration line in a cart. The participant data is
// snapshotted at add-time so later profile edits do not change what was
// registered.
type CartItem struct {
	ID              string           `json:"id"`
	CartID          string           `json:"cart_id"`
	RaceID          string           `json:"race_id"`
	LicenseTypeID   string           `json:"license_type_id"`
	Participant     Participant      `json:"participant"`
	SelectedOptions []SelectedOption `json:"selected_options,omitempty"`
	BaseCents       int64            `json:"base_cents"`
	OptionsCents    int64            `json:"options_cents"`
	CommissionCents int64            `json:"commission_cents"`
	TotalCents      int64            `json:"total_cents"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Participant is the immutable registrant snapshot stored on a cart item
type Participant struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	BirthDate     string `json:"birth_date"`
	Gender        string `json:"gender"`
	LicenseNumber string `json:"license_number,omitempty"`
	Club          string `json:"club,omitempty"`
}

// SelectedOption is one add-on selection on a cart item. Exactly one of
// ChoiceID or Value is set depending on the option kind.
type SelectedOption struct {
	OptionID string `json:"option_id"`
	ChoiceID string `json:"choice_id,omitempty"`
	Value    string `json:"value,omitempty"`
	Quantity int    `json:"quantity"`
}

// Validate checks the cart item for required fields
func (i *CartItem) Validate() error {
	if i.RaceID == "" {
		return ErrInvalidRaceID
	}
	if i.LicenseTypeID == "" {
		return ErrInvalidLicenseType
	}
	if i.Participant.FirstName == "" || i.Participant.LastName == "" {
		return ErrInvalidParticipant
	}
	for _, opt := range i.SelectedOptions {
		if opt.OptionID == "" {
			return ErrInvalidOption
		}
		if opt.Quantity <= 0 {
			return ErrInvalidQuantity
		}
	}
	return nil
}

// Validate checks the cart for required fields and a known status
func (c *Cart) Validate() error {
	if c.ID == "" {
		return ErrInvalidCartID
	}
	if c.UserID == "" {
		return ErrInvalidUserID
	}
	if !c.Status.IsValid() {
		return ErrInvalidCartStatus
	}
	return nil
}

// IsExpired reports whether the hold has lapsed. Carts without an expiry
// never expire on their own.
func (c *Cart) IsExpired() bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*c.ExpiresAt)
}

// CanModifyItems reports whether items may be added or removed
func (c *Cart) CanModifyItems() bool {
	return c.Status == CartStatusActive
}

// CanReserve reports whether the cart may begin a reservation
func (c *Cart) CanReserve() bool {
	return c.Status == CartStatusActive && len(c.Items) > 0
}

// CanCheckout reports whether the cart may be checked out right now
func (c *Cart) CanCheckout() bool {
	return c.Status == CartStatusReserved && !c.IsExpired()
}

// Reserve transitions active → reserved and starts the hold timer
func (c *Cart) Reserve(holdDuration time.Duration) error {
	if !CanTransition(c.Status, CartStatusReserved) || c.Status != CartStatusActive {
		return ErrIllegalTransition
	}
	now := time.Now()
	expiresAt := now.Add(holdDuration)
	c.Status = CartStatusReserved
	c.ReservedAt = &now
	c.ExpiresAt = &expiresAt
	c.UpdatedAt = now
	return nil
}

// Extend refreshes the hold timer without re-claiming capacity. Only legal
// while the current hold is still live.
func (c *Cart) Extend(holdDuration time.Duration) error {
	if c.Status != CartStatusReserved {
		return ErrIllegalTransition
	}
	if c.IsExpired() {
		return ErrCartExpired
	}
	now := time.Now()
	expiresAt := now.Add(holdDuration)
	c.ExpiresAt = &expiresAt
	c.UpdatedAt = now
	return nil
}

// Expire transitions the cart to expired. The hold timestamp is
// cleared: it only has meaning while the cart is reserved.
func (c *Cart) Expire() error {
	if !CanTransition(c.Status, CartStatusExpired) {
		return ErrIllegalTransition
	}
	c.Status = CartStatusExpired
	c.ExpiresAt = nil
	c.UpdatedAt = time.Now()
	return nil
}

// Complete transitions reserved → completed
func (c *Cart) Complete() error {
	if c.Status != CartStatusReserved {
		return ErrIllegalTransition
	}
	c.Status = CartStatusCompleted
	c.UpdatedAt = time.Now()
	return nil
}

// RecomputeTotal recalculates the cached cart total from its items
func (c *Cart) RecomputeTotal() {
	var total int64
	for _, item := range c.Items {
		total += item.TotalCents
	}
	c.TotalCents = total
}

// TimeUntilExpiry returns remaining hold time, zero if lapsed or no hold
func (c *Cart) TimeUntilExpiry() time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	remaining := time.Until(*c.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// BelongsToUser checks cart ownership
func (c *Cart) BelongsToUser(userID string) bool {
	return c.UserID == userID
}

// ItemByID returns the item with the given id, or nil
func (c *Cart) ItemByID(itemID string) *CartItem {
	for idx := range c.Items {
		if c.Items[idx].ID == itemID {
			return &c.Items[idx]
		}
	}
	return nil
}
