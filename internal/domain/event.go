package domain

import (
	"time"
)

// Cart lifecycle event types published to the event stream
const (
	EventCartCreated   = "cart.created"
	EventItemAdded     = "cart.item_added"
	EventItemRemoved   = "cart.item_removed"
	EventCartReserved  = "cart.reserved"
	EventCartExtended  = "cart.extended"
	EventCartExpired   = "cart.expired"
	EventCartCompleted = "cart.completed"
	EventCartCancelled = "cart.cancelled"
)

// CartEvent is the payload published for every cart lifecycle change
type CartEvent struct {
	Type       string     `json:"type"`
	CartID     string     `json:"cart_id"`
	EventID    string     `json:"event_id"`
	UserID     string     `json:"user_id"`
	Status     CartStatus `json:"status"`
	ItemID     string     `json:"item_id,omitempty"`
	RaceID     string     `json:"race_id,omitempty"`
	TotalCents int64      `json:"total_cents"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// NewCartEvent builds an event from the cart's current state
func NewCartEvent(eventType string, cart *Cart) *CartEvent {
	return &CartEvent{
		Type:       eventType,
		CartID:     cart.ID,
		EventID:    cart.EventID,
		UserID:     cart.UserID,
		Status:     cart.Status,
		TotalCents: cart.TotalCents,
		ExpiresAt:  cart.ExpiresAt,
		OccurredAt: time.Now(),
	}
}
