package domain

import (
	"time"
)

// Race represents a capacity-limited race within an event
type Race struct {
	ID              string    `json:"id"`
	EventID         string    `json:"event_id"`
	Name            string    `json:"name"`
	StartTime       time.Time `json:"start_time"`
	// MaxParticipants is nil for unlimited races
	MaxParticipants *int  `json:"max_participants,omitempty"`
	ConfirmedCount  int   `json:"confirmed_count"`
	RequiresLicense bool  `json:"requires_license"`
	CommissionCents int64 `json:"commission_cents"`
}

// IsUnlimited reports whether the race has no capacity cap
func (r *Race) IsUnlimited() bool {
	return r.MaxParticipants == nil
}

// CapacityLimit returns the configured cap, -1 for unlimited
func (r *Race) CapacityLimit() int {
	if r.MaxParticipants == nil {
		return -1
	}
	return *r.MaxParticipants
}

// RaceOptionKind distinguishes choice-based add-ons from quantity add-ons
type RaceOptionKind string

const (
	OptionKindChoice   RaceOptionKind = "choice"
	OptionKindQuantity RaceOptionKind = "quantity"
)

// RaceOption is a paid add-on attached to a race
type RaceOption struct {
	ID             string         `json:"id"`
	RaceID         string         `json:"race_id"`
	Name           string         `json:"name"`
	Kind           RaceOptionKind `json:"kind"`
	BasePriceCents int64          `json:"base_price_cents"`
	Required       bool           `json:"required"`
	Choices        []OptionChoice `json:"choices,omitempty"`
}

// ChoiceByID returns the choice with the given id, or nil
func (o *RaceOption) ChoiceByID(choiceID string) *OptionChoice {
	for idx := range o.Choices {
		if o.Choices[idx].ID == choiceID {
			return &o.Choices[idx]
		}
	}
	return nil
}

// OptionChoice is one selectable value of a choice option, itself
// capacity-limited (e.g. shirt sizes with per-size stock)
type OptionChoice struct {
	ID                 string `json:"id"`
	OptionID           string `json:"option_id"`
	Label              string `json:"label"`
	PriceModifierCents int64  `json:"price_modifier_cents"`
	// MaxQuantity is nil for unlimited choices
	MaxQuantity     *int `json:"max_quantity,omitempty"`
	CurrentQuantity int  `json:"current_quantity"`
}

// IsUnlimited reports whether the choice has no stock cap
func (c *OptionChoice) IsUnlimited() bool {
	return c.MaxQuantity == nil
}

// CapacityLimit returns the configured cap, -1 for unlimited
func (c *OptionChoice) CapacityLimit() int {
	if c.MaxQuantity == nil {
		return -1
	}
	return *c.MaxQuantity
}

// PricingPeriod is a time window during which a price table applies
type PricingPeriod struct {
	ID      string    `json:"id"`
	RaceID  string    `json:"race_id"`
	Name    string    `json:"name"`
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
	Active  bool      `json:"active"`
}

// IsCurrent reports whether the period covers the given instant
func (p *PricingPeriod) IsCurrent(at time.Time) bool {
	return p.Active && !at.Before(p.StartAt) && !at.After(p.EndAt)
}

// RacePricing maps (race, license type, period) to a price
type RacePricing struct {
	RaceID          string `json:"race_id"`
	LicenseTypeID   string `json:"license_type_id"`
	PricingPeriodID string `json:"pricing_period_id"`
	PriceCents      int64  `json:"price_cents"`
}

// Resource identifiers used by the inventory ledger. Races and option
// choices share one claim namespace.

// RaceResource returns the ledger resource id for a race
func RaceResource(raceID string) string {
	return "race:" + raceID
}

// ChoiceResource returns the ledger resource id for an option choice
func ChoiceResource(choiceID string) string {
	return "choice:" + choiceID
}

// RaceAvailability is the browse-time capacity view of a race. Held but
// unpaid capacity counts toward sold-out so browsing users see the same
// number a reserve attempt would be checked against.
type RaceAvailability struct {
	RaceID    string `json:"race_id"`
	Unlimited bool   `json:"unlimited"`
	Limit     int    `json:"limit,omitempty"`
	Confirmed int    `json:"confirmed"`
	Held      int    `json:"held"`
	Available int    `json:"available"`
	SoldOut   bool   `json:"sold_out"`
}
