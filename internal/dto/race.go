package dto

import (
	"time"

	"startline/internal/domain"
)

// RaceOptionResponse represents a race add-on in API responses
type RaceOptionResponse struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	Kind           string                 `json:"kind"`
	BasePriceCents int64                  `json:"base_price_cents"`
	Required       bool                   `json:"required"`
	Choices        []OptionChoiceResponse `json:"choices,omitempty"`
}

// OptionChoiceResponse represents one selectable choice of an option
type OptionChoiceResponse struct {
	ID                 string `json:"id"`
	Label              string `json:"label"`
	PriceModifierCents int64  `json:"price_modifier_cents"`
	SoldOut            bool   `json:"sold_out"`
}

// RaceResponse represents a race with its add-ons
type RaceResponse struct {
	ID              string               `json:"id"`
	EventID         string               `json:"event_id"`
	Name            string               `json:"name"`
	StartTime       time.Time            `json:"start_time"`
	RequiresLicense bool                 `json:"requires_license"`
	Options         []RaceOptionResponse `json:"options,omitempty"`
}

// RaceFromDomain converts a domain Race and its options to a response
func RaceFromDomain(r *domain.Race, options []*domain.RaceOption) *RaceResponse {
	resp := &RaceResponse{
		ID:              r.ID,
		EventID:         r.EventID,
		Name:            r.Name,
		StartTime:       r.StartTime,
		RequiresLicense: r.RequiresLicense,
	}
	for _, opt := range options {
		optResp := RaceOptionResponse{
			ID:             opt.ID,
			Name:           opt.Name,
			Kind:           string(opt.Kind),
			BasePriceCents: opt.BasePriceCents,
			Required:       opt.Required,
		}
		for _, choice := range opt.Choices {
			soldOut := !choice.IsUnlimited() && choice.CurrentQuantity >= *choice.MaxQuantity
			optResp.Choices = append(optResp.Choices, OptionChoiceResponse{
				ID:                 choice.ID,
				Label:              choice.Label,
				PriceModifierCents: choice.PriceModifierCents,
				SoldOut:            soldOut,
			})
		}
		resp.Options = append(resp.Options, optResp)
	}
	return resp
}
