package pricing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"startline/internal/domain"
	"startline/internal/repository"
	"startline/pkg/telemetry"
)

// Quote is the price breakdown for one registration line. Commission is
// added by the cart service, not here, so platform fees stay separate from
// race pricing.
type Quote struct {
	BaseCents       int64  `json:"base_cents"`
	OptionsCents    int64  `json:"options_cents"`
	TotalCents      int64  `json:"total_cents"`
	PricingPeriodID string `json:"pricing_period_id"`
}

// Engine computes registration prices from the license-type and
// pricing-period matrix. Quote is a pure function of catalog state: the
// same inputs at the same instant always produce the same result.
type Engine struct {
	catalog repository.CatalogRepository
}

// NewEngine creates a pricing engine
func NewEngine(catalog repository.CatalogRepository) *Engine {
	return &Engine{catalog: catalog}
}

// Quote prices a race registration for a license type at a point in time,
// plus any selected add-on options.
func (e *Engine) Quote(ctx context.Context, raceID, licenseTypeID string, asOf time.Time, selections []domain.SelectedOption) (*Quote, error) {
	ctx, span := telemetry.StartSpan(ctx, "pricing.quote")
	defer span.End()

	span.SetAttributes(
		attribute.String("race_id", raceID),
		attribute.String("license_type_id", licenseTypeID),
		attribute.Int("option_count", len(selections)),
	)

	periods, err := e.catalog.GetPricingPeriods(ctx, raceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var current *domain.PricingPeriod
	for _, period := range periods {
		if period.IsCurrent(asOf) {
			current = period
			break
		}
	}
	if current == nil {
		span.SetStatus(codes.Error, "no active pricing period")
		return nil, domain.ErrPricingUnavailable
	}

	pricing, err := e.catalog.GetPricing(ctx, raceID, licenseTypeID, current.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if pricing == nil {
		span.SetStatus(codes.Error, "no price configured")
		return nil, domain.ErrPricingNotConfigured
	}

	optionsCents, err := e.priceOptions(ctx, raceID, selections)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	quote := &Quote{
		BaseCents:       pricing.PriceCents,
		OptionsCents:    optionsCents,
		TotalCents:      pricing.PriceCents + optionsCents,
		PricingPeriodID: current.ID,
	}

	span.SetAttributes(attribute.Int64("total_cents", quote.TotalCents))
	span.SetStatus(codes.Ok, "")
	return quote, nil
}

// priceOptions sums the selected add-ons. A negative price modifier clamps
// the option line at zero rather than discounting the base price.
func (e *Engine) priceOptions(ctx context.Context, raceID string, selections []domain.SelectedOption) (int64, error) {
	if len(selections) == 0 {
		return 0, nil
	}

	options, err := e.catalog.GetRaceOptions(ctx, raceID)
	if err != nil {
		return 0, err
	}

	byID := make(map[string]*domain.RaceOption, len(options))
	for _, opt := range options {
		byID[opt.ID] = opt
	}

	var total int64
	for _, sel := range selections {
		opt, ok := byID[sel.OptionID]
		if !ok {
			return 0, domain.ErrOptionNotFound
		}

		quantity := int64(sel.Quantity)
		if quantity <= 0 {
			return 0, domain.ErrInvalidQuantity
		}

		var line int64
		switch opt.Kind {
		case domain.OptionKindChoice:
			choice := opt.ChoiceByID(sel.ChoiceID)
			if choice == nil {
				return 0, domain.ErrChoiceNotFound
			}
			line = (opt.BasePriceCents + choice.PriceModifierCents) * quantity
		case domain.OptionKindQuantity:
			line = opt.BasePriceCents * quantity
		default:
			return 0, domain.ErrInvalidOption
		}

		if line < 0 {
			line = 0
		}
		total += line
	}

	return total, nil
}
