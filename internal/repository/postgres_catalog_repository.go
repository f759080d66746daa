package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"startline/internal/domain"
	"startline/pkg/telemetry"
)

// PostgresCatalogRepository implements CatalogRepository using PostgreSQL
type PostgresCatalogRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalogRepository creates a new PostgresCatalogRepository
func NewPostgresCatalogRepository(pool *pgxpool.Pool) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{pool: pool}
}

// GetRace retrieves a race by its ID
func (r *PostgresCatalogRepository) GetRace(ctx context.Context, raceID string) (*domain.Race, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.catalog.get_race")
	defer span.End()

	span.SetAttributes(attribute.String("race_id", raceID))

	query := `
		SELECT id, event_id, name, start_time, max_participants,
			confirmed_count, requires_license, commission_cents
		FROM races
		WHERE id = $1
	`

	race := &domain.Race{}
	err := r.pool.QueryRow(ctx, query, raceID).Scan(
		&race.ID,
		&race.EventID,
		&race.Name,
		&race.StartTime,
		&race.MaxParticipants,
		&race.ConfirmedCount,
		&race.RequiresLicense,
		&race.CommissionCents,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrRaceNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get race: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return race, nil
}

// ListRaces retrieves all races for an event
func (r *PostgresCatalogRepository) ListRaces(ctx context.Context, eventID string) ([]*domain.Race, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.catalog.list_races")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	query := `
		SELECT id, event_id, name, start_time, max_participants,
			confirmed_count, requires_license, commission_cents
		FROM races
		WHERE event_id = $1
		ORDER BY start_time
	`

	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list races: %w", err)
	}
	defer rows.Close()

	var races []*domain.Race
	for rows.Next() {
		race := &domain.Race{}
		err := rows.Scan(
			&race.ID,
			&race.EventID,
			&race.Name,
			&race.StartTime,
			&race.MaxParticipants,
			&race.ConfirmedCount,
			&race.RequiresLicense,
			&race.CommissionCents,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan race: %w", err)
		}
		races = append(races, race)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error iterating races: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(races)))
	span.SetStatus(codes.Ok, "")
	return races, nil
}

// GetRaceOptions retrieves a race's add-on options with their choices
func (r *PostgresCatalogRepository) GetRaceOptions(ctx context.Context, raceID string) ([]*domain.RaceOption, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.catalog.get_race_options")
	defer span.End()

	span.SetAttributes(attribute.String("race_id", raceID))

	optionQuery := `
		SELECT id, race_id, name, kind, base_price_cents, required
		FROM race_options
		WHERE race_id = $1
		ORDER BY name
	`

	rows, err := r.pool.Query(ctx, optionQuery, raceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get race options: %w", err)
	}
	defer rows.Close()

	var options []*domain.RaceOption
	byID := make(map[string]*domain.RaceOption)
	for rows.Next() {
		opt := &domain.RaceOption{}
		var kind string
		err := rows.Scan(
			&opt.ID,
			&opt.RaceID,
			&opt.Name,
			&kind,
			&opt.BasePriceCents,
			&opt.Required,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan race option: %w", err)
		}
		opt.Kind = domain.RaceOptionKind(kind)
		options = append(options, opt)
		byID[opt.ID] = opt
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error iterating race options: %w", err)
	}

	choiceQuery := `
		SELECT c.id, c.option_id, c.label, c.price_modifier_cents,
			c.max_quantity, c.current_quantity
		FROM option_choices c
		JOIN race_options o ON c.option_id = o.id
		WHERE o.race_id = $1
		ORDER BY c.label
	`

	choiceRows, err := r.pool.Query(ctx, choiceQuery, raceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get option choices: %w", err)
	}
	defer choiceRows.Close()

	for choiceRows.Next() {
		var choice domain.OptionChoice
		err := choiceRows.Scan(
			&choice.ID,
			&choice.OptionID,
			&choice.Label,
			&choice.PriceModifierCents,
			&choice.MaxQuantity,
			&choice.CurrentQuantity,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan option choice: %w", err)
		}
		if opt, ok := byID[choice.OptionID]; ok {
			opt.Choices = append(opt.Choices, choice)
		}
	}
	if err := choiceRows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error iterating option choices: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(options)))
	span.SetStatus(codes.Ok, "")
	return options, nil
}

// GetPricingPeriods retrieves all pricing periods for a race
func (r *PostgresCatalogRepository) GetPricingPeriods(ctx context.Context, raceID string) ([]*domain.PricingPeriod, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.catalog.get_pricing_periods")
	defer span.End()

	span.SetAttributes(attribute.String("race_id", raceID))

	query := `
		SELECT id, race_id, name, start_at, end_at, active
		FROM pricing_periods
		WHERE race_id = $1
		ORDER BY start_at
	`

	rows, err := r.pool.Query(ctx, query, raceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get pricing periods: %w", err)
	}
	defer rows.Close()

	var periods []*domain.PricingPeriod
	for rows.Next() {
		period := &domain.PricingPeriod{}
		err := rows.Scan(
			&period.ID,
			&period.RaceID,
			&period.Name,
			&period.StartAt,
			&period.EndAt,
			&period.Active,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan pricing period: %w", err)
		}
		periods = append(periods, period)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error iterating pricing periods: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(periods)))
	span.SetStatus(codes.Ok, "")
	return periods, nil
}

// GetPricing retrieves the price for a (race, license type, period) triple.
// Returns nil without error when no price is configured.
func (r *PostgresCatalogRepository) GetPricing(ctx context.Context, raceID, licenseTypeID, periodID string) (*domain.RacePricing, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.catalog.get_pricing")
	defer span.End()

	span.SetAttributes(
		attribute.String("race_id", raceID),
		attribute.String("license_type_id", licenseTypeID),
		attribute.String("period_id", periodID),
	)

	query := `
		SELECT race_id, license_type_id, pricing_period_id, price_cents
		FROM race_pricing
		WHERE race_id = $1 AND license_type_id = $2 AND pricing_period_id = $3
	`

	pricing := &domain.RacePricing{}
	err := r.pool.QueryRow(ctx, query, raceID, licenseTypeID, periodID).Scan(
		&pricing.RaceID,
		&pricing.LicenseTypeID,
		&pricing.PricingPeriodID,
		&pricing.PriceCents,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Ok, "not configured")
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get pricing: %w", err)
	}

	span.SetAttributes(attribute.Int64("price_cents", pricing.PriceCents))
	span.SetStatus(codes.Ok, "")
	return pricing, nil
}

// IncrementConfirmedCount bumps a race's confirmed registration count
func (r *PostgresCatalogRepository) IncrementConfirmedCount(ctx context.Context, raceID string, delta int) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.catalog.increment_confirmed")
	defer span.End()

	span.SetAttributes(
		attribute.String("race_id", raceID),
		attribute.Int("delta", delta),
	)

	query := `UPDATE races SET confirmed_count = confirmed_count + $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, raceID, delta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to increment confirmed count: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrRaceNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// IncrementChoiceQuantity bumps an option choice's confirmed usage
func (r *PostgresCatalogRepository) IncrementChoiceQuantity(ctx context.Context, choiceID string, delta int) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.catalog.increment_choice_quantity")
	defer span.End()

	span.SetAttributes(
		attribute.String("choice_id", choiceID),
		attribute.Int("delta", delta),
	)

	query := `UPDATE option_choices SET current_quantity = current_quantity + $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, choiceID, delta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to increment choice quantity: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrChoiceNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Ensure PostgresCatalogRepository implements CatalogRepository
var _ CatalogRepository = (*PostgresCatalogRepository)(nil)
