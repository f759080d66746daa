package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"startline/internal/domain"
	"startline/internal/dto"
	"startline/internal/repository"
	"startline/pkg/telemetry"
)

// RaceService exposes the race catalog and its live availability
type RaceService interface {
	// GetRace retrieves a race with its add-on options
	GetRace(ctx context.Context, raceID string) (*dto.RaceResponse, error)

	// ListRaces retrieves all races of an event
	ListRaces(ctx context.Context, eventID string) ([]*dto.RaceResponse, error)

	// GetAvailability reads the ledger's view of one race. Held capacity
	// counts toward sold-out so browsing matches what a reserve would see.
	GetAvailability(ctx context.Context, raceID string) (*dto.RaceAvailabilityResponse, error)

	// SyncInventory seeds the ledger from the catalog for every race and
	// choice of an event. Held counts are preserved.
	SyncInventory(ctx context.Context, eventID string) (int, error)
}

// raceService implements RaceService
type raceService struct {
	catalogRepo repository.CatalogRepository
	ledger      repository.InventoryLedger
}

// NewRaceService creates a new race service
func NewRaceService(catalogRepo repository.CatalogRepository, ledger repository.InventoryLedger) RaceService {
	return &raceService{
		catalogRepo: catalogRepo,
		ledger:      ledger,
	}
}

// GetRace retrieves a race with its add-on options
func (s *raceService) GetRace(ctx context.Context, raceID string) (*dto.RaceResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.race.get")
	defer span.End()

	span.SetAttributes(attribute.String("race_id", raceID))

	if raceID == "" {
		span.SetStatus(codes.Error, "invalid race_id")
		return nil, domain.ErrInvalidRaceID
	}

	race, err := s.catalogRepo.GetRace(ctx, raceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	options, err := s.catalogRepo.GetRaceOptions(ctx, raceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return dto.RaceFromDomain(race, options), nil
}

// ListRaces retrieves all races of an event
func (s *raceService) ListRaces(ctx context.Context, eventID string) ([]*dto.RaceResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.race.list")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	races, err := s.catalogRepo.ListRaces(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	responses := make([]*dto.RaceResponse, len(races))
	for i, race := range races {
		responses[i] = dto.RaceFromDomain(race, nil)
	}

	span.SetAttributes(attribute.Int("count", len(responses)))
	span.SetStatus(codes.Ok, "")
	return responses, nil
}

// GetAvailability reads the ledger's view of one race
func (s *raceService) GetAvailability(ctx context.Context, raceID string) (*dto.RaceAvailabilityResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.race.availability")
	defer span.End()

	span.SetAttributes(attribute.String("race_id", raceID))

	if raceID == "" {
		span.SetStatus(codes.Error, "invalid race_id")
		return nil, domain.ErrInvalidRaceID
	}

	race, err := s.catalogRepo.GetRace(ctx, raceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	usage, err := s.ledger.Usage(ctx, domain.RaceResource(raceID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	availability := &domain.RaceAvailability{
		RaceID:    raceID,
		Unlimited: usage.Limit < 0,
		Confirmed: int(usage.Confirmed),
		Held:      int(usage.Held),
	}
	if usage.Limit >= 0 {
		availability.Limit = int(usage.Limit)
		availability.Available = int(usage.Available())
		availability.SoldOut = availability.Available == 0
	}

	span.SetAttributes(
		attribute.Int("available", availability.Available),
		attribute.Bool("sold_out", availability.SoldOut),
	)
	span.SetStatus(codes.Ok, "")
	return dto.AvailabilityFromDomain(availability, race.Name), nil
}

// SyncInventory seeds the ledger from the catalog for an event's races and
// their choice stocks
func (s *raceService) SyncInventory(ctx context.Context, eventID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.race.sync_inventory")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	races, err := s.catalogRepo.ListRaces(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	seeded := 0
	for _, race := range races {
		err := s.ledger.SeedResource(ctx,
			domain.RaceResource(race.ID),
			int64(race.CapacityLimit()),
			int64(race.ConfirmedCount),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return seeded, err
		}
		seeded++

		options, err := s.catalogRepo.GetRaceOptions(ctx, race.ID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return seeded, err
		}
		for _, opt := range options {
			for _, choice := range opt.Choices {
				err := s.ledger.SeedResource(ctx,
					domain.ChoiceResource(choice.ID),
					int64(choice.CapacityLimit()),
					int64(choice.CurrentQuantity),
				)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					return seeded, err
				}
				seeded++
			}
		}
	}

	span.SetAttributes(attribute.Int("seeded", seeded))
	span.SetStatus(codes.Ok, "")
	return seeded, nil
}
