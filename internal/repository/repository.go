package repository

import (
	"context"
	"time"

	"startline/internal/domain"
)

// Claim is a single capacity request against one ledger resource.
// Limit is the configured capacity, -1 for unlimited.
type Claim struct {
	ResourceID string
	Quantity   int64
	Limit      int64
}

// ClaimRejection reports which resource blocked an all-or-nothing claim
type ClaimRejection struct {
	ResourceID string
	Requested  int64
	Available  int64
}

// ResourceUsage is the ledger's view of one resource
type ResourceUsage struct {
	ResourceID string
	Limit      int64
	Held       int64
	Confirmed  int64
}

// Available returns remaining claimable capacity, -1 for unlimited
func (u *ResourceUsage) Available() int64 {
	if u.Limit < 0 {
		return -1
	}
	remaining := u.Limit - u.Held - u.Confirmed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// InventoryLedger tracks held and confirmed capacity per resource.
// TryClaim is all-or-nothing across the given claims: either every
// resource grants its quantity or nothing is claimed.
type InventoryLedger interface {
	TryClaim(ctx context.Context, claims []Claim) (*ClaimRejection, error)
	Release(ctx context.Context, claims []Claim) error
	Commit(ctx context.Context, claims []Claim) error
	Usage(ctx context.Context, resourceID string) (*ResourceUsage, error)
	SeedResource(ctx context.Context, resourceID string, limit, confirmed int64) error
}

// CartRepository is the durable store for carts and their items
type CartRepository interface {
	Create(ctx context.Context, cart *domain.Cart) error
	GetByID(ctx context.Context, id string) (*domain.Cart, error)
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*domain.Cart, error)

	// AddItem and RemoveItem persist the item mutation and the recomputed
	// cart total in one transaction, guarded by the cart version.
	AddItem(ctx context.Context, cart *domain.Cart, item *domain.CartItem) error
	RemoveItem(ctx context.Context, cart *domain.Cart, itemID string) error

	// Status transitions are conditional updates on the current status so
	// concurrent writers race safely.
	MarkReserved(ctx context.Context, id string, reservedAt, expiresAt time.Time) error
	ExtendReservation(ctx context.Context, id string, expiresAt time.Time) error
	MarkExpired(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, paymentID string) error

	GetExpiredCarts(ctx context.Context, limit int) ([]*domain.Cart, error)
}

// CatalogRepository reads race, option and pricing configuration
type CatalogRepository interface {
	GetRace(ctx context.Context, raceID string) (*domain.Race, error)
	ListRaces(ctx context.Context, eventID string) ([]*domain.Race, error)
	GetRaceOptions(ctx context.Context, raceID string) ([]*domain.RaceOption, error)
	GetPricingPeriods(ctx context.Context, raceID string) ([]*domain.PricingPeriod, error)
	GetPricing(ctx context.Context, raceID, licenseTypeID, periodID string) (*domain.RacePricing, error)

	// Confirmed counts are bumped when a cart completes so browse-time
	// availability and the ledger stay consistent.
	IncrementConfirmedCount(ctx context.Context, raceID string, delta int) error
	IncrementChoiceQuantity(ctx context.Context, choiceID string, delta int) error
}
