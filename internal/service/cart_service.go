package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"startline/internal/client"
	"startline/internal/domain"
	"startline/internal/dto"
	"startline/internal/metrics"
	"startline/internal/pricing"
	"startline/internal/repository"
	"startline/pkg/telemetry"
)

// CartService defines the interface for cart business logic
type CartService interface {
	// CreateCart opens a new cart for a user and an event
	CreateCart(ctx context.Context, userID string, req *dto.CreateCartRequest) (*dto.CartResponse, error)

	// GetCart retrieves a cart, expiring lapsed holds on read
	GetCart(ctx context.Context, cartID, userID string) (*dto.CartResponse, error)

	// GetUserCarts retrieves all carts for a user
	GetUserCarts(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error)

	// AddItem adds a registration line to an active cart
	AddItem(ctx context.Context, cartID, userID string, req *dto.AddItemRequest) (*dto.CartResponse, error)

	// RemoveItem removes a registration line from an active cart
	RemoveItem(ctx context.Context, cartID, userID, itemID string) (*dto.CartResponse, error)

	// Reserve claims capacity for every item and starts the hold timer.
	// Called on an already reserved cart it extends the hold instead.
	Reserve(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error)

	// Extend refreshes the hold on a reserved cart without re-claiming
	Extend(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error)

	// Cancel releases a cart's hold and closes it
	Cancel(ctx context.Context, cartID, userID string) (*dto.CancelCartResponse, error)

	// GetExpiredCarts returns reserved carts whose hold has lapsed
	GetExpiredCarts(ctx context.Context, limit int) ([]*domain.Cart, error)

	// ExpireCart closes one lapsed cart and returns its held capacity.
	// A cart that a concurrent checkout already completed is left alone.
	ExpireCart(ctx context.Context, cart *domain.Cart) error

	// ExpireDueCarts closes all lapsed carts up to limit
	ExpireDueCarts(ctx context.Context, limit int) (int, error)
}

// cartService implements CartService
type cartService struct {
	cartRepo       repository.CartRepository
	catalogRepo    repository.CatalogRepository
	ledger         repository.InventoryLedger
	pricingEngine  *pricing.Engine
	licenseClient  client.LicenseVerifier
	eventPublisher EventPublisher
	holdDuration   time.Duration
	maxItems       int
	currency       string
}

// CartServiceConfig contains configuration for the cart service
type CartServiceConfig struct {
	HoldDuration time.Duration
	MaxItems     int
	Currency     string
}

// NewCartService creates a new cart service
func NewCartService(
	cartRepo repository.CartRepository,
	catalogRepo repository.CatalogRepository,
	ledger repository.InventoryLedger,
	pricingEngine *pricing.Engine,
	licenseClient client.LicenseVerifier,
	eventPublisher EventPublisher,
	cfg *CartServiceConfig,
) CartService {
	holdDuration := domain.DefaultHoldDuration
	maxItems := 20
	currency := "EUR"
	if cfg != nil {
		if cfg.HoldDuration > 0 {
			holdDuration = cfg.HoldDuration
		}
		if cfg.MaxItems > 0 {
			maxItems = cfg.MaxItems
		}
		if cfg.Currency != "" {
			currency = cfg.Currency
		}
	}
	if eventPublisher == nil {
		eventPublisher = NewNoOpEventPublisher()
	}
	return &cartService{
		cartRepo:       cartRepo,
		catalogRepo:    catalogRepo,
		ledger:         ledger,
		pricingEngine:  pricingEngine,
		licenseClient:  licenseClient,
		eventPublisher: eventPublisher,
		holdDuration:   holdDuration,
		maxItems:       maxItems,
		currency:       currency,
	}
}

// CreateCart opens a new cart for a user and an event
func (s *cartService) CreateCart(ctx context.Context, userID string, req *dto.CreateCartRequest) (*dto.CartResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.cart.create")
	defer span.End()

	if userID == "" {
		span.SetStatus(codes.Error, "invalid user_id")
		return nil, domain.ErrInvalidUserID
	}
	if req == nil || req.EventID == "" {
		span.SetStatus(codes.Error, "invalid event_id")
		return nil, domain.ErrInvalidRaceID
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", req.EventID),
	)

	now := time.Now()
	cart := &domain.Cart{
		ID:        uuid.New().String(),
		EventID:   req.EventID,
		UserID:    userID,
		Status:    domain.CartStatusActive,
		Currency:  s.currency,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.cartRepo.Create(ctx, cart); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Publish cart created event (async, don't block on failure)
	go func() {
		_ = s.eventPublisher.PublishCartEvent(context.Background(), domain.EventCartCreated, cart)
	}()

	span.SetAttributes(attribute.String("cart_id", cart.ID))
	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(cart), nil
}

// GetCart retrieves a cart. A reserved cart whose hold lapsed between sweeps
// is expired on read so the caller never sees a stale live hold.
func (s *cartService) GetCart(ctx context.Context, cartID, userID string) (*dto.CartResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.cart.get")
	defer span.End()

	span.SetAttributes(
		attribute.String("cart_id", cartID),
		attribute.String("user_id", userID),
	)

	cart, err := s.loadOwnedCart(ctx, cartID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if cart.Status == domain.CartStatusReserved && cart.IsExpired() {
		if err := s.ExpireCart(ctx, cart); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		cart.Status = domain.CartStatusExpired
	}

	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(cart), nil
}

// GetUserCarts retrieves all carts for a user
func (s *cartService) GetUserCarts(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.cart.list_user")
	defer span.End()

	if userID == "" {
		span.SetStatus(codes.Error, "invalid user_id")
		return nil, domain.ErrInvalidUserID
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	offset := (page - 1) * pageSize
	carts, err := s.cartRepo.GetByUserID(ctx, userID, pageSize, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	responses := make([]*dto.CartResponse, len(carts))
	for i, c := range carts {
		responses[i] = dto.FromDomain(c)
	}

	span.SetAttributes(attribute.Int("count", len(responses)))
	span.SetStatus(codes.Ok, "")
	return &dto.PaginatedResponse{
		Data:     responses,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// AddItem prices and adds a registration line to an active cart
func (s *cartService) AddItem(ctx context.Context, cartID, userID string, req *dto.AddItemRequest) (*dto.CartResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.cart.add_item")
	defer span.End()

	if req == nil {
		span.SetStatus(codes.Error, "invalid race_id")
		return nil, domain.ErrInvalidRaceID
	}

	span.SetAttributes(
		attribute.String("cart_id", cartID),
		attribute.String("user_id", userID),
		attribute.String("race_id", req.RaceID),
		attribute.String("license_type_id", req.LicenseTypeID),
	)

	cart, err := s.loadOwnedCart(ctx, cartID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if !cart.CanModifyItems() {
		span.SetStatus(codes.Error, "cart not active")
		return nil, domain.ErrCartNotActive
	}
	if len(cart.Items) >= s.maxItems {
		span.SetStatus(codes.Error, "max items exceeded")
		return nil, domain.ErrMaxItemsExceeded
	}

	item := &domain.CartItem{
		ID:            uuid.New().String(),
		CartID:        cart.ID,
		RaceID:        req.RaceID,
		LicenseTypeID: req.LicenseTypeID,
		Participant: domain.Participant{
			FirstName:     req.Participant.FirstName,
			LastName:      req.Participant.LastName,
			Email:         req.Participant.Email,
			BirthDate:     req.Participant.BirthDate,
			Gender:        req.Participant.Gender,
			LicenseNumber: req.Participant.LicenseNumber,
			Club:          req.Participant.Club,
		},
		CreatedAt: time.Now(),
	}
	for _, opt := range req.SelectedOptions {
		item.SelectedOptions = append(item.SelectedOptions, domain.SelectedOption{
			OptionID: opt.OptionID,
			ChoiceID: opt.ChoiceID,
			Value:    opt.Value,
			Quantity: opt.Quantity,
		})
	}
	if err := item.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	race, err := s.catalogRepo.GetRace(ctx, req.RaceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// A sold-out race is rejected at add time. The hold itself is only
	// placed at reserve, so this is advisory and re-checked there.
	if err := s.checkAddCapacity(ctx, item); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if race.RequiresLicense {
		valid, err := s.licenseClient.Verify(ctx, &client.VerifyLicenseRequest{
			LicenseNumber: item.Participant.LicenseNumber,
			Name:          item.Participant.FirstName + " " + item.Participant.LastName,
			BirthDate:     item.Participant.BirthDate,
			EventCode:     cart.EventID,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("license verification failed: %w", err)
		}
		if !valid {
			span.SetStatus(codes.Error, "license not verified")
			return nil, domain.ErrLicenseNotVerified
		}
	}

	quote, err := s.pricingEngine.Quote(ctx, req.RaceID, req.LicenseTypeID, time.Now(), item.SelectedOptions)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	item.BaseCents = quote.BaseCents
	item.OptionsCents = quote.OptionsCents
	item.CommissionCents = race.CommissionCents
	item.TotalCents = quote.BaseCents + quote.OptionsCents + race.CommissionCents

	cart.Items = append(cart.Items, *item)
	cart.RecomputeTotal()

	if err := s.cartRepo.AddItem(ctx, cart, item); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	go func() {
		_ = s.eventPublisher.PublishCartEvent(context.Background(), domain.EventItemAdded, cart)
	}()
	metrics.RecordItemAdded(ctx, req.RaceID)

	span.AddEvent("item_added", trace.WithAttributes(
		attribute.String("item_id", item.ID),
		attribute.String("race_id", item.RaceID),
		attribute.Int64("total_cents", item.TotalCents),
	))
	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(cart), nil
}

// RemoveItem removes a registration line from an active cart
func (s *cartService) RemoveItem(ctx context.Context, cartID, userID, itemID string) (*dto.CartResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.cart.remove_item")
	defer span.End()

	span.SetAttributes(
		attribute.String("cart_id", cartID),
		attribute.String("user_id", userID),
		attribute.String("item_id", itemID),
	)

	cart, err := s.loadOwnedCart(ctx, cartID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if !cart.CanModifyItems() {
		span.SetStatus(codes.Error, "cart not active")
		return nil, domain.ErrCartNotActive
	}

	item := cart.ItemByID(itemID)
	if item == nil {
		span.SetStatus(codes.Error, "item not found")
		return nil, domain.ErrItemNotFound
	}
	raceID := item.RaceID

	kept := cart.Items[:0]
	for _, it := range cart.Items {
		if it.ID != itemID {
			kept = append(kept, it)
		}
	}
	cart.Items = kept
	cart.RecomputeTotal()

	if err := s.cartRepo.RemoveItem(ctx, cart, itemID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	go func() {
		_ = s.eventPublisher.PublishCartEvent(context.Background(), domain.EventItemRemoved, cart)
	}()
	metrics.RecordItemRemoved(ctx, raceID)

	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(cart), nil
}

// Reserve claims capacity for every item atomically and starts the hold.
// For a cart that is already reserved with a live hold it refreshes the
// timer without touching the ledger.
func (s *cartService) Reserve(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.cart.reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("cart_id", cartID),
		attribute.String("user_id", userID),
	)

	cart, err := s.loadOwnedCart(ctx, cartID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Extend path: hold still live, no re-claim
	if cart.Status == domain.CartStatusReserved {
		return s.extendHold(ctx, span, cart)
	}

	if cart.Status.IsTerminal() {
		span.SetStatus(codes.Error, "illegal transition")
		return nil, domain.ErrIllegalTransition
	}
	if len(cart.Items) == 0 {
		span.SetStatus(codes.Error, "cart empty")
		return nil, domain.ErrCartEmpty
	}

	claims, err := s.buildClaims(ctx, cart)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rejection, err := s.ledger.TryClaim(ctx, claims)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if rejection != nil {
		metrics.RecordFailure(ctx, cart.EventID, "capacity_exceeded")
		span.SetStatus(codes.Error, "capacity exceeded")
		return nil, fmt.Errorf("%s has %d left, %d requested: %w",
			rejection.ResourceID, rejection.Available, rejection.Requested, domain.ErrCapacityExceeded)
	}

	if err := cart.Reserve(s.holdDuration); err != nil {
		_ = s.ledger.Release(ctx, claims)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.cartRepo.MarkReserved(ctx, cart.ID, *cart.ReservedAt, *cart.ExpiresAt); err != nil {
		// The claim is undone so capacity never leaks on a lost race
		_ = s.ledger.Release(ctx, claims)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	go func() {
		_ = s.eventPublisher.PublishCartEvent(context.Background(), domain.EventCartReserved, cart)
	}()
	metrics.RecordReservation(ctx, cart.EventID, len(cart.Items))

	span.AddEvent("capacity_claimed", trace.WithAttributes(
		attribute.Int("claim_count", len(claims)),
		attribute.String("expires_at", cart.ExpiresAt.Format(time.RFC3339)),
	))
	span.SetStatus(codes.Ok, "")
	return &dto.ReserveCartResponse{
		CartID:      cart.ID,
		Status:      cart.Status.String(),
		ExpiresAt:   *cart.ExpiresAt,
		HoldSeconds: int64(cart.TimeUntilExpiry().Seconds()),
	}, nil
}

// Extend refreshes the hold on a reserved cart without touching the
// ledger. Unlike Reserve it never claims: an active cart is rejected.
func (s *cartService) Extend(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.cart.extend")
	defer span.End()

	span.SetAttributes(
		attribute.String("cart_id", cartID),
		attribute.String("user_id", userID),
	)

	cart, err := s.loadOwnedCart(ctx, cartID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if cart.Status != domain.CartStatusReserved {
		span.SetStatus(codes.Error, "illegal transition")
		return nil, domain.ErrIllegalTransition
	}

	return s.extendHold(ctx, span, cart)
}

// extendHold is the shared tail of Reserve and Extend for a cart that
// is already reserved. A lapsed hold is expired on the spot.
func (s *cartService) extendHold(ctx context.Context, span trace.Span, cart *domain.Cart) (*dto.ReserveCartResponse, error) {
	if cart.IsExpired() {
		if expErr := s.ExpireCart(ctx, cart); expErr != nil {
			span.RecordError(expErr)
		}
		span.SetStatus(codes.Error, "cart expired")
		return nil, domain.ErrCartExpired
	}
	if err := cart.Extend(s.holdDuration); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.cartRepo.ExtendReservation(ctx, cart.ID, *cart.ExpiresAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	go func() {
		_ = s.eventPublisher.PublishCartEvent(context.Background(), domain.EventCartExtended, cart)
	}()

	span.AddEvent("hold_extended")
	span.SetStatus(codes.Ok, "")
	return &dto.ReserveCartResponse{
		CartID:      cart.ID,
		Status:      cart.Status.String(),
		ExpiresAt:   *cart.ExpiresAt,
		HoldSeconds: int64(cart.TimeUntilExpiry().Seconds()),
	}, nil
}

// Cancel releases a cart's hold and closes it
func (s *cartService) Cancel(ctx context.Context, cartID, userID string) (*dto.CancelCartResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.cart.cancel")
	defer span.End()

	span.SetAttributes(
		attribute.String("cart_id", cartID),
		attribute.String("user_id", userID),
	)

	cart, err := s.loadOwnedCart(ctx, cartID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if cart.Status.IsTerminal() {
		span.SetStatus(codes.Error, "illegal transition")
		return nil, domain.ErrIllegalTransition
	}

	wasReserved := cart.Status == domain.CartStatusReserved

	if err := s.cartRepo.MarkExpired(ctx, cart.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Held capacity goes back only after the status flip so a concurrent
	// checkout cannot double-spend it
	if wasReserved {
		if err := s.ledger.Release(ctx, s.releaseClaims(cart)); err != nil {
			span.RecordError(err)
		}
	}

	cart.Status = domain.CartStatusExpired
	go func() {
		_ = s.eventPublisher.PublishCartEvent(context.Background(), domain.EventCartCancelled, cart)
	}()
	if wasReserved {
		metrics.RecordExpiration(ctx, cart.EventID, 1)
	}

	span.SetStatus(codes.Ok, "")
	return &dto.CancelCartResponse{
		CartID:  cart.ID,
		Status:  cart.Status.String(),
		Message: "Cart cancelled",
	}, nil
}

// GetExpiredCarts returns reserved carts whose hold has lapsed
func (s *cartService) GetExpiredCarts(ctx context.Context, limit int) ([]*domain.Cart, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.cartRepo.GetExpiredCarts(ctx, limit)
}

// ExpireCart closes one lapsed cart. The status flip is the arbitration
// point: if a concurrent checkout already completed the cart, the flip
// fails and the held capacity is left for Commit.
func (s *cartService) ExpireCart(ctx context.Context, cart *domain.Cart) error {
	ctx, span := telemetry.StartSpan(ctx, "service.cart.expire")
	defer span.End()

	span.SetAttributes(attribute.String("cart_id", cart.ID))

	if err := s.cartRepo.MarkExpired(ctx, cart.ID); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) || errors.Is(err, domain.ErrCartNotFound) || errors.Is(err, domain.ErrCartExpired) {
			// Lost the race to a checkout or another sweeper pass
			span.SetStatus(codes.Ok, "")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if cart.Status == domain.CartStatusReserved {
		if err := s.ledger.Release(ctx, s.releaseClaims(cart)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	cart.Status = domain.CartStatusExpired
	go func() {
		_ = s.eventPublisher.PublishCartEvent(context.Background(), domain.EventCartExpired, cart)
	}()
	metrics.RecordExpiration(ctx, cart.EventID, 1)

	span.SetStatus(codes.Ok, "")
	return nil
}

// ExpireDueCarts closes all lapsed carts up to limit
func (s *cartService) ExpireDueCarts(ctx context.Context, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.cart.expire_due")
	defer span.End()

	carts, err := s.GetExpiredCarts(ctx, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	expired := 0
	for _, cart := range carts {
		if err := s.ExpireCart(ctx, cart); err != nil {
			continue
		}
		expired++
	}

	span.SetAttributes(attribute.Int("expired_count", expired))
	span.SetStatus(codes.Ok, "")
	return expired, nil
}

// loadOwnedCart fetches a cart and checks ownership
func (s *cartService) loadOwnedCart(ctx context.Context, cartID, userID string) (*domain.Cart, error) {
	if cartID == "" {
		return nil, domain.ErrInvalidCartID
	}
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}

	cart, err := s.cartRepo.GetByID(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if !cart.BelongsToUser(userID) {
		return nil, domain.ErrCartNotFound
	}
	return cart, nil
}

// buildClaims turns a cart's items into one all-or-nothing claim set. Races
// and choice stocks are aggregated across items so two entries for the same
// race claim a quantity of two against its limit.
func (s *cartService) buildClaims(ctx context.Context, cart *domain.Cart) ([]repository.Claim, error) {
	return buildCartClaims(ctx, s.catalogRepo, cart)
}

// releaseClaims builds the claim set for releasing a hold. Limits are not
// consulted on release so no catalog lookups are needed.
func (s *cartService) releaseClaims(cart *domain.Cart) []repository.Claim {
	return releaseCartClaims(cart)
}

// checkAddCapacity consults the ledger for the resources one new item
// would claim. Unlimited resources always pass.
func (s *cartService) checkAddCapacity(ctx context.Context, item *domain.CartItem) error {
	needed := map[string]int64{domain.RaceResource(item.RaceID): 1}
	for _, sel := range item.SelectedOptions {
		if sel.ChoiceID != "" {
			needed[domain.ChoiceResource(sel.ChoiceID)] += int64(sel.Quantity)
		}
	}

	for resourceID, quantity := range needed {
		usage, err := s.ledger.Usage(ctx, resourceID)
		if err != nil {
			return fmt.Errorf("failed to read usage for %s: %w", resourceID, err)
		}
		if available := usage.Available(); available >= 0 && available < quantity {
			return fmt.Errorf("resource %s: %w", resourceID, domain.ErrCapacityExceeded)
		}
	}
	return nil
}

func buildCartClaims(ctx context.Context, catalog repository.CatalogRepository, cart *domain.Cart) ([]repository.Claim, error) {
	var claims []repository.Claim
	index := make(map[string]int)

	add := func(resourceID string, quantity, limit int64) {
		if i, ok := index[resourceID]; ok {
			claims[i].Quantity += quantity
			return
		}
		index[resourceID] = len(claims)
		claims = append(claims, repository.Claim{
			ResourceID: resourceID,
			Quantity:   quantity,
			Limit:      limit,
		})
	}

	races := make(map[string]*domain.Race)
	options := make(map[string][]*domain.RaceOption)

	for _, item := range cart.Items {
		race, ok := races[item.RaceID]
		if !ok {
			var err error
			race, err = catalog.GetRace(ctx, item.RaceID)
			if err != nil {
				return nil, err
			}
			races[item.RaceID] = race
		}
		add(domain.RaceResource(race.ID), 1, int64(race.CapacityLimit()))

		for _, sel := range item.SelectedOptions {
			if sel.ChoiceID == "" {
				continue
			}
			opts, ok := options[item.RaceID]
			if !ok {
				var err error
				opts, err = catalog.GetRaceOptions(ctx, item.RaceID)
				if err != nil {
					return nil, err
				}
				options[item.RaceID] = opts
			}
			var choice *domain.OptionChoice
			for _, opt := range opts {
				if opt.ID == sel.OptionID {
					choice = opt.ChoiceByID(sel.ChoiceID)
					break
				}
			}
			if choice == nil {
				return nil, domain.ErrChoiceNotFound
			}
			add(domain.ChoiceResource(choice.ID), int64(sel.Quantity), int64(choice.CapacityLimit()))
		}
	}

	return claims, nil
}

func releaseCartClaims(cart *domain.Cart) []repository.Claim {
	var claims []repository.Claim
	index := make(map[string]int)

	add := func(resourceID string, quantity int64) {
		if i, ok := index[resourceID]; ok {
			claims[i].Quantity += quantity
			return
		}
		index[resourceID] = len(claims)
		claims = append(claims, repository.Claim{
			ResourceID: resourceID,
			Quantity:   quantity,
			Limit:      -1,
		})
	}

	for _, item := range cart.Items {
		add(domain.RaceResource(item.RaceID), 1)
		for _, sel := range item.SelectedOptions {
			if sel.ChoiceID == "" {
				continue
			}
			add(domain.ChoiceResource(sel.ChoiceID), int64(sel.Quantity))
		}
	}

	return claims
}
