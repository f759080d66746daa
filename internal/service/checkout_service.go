package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"startline/internal/client"
	"startline/internal/domain"
	"startline/internal/dto"
	"startline/internal/gateway"
	"startline/internal/metrics"
	"startline/internal/repository"
	"startline/pkg/retry"
	"startline/pkg/telemetry"
)

// CheckoutService turns a reserved cart into confirmed registrations
type CheckoutService interface {
	// Checkout charges the cart and submits every item as a registration.
	// A cart that already completed returns its original result.
	Checkout(ctx context.Context, cartID, userID string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error)
}

// checkoutService implements CheckoutService
type checkoutService struct {
	cartRepo       repository.CartRepository
	catalogRepo    repository.CatalogRepository
	ledger         repository.InventoryLedger
	paymentGateway gateway.PaymentGateway
	registration   client.RegistrationClient
	eventPublisher EventPublisher
	retrier        *retry.Retrier
}

// CheckoutServiceConfig contains configuration for the checkout service
type CheckoutServiceConfig struct {
	// RetryConfig governs retries of transient payment and registration
	// failures inside one checkout call
	RetryConfig *retry.Config
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	cartRepo repository.CartRepository,
	catalogRepo repository.CatalogRepository,
	ledger repository.InventoryLedger,
	paymentGateway gateway.PaymentGateway,
	registration client.RegistrationClient,
	eventPublisher EventPublisher,
	cfg *CheckoutServiceConfig,
) CheckoutService {
	retryConfig := &retry.Config{
		MaxRetries:      2,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
	if cfg != nil && cfg.RetryConfig != nil {
		retryConfig = cfg.RetryConfig
	}
	if eventPublisher == nil {
		eventPublisher = NewNoOpEventPublisher()
	}
	return &checkoutService{
		cartRepo:       cartRepo,
		catalogRepo:    catalogRepo,
		ledger:         ledger,
		paymentGateway: paymentGateway,
		registration:   registration,
		eventPublisher: eventPublisher,
		retrier:        retry.New(retryConfig),
	}
}

// Checkout charges the cart, registers every participant, then commits the
// held capacity. The cart id doubles as the payment idempotency key, so a
// retried checkout after a transient failure replays instead of recharging.
func (s *checkoutService) Checkout(ctx context.Context, cartID, userID string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.checkout")
	defer span.End()

	started := time.Now()

	span.SetAttributes(
		attribute.String("cart_id", cartID),
		attribute.String("user_id", userID),
	)

	if cartID == "" {
		span.SetStatus(codes.Error, "invalid cart_id")
		return nil, domain.ErrInvalidCartID
	}
	if userID == "" {
		span.SetStatus(codes.Error, "invalid user_id")
		return nil, domain.ErrInvalidUserID
	}

	cart, err := s.cartRepo.GetByID(ctx, cartID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !cart.BelongsToUser(userID) {
		span.SetStatus(codes.Error, "wrong owner")
		return nil, domain.ErrCartNotFound
	}

	// Idempotent replay of a completed checkout
	if cart.Status == domain.CartStatusCompleted {
		span.AddEvent("checkout_replayed")
		span.SetStatus(codes.Ok, "")
		return &dto.CheckoutResponse{
			CartID:      cart.ID,
			Status:      cart.Status.String(),
			PaymentID:   cart.PaymentID,
			TotalCents:  cart.TotalCents,
			Currency:    cart.Currency,
			CompletedAt: cart.UpdatedAt,
		}, nil
	}

	switch cart.Status {
	case domain.CartStatusExpired:
		span.SetStatus(codes.Error, "cart expired")
		return nil, domain.ErrCartExpired
	case domain.CartStatusActive:
		span.SetStatus(codes.Error, "cart not reserved")
		return nil, domain.ErrCartNotReserved
	}

	if cart.IsExpired() {
		// The hold lapsed before the sweeper got there; finish its job
		if err := s.expireLapsed(ctx, cart); err != nil {
			span.RecordError(err)
		}
		metrics.RecordFailure(ctx, cart.EventID, "expired_at_checkout")
		span.SetStatus(codes.Error, "cart expired")
		return nil, domain.ErrCartExpired
	}

	if len(cart.Items) == 0 {
		span.SetStatus(codes.Error, "cart empty")
		return nil, domain.ErrCartEmpty
	}

	// Charge first. A declined payment leaves the cart reserved so the user
	// can retry another method while the hold lasts.
	charge, err := s.charge(ctx, cart, req)
	if err != nil {
		metrics.RecordFailure(ctx, cart.EventID, "payment_failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.AddEvent("payment_charged", trace.WithAttributes(
		attribute.String("transaction_id", charge.TransactionID),
		attribute.Int64("amount_cents", cart.TotalCents),
	))

	// Register every participant. The per-item idempotency key means a
	// retried checkout resubmits safely and duplicates count as success.
	if err := s.registerItems(ctx, cart, charge); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// The reserved→completed flip is the arbitration point against the
	// sweeper. It must land before the held capacity is committed: losing
	// it means the hold was already expired and released, so the only
	// correct move is to hand the money back.
	if err := s.cartRepo.MarkCompleted(ctx, cart.ID, charge.TransactionID); err != nil {
		s.refund(ctx, cart, charge)
		metrics.RecordFailure(ctx, cart.EventID, "lost_expiry_race")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// The cart is completed and paid. Ledger commit and catalog counts are
	// bookkeeping now; a failure here must not fail the checkout.
	if err := s.ledger.Commit(ctx, releaseCartClaims(cart)); err != nil {
		metrics.RecordError(ctx, "ledger_commit_failed", "checkout")
		span.RecordError(err)
	}

	s.bumpConfirmedCounts(ctx, cart)

	now := time.Now()
	cart.Status = domain.CartStatusCompleted
	cart.PaymentID = charge.TransactionID
	cart.UpdatedAt = now

	go func() {
		_ = s.eventPublisher.PublishCartEvent(context.Background(), domain.EventCartCompleted, cart)
	}()

	holdSeconds := 0.0
	if cart.ReservedAt != nil {
		holdSeconds = now.Sub(*cart.ReservedAt).Seconds()
	}
	metrics.RecordCompletion(ctx, cart.EventID, holdSeconds)
	metrics.RecordCheckoutDuration(ctx, cart.EventID, time.Since(started).Seconds())

	span.AddEvent("checkout_completed", trace.WithAttributes(
		attribute.String("payment_id", charge.TransactionID),
		attribute.Int("item_count", len(cart.Items)),
	))
	span.SetStatus(codes.Ok, "")
	return &dto.CheckoutResponse{
		CartID:      cart.ID,
		Status:      cart.Status.String(),
		PaymentID:   charge.TransactionID,
		TotalCents:  cart.TotalCents,
		Currency:    cart.Currency,
		CompletedAt: now,
	}, nil
}

// charge runs the payment with retries on transport errors. Declines are
// permanent; the gateway's idempotency key prevents double charges across
// retries and repeated checkout calls.
func (s *checkoutService) charge(ctx context.Context, cart *domain.Cart, req *dto.CheckoutRequest) (*gateway.ChargeResponse, error) {
	method := ""
	if req != nil {
		method = req.PaymentMethod
	}

	chargeReq := &gateway.ChargeRequest{
		AmountCents:    cart.TotalCents,
		Currency:       strings.ToLower(cart.Currency),
		Method:         method,
		IdempotencyKey: cart.ID,
		Description:    fmt.Sprintf("Registration cart %s", cart.ID),
		Metadata: map[string]string{
			"cart_id":  cart.ID,
			"event_id": cart.EventID,
			"user_id":  cart.UserID,
		},
	}

	var charge *gateway.ChargeResponse
	result := s.retrier.Do(ctx, func(ctx context.Context) error {
		resp, err := s.paymentGateway.Charge(ctx, chargeReq)
		if err != nil {
			return err
		}
		if !resp.Success {
			return retry.Permanent(fmt.Errorf("%s: %w", resp.FailureReason, domain.ErrPaymentFailed))
		}
		charge = resp
		return nil
	})
	if result.Err != nil {
		if result.LastError != nil {
			return nil, result.LastError
		}
		return nil, result.Err
	}
	return charge, nil
}

// registerItems submits each cart item to the registration backend. A full
// race is terminal: the payment is refunded, the hold released and the cart
// expired. Transient failures leave the cart reserved for a retried call.
func (s *checkoutService) registerItems(ctx context.Context, cart *domain.Cart, charge *gateway.ChargeResponse) error {
	for i := range cart.Items {
		item := &cart.Items[i]

		regReq := &client.RegistrationRequest{
			IdempotencyKey: fmt.Sprintf("%s:%s", cart.ID, item.ID),
			RaceID:         item.RaceID,
			LicenseTypeID:  item.LicenseTypeID,
			Participant:    item.Participant,
			PaidCents:      item.TotalCents,
			Currency:       cart.Currency,
		}

		var reg *client.RegistrationResult
		result := s.retrier.Do(ctx, func(ctx context.Context) error {
			r, err := s.registration.Register(ctx, regReq)
			if err != nil {
				return err
			}
			reg = r
			return nil
		})
		if result.Err != nil {
			if result.LastError != nil {
				return fmt.Errorf("registration submit failed for item %s: %w", item.ID, result.LastError)
			}
			return result.Err
		}

		switch reg.Status {
		case client.RegistrationOK, client.RegistrationAlreadyRegistered:
			// A duplicate means an earlier attempt got through
		case client.RegistrationRaceFull:
			s.abort(ctx, cart, charge, "race_full")
			return fmt.Errorf("race %s: %w", item.RaceID, domain.ErrResourceFull)
		case client.RegistrationClosed:
			s.abort(ctx, cart, charge, "registration_closed")
			return fmt.Errorf("race %s: %w", item.RaceID, domain.ErrRegistrationClosed)
		default:
			return fmt.Errorf("unexpected registration status %q for item %s", reg.Status, item.ID)
		}
	}
	return nil
}

// refund hands a successful charge back
func (s *checkoutService) refund(ctx context.Context, cart *domain.Cart, charge *gateway.ChargeResponse) {
	if charge == nil || charge.TransactionID == "" {
		return
	}
	if err := s.paymentGateway.Refund(ctx, charge.TransactionID, cart.TotalCents); err != nil {
		metrics.RecordError(ctx, "refund_failed", "checkout")
	}
}

// abort unwinds a terminally failed checkout: refund, expire, release
func (s *checkoutService) abort(ctx context.Context, cart *domain.Cart, charge *gateway.ChargeResponse, reason string) {
	s.refund(ctx, cart, charge)
	if err := s.expireLapsed(ctx, cart); err != nil {
		metrics.RecordError(ctx, "expire_failed", "checkout")
	}
	metrics.RecordFailure(ctx, cart.EventID, reason)
}

// expireLapsed flips the cart to expired and returns its held capacity
func (s *checkoutService) expireLapsed(ctx context.Context, cart *domain.Cart) error {
	if err := s.cartRepo.MarkExpired(ctx, cart.ID); err != nil {
		return err
	}
	if err := s.ledger.Release(ctx, releaseCartClaims(cart)); err != nil {
		return err
	}
	cart.Status = domain.CartStatusExpired
	go func() {
		_ = s.eventPublisher.PublishCartEvent(context.Background(), domain.EventCartExpired, cart)
	}()
	metrics.RecordExpiration(ctx, cart.EventID, 1)
	return nil
}

// bumpConfirmedCounts keeps browse-time availability aligned with the ledger
func (s *checkoutService) bumpConfirmedCounts(ctx context.Context, cart *domain.Cart) {
	raceCounts := make(map[string]int)
	choiceCounts := make(map[string]int)
	for _, item := range cart.Items {
		raceCounts[item.RaceID]++
		for _, sel := range item.SelectedOptions {
			if sel.ChoiceID != "" {
				choiceCounts[sel.ChoiceID] += sel.Quantity
			}
		}
	}
	for raceID, count := range raceCounts {
		if err := s.catalogRepo.IncrementConfirmedCount(ctx, raceID, count); err != nil {
			metrics.RecordError(ctx, "confirmed_count_failed", "checkout")
		}
	}
	for choiceID, count := range choiceCounts {
		if err := s.catalogRepo.IncrementChoiceQuantity(ctx, choiceID, count); err != nil {
			metrics.RecordError(ctx, "choice_count_failed", "checkout")
		}
	}
}
