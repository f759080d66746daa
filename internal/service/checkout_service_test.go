package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"startline/internal/client"
	"startline/internal/domain"
	"startline/internal/dto"
	"startline/internal/gateway"
	"startline/internal/repository"
	"startline/pkg/retry"
)

// MockPaymentGateway is a mock implementation of PaymentGateway
type MockPaymentGateway struct {
	ChargeFunc         func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error)
	RefundFunc         func(ctx context.Context, transactionID string, amountCents int64) error
	GetTransactionFunc func(ctx context.Context, transactionID string) (*gateway.TransactionInfo, error)
}

func (m *MockPaymentGateway) Charge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
	if m.ChargeFunc != nil {
		return m.ChargeFunc(ctx, req)
	}
	return &gateway.ChargeResponse{Success: true, TransactionID: "txn-001", Status: "succeeded"}, nil
}

func (m *MockPaymentGateway) Refund(ctx context.Context, transactionID string, amountCents int64) error {
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, transactionID, amountCents)
	}
	return nil
}

func (m *MockPaymentGateway) GetTransaction(ctx context.Context, transactionID string) (*gateway.TransactionInfo, error) {
	if m.GetTransactionFunc != nil {
		return m.GetTransactionFunc(ctx, transactionID)
	}
	return nil, nil
}

func (m *MockPaymentGateway) Name() string {
	return "mock"
}

var _ gateway.PaymentGateway = (*MockPaymentGateway)(nil)

// fastRetry keeps test retries from sleeping
func fastRetry() *CheckoutServiceConfig {
	return &CheckoutServiceConfig{
		RetryConfig: &retry.Config{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			Multiplier:      1.0,
			JitterFactor:    0,
		},
	}
}

func newTestCheckoutService(
	cartRepo *MockCartRepository,
	catalog *MockCatalogRepository,
	ledger *MockInventoryLedger,
	pay *MockPaymentGateway,
	reg *MockRegistrationClient,
) CheckoutService {
	return NewCheckoutService(cartRepo, catalog, ledger, pay, reg, NewNoOpEventPublisher(), fastRetry())
}

func checkoutRequest() *dto.CheckoutRequest {
	return &dto.CheckoutRequest{PaymentMethod: "card"}
}

func TestCheckout_Success(t *testing.T) {
	cart := reservedCart(5 * time.Minute)

	var chargedKey string
	var committed bool
	var completedPaymentID string
	var confirmedDelta int
	cartRepo := &MockCartRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*domain.Cart, error) {
			return cart, nil
		},
		MarkCompletedFunc: func(ctx context.Context, id, paymentID string) error {
			completedPaymentID = paymentID
			return nil
		},
	}
	catalog := testCatalog()
	catalog.IncrementConfirmedCountFunc = func(ctx context.Context, raceID string, delta int) error {
		confirmedDelta += delta
		return nil
	}
	ledger := &MockInventoryLedger{
		CommitFunc: func(ctx context.Context, claims []repository.Claim) error {
			committed = true
			return nil
		},
	}
	pay := &MockPaymentGateway{
		ChargeFunc: func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
			chargedKey = req.IdempotencyKey
			return &gateway.ChargeResponse{Success: true, TransactionID: "txn-123", Status: "succeeded"}, nil
		},
	}
	svc := newTestCheckoutService(cartRepo, catalog, ledger, pay, &MockRegistrationClient{})

	resp, err := svc.Checkout(context.Background(), "cart-001", "user-001", checkoutRequest())
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if resp.Status != domain.CartStatusCompleted.String() {
		t.Errorf("Status = %s, want completed", resp.Status)
	}
	if resp.PaymentID != "txn-123" || completedPaymentID != "txn-123" {
		t.Errorf("payment id = %s / %s, want txn-123", resp.PaymentID, completedPaymentID)
	}
	if chargedKey != cart.ID {
		t.Errorf("idempotency key = %s, want the cart id", chargedKey)
	}
	if !committed {
		t.Error("expected held capacity to be committed")
	}
	if confirmedDelta != 1 {
		t.Errorf("confirmed count delta = %d, want 1", confirmedDelta)
	}
}

func TestCheckout_LostExpiryRaceRefunds(t *testing.T) {
	cart := reservedCart(5 * time.Minute)

	var refundedTxn string
	var refundedCents int64
	var committed bool
	var confirmedDelta int
	cartRepo := &MockCartRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*domain.Cart, error) {
			return cart, nil
		},
		// The sweeper flipped reserved→expired between the charge and the
		// completion update
		MarkCompletedFunc: func(ctx context.Context, id, paymentID string) error {
			return domain.ErrCartExpired
		},
	}
	catalog := testCatalog()
	catalog.IncrementConfirmedCountFunc = func(ctx context.Context, raceID string, delta int) error {
		confirmedDelta += delta
		return nil
	}
	ledger := &MockInventoryLedger{
		CommitFunc: func(ctx context.Context, claims []repository.Claim) error {
			committed = true
			return nil
		},
	}
	pay := &MockPaymentGateway{
		ChargeFunc: func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
			return &gateway.ChargeResponse{Success: true, TransactionID: "txn-lost", Status: "succeeded"}, nil
		},
		RefundFunc: func(ctx context.Context, transactionID string, amountCents int64) error {
			refundedTxn = transactionID
			refundedCents = amountCents
			return nil
		},
	}
	svc := newTestCheckoutService(cartRepo, catalog, ledger, pay, &MockRegistrationClient{})

	_, err := svc.Checkout(context.Background(), "cart-001", "user-001", checkoutRequest())
	if !errors.Is(err, domain.ErrCartExpired) {
		t.Fatalf("Checkout() error = %v, want ErrCartExpired", err)
	}
	if refundedTxn != "txn-lost" {
		t.Errorf("refunded transaction = %q, want txn-lost", refundedTxn)
	}
	if refundedCents != cart.TotalCents {
		t.Errorf("refunded cents = %d, want %d", refundedCents, cart.TotalCents)
	}
	if committed {
		t.Error("held capacity must not be committed after losing the expiry race")
	}
	if confirmedDelta != 0 {
		t.Errorf("confirmed count delta = %d, want 0", confirmedDelta)
	}
}

func TestCheckout_ReplaysCompletedCart(t *testing.T) {
	cart := reservedCart(5 * time.Minute)
	cart.Status = domain.CartStatusCompleted
	cart.PaymentID = "txn-800"

	charged := false
	cartRepo := &MockCartRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*domain.Cart, error) {
			return cart, nil
		},
	}
	pay := &MockPaymentGateway{
		ChargeFunc: func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
			charged = true
			return &gateway.ChargeResponse{Success: true, TransactionID: "txn-new"}, nil
		},
	}
	svc := newTestCheckoutService(cartRepo, testCatalog(), &MockInventoryLedger{}, pay, &MockRegistrationClient{})

	resp, err := svc.Checkout(context.Background(), "cart-001", "user-001", checkoutRequest())
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if charged {
		t.Error("a completed cart must not be charged again")
	}
	if resp.PaymentID != "txn-800" {
		t.Errorf("PaymentID = %s, want the original txn-800", resp.PaymentID)
	}
}

func TestCheckout_NotReserved(t *testing.T) {
	cart := activeCart()
	cartRepo := &MockCartRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*domain.Cart, error) {
			return cart, nil
		},
	}
	svc := newTestCheckoutService(cartRepo, testCatalog(), &MockInventoryLedger{}, &MockPaymentGateway{}, &MockRegistrationClient{})

	_, err := svc.Checkout(context.Background(), "cart-001", "user-001", checkoutRequest())
	if !errors.Is(err, domain.ErrCartNotReserved) {
		t.Errorf("error = %v, want ErrCartNotReserved", err)
	}
}

func TestCheckout_LapsedHold(t *testing.T) {
	cart := reservedCart(-time.Minute)

	released := false
	cartRepo := &MockCartRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*domain.Cart, error) {
			return cart, nil
		},
	}
	ledger := &MockInventoryLedger{
		ReleaseFunc: func(ctx context.Context, claims []repository.Claim) error {
			released = true
			return nil
		},
	}
	svc := newTestCheckoutService(cartRepo, testCatalog(), ledger, &MockPaymentGateway{}, &MockRegistrationClient{})

	_, err := svc.Checkout(context.Background(), "cart-001", "user-001", checkoutRequest())
	if !errors.Is(err, domain.ErrCartExpired) {
		t.Errorf("error = %v, want ErrCartExpired", err)
	}
	if !released {
		t.Error("expected the lapsed hold's claims to be released")
	}
}

func TestCheckout_PaymentDeclined(t *testing.T) {
	cart := reservedCart(5 * time.Minute)

	attempts := 0
	expired := false
	cartRepo := &MockCartRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*domain.Cart, error) {
			return cart, nil
		},
		MarkExpiredFunc: func(ctx context.Context, id string) error {
			expired = true
			return nil
		},
	}
	pay := &MockPaymentGateway{
		ChargeFunc: func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
			attempts++
			return &gateway.ChargeResponse{Success: false, FailureReason: "card_declined"}, nil
		},
	}
	svc := newTestCheckoutService(cartRepo, testCatalog(), &MockInventoryLedger{}, pay, &MockRegistrationClient{})

	_, err := svc.Checkout(context.Background(), "cart-001", "user-001", checkoutRequest())
	if !errors.Is(err, domain.ErrPaymentFailed) {
		t.Errorf("error = %v, want ErrPaymentFailed", err)
	}
	if attempts != 1 {
		t.Errorf("charge attempts = %d, declines must not be retried", attempts)
	}
	if expired {
		t.Error("a declined payment must leave the cart reserved")
	}
}

func TestCheckout_PaymentTransportErrorRetries(t *testing.T) {
	cart := reservedCart(5 * time.Minute)

	attempts := 0
	cartRepo := &MockCartRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*domain.Cart, error) {
			return cart, nil
		},
	}
	pay := &MockPaymentGateway{
		ChargeFunc: func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("gateway timeout")
			}
			return &gateway.ChargeResponse{Success: true, TransactionID: "txn-retry"}, nil
		},
	}
	svc := newTestCheckoutService(cartRepo, testCatalog(), &MockInventoryLedger{}, pay, &MockRegistrationClient{})

	resp, err := svc.Checkout(context.Background(), "cart-001", "user-001", checkoutRequest())
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if resp.PaymentID != "txn-retry" {
		t.Errorf("PaymentID = %s, want txn-retry", resp.PaymentID)
	}
	if attempts != 3 {
		t.Errorf("charge attempts = %d, want 3", attempts)
	}
}

func TestCheckout_RaceFullRefundsAndExpires(t *testing.T) {
	cart := reservedCart(5 * time.Minute)

	var refundedTxn string
	var refundedAmount int64
	expired := false
	released := false
	cartRepo := &MockCartRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*domain.Cart, error) {
			return cart, nil
		},
		MarkExpiredFunc: func(ctx context.Context, id string) error {
			expired = true
			return nil
		},
	}
	ledger := &MockInventoryLedger{
		ReleaseFunc: func(ctx context.Context, claims []repository.Claim) error {
			released = true
			return nil
		},
	}
	pay := &MockPaymentGateway{
		RefundFunc: func(ctx context.Context, transactionID string, amountCents int64) error {
			refundedTxn = transactionID
			refundedAmount = amountCents
			return nil
		},
	}
	reg := &MockRegistrationClient{
		RegisterFunc: func(ctx context.Context, req *client.RegistrationRequest) (*client.RegistrationResult, error) {
			return &client.RegistrationResult{Status: client.RegistrationRaceFull}, nil
		},
	}
	svc := newTestCheckoutService(cartRepo, testCatalog(), ledger, pay, reg)

	_, err := svc.Checkout(context.Background(), "cart-001", "user-001", checkoutRequest())
	if !errors.Is(err, domain.ErrResourceFull) {
		t.Errorf("error = %v, want ErrResourceFull", err)
	}
	if refundedTxn != "txn-001" || refundedAmount != cart.TotalCents {
		t.Errorf("refund = %s/%d, want txn-001/%d", refundedTxn, refundedAmount, cart.TotalCents)
	}
	if !expired || !released {
		t.Errorf("expired = %v released = %v, a full race must close the cart", expired, released)
	}
}

func TestCheckout_AlreadyRegisteredCountsAsSuccess(t *testing.T) {
	cart := reservedCart(5 * time.Minute)

	cartRepo := &MockCartRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*domain.Cart, error) {
			return cart, nil
		},
	}
	reg := &MockRegistrationClient{
		RegisterFunc: func(ctx context.Context, req *client.RegistrationRequest) (*client.RegistrationResult, error) {
			return &client.RegistrationResult{Status: client.RegistrationAlreadyRegistered}, nil
		},
	}
	svc := newTestCheckoutService(cartRepo, testCatalog(), &MockInventoryLedger{}, &MockPaymentGateway{}, reg)

	resp, err := svc.Checkout(context.Background(), "cart-001", "user-001", checkoutRequest())
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if resp.Status != domain.CartStatusCompleted.String() {
		t.Errorf("Status = %s, want completed", resp.Status)
	}
}

func TestCheckout_RegistrationTransportErrorLeavesCartReserved(t *testing.T) {
	cart := reservedCart(5 * time.Minute)

	expired := false
	cartRepo := &MockCartRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*domain.Cart, error) {
			return cart, nil
		},
		MarkExpiredFunc: func(ctx context.Context, id string) error {
			expired = true
			return nil
		},
	}
	reg := &MockRegistrationClient{
		RegisterFunc: func(ctx context.Context, req *client.RegistrationRequest) (*client.RegistrationResult, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := newTestCheckoutService(cartRepo, testCatalog(), &MockInventoryLedger{}, &MockPaymentGateway{}, reg)

	_, err := svc.Checkout(context.Background(), "cart-001", "user-001", checkoutRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if expired {
		t.Error("a transient registration failure must leave the cart reserved for retry")
	}
}

func TestCheckout_RegistrationKeyPerItem(t *testing.T) {
	cart := reservedCart(5 * time.Minute)
	second := cart.Items[0]
	second.ID = "item-002"
	cart.Items = append(cart.Items, second)

	var keys []string
	cartRepo := &MockCartRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*domain.Cart, error) {
			return cart, nil
		},
	}
	reg := &MockRegistrationClient{
		RegisterFunc: func(ctx context.Context, req *client.RegistrationRequest) (*client.RegistrationResult, error) {
			keys = append(keys, req.IdempotencyKey)
			return &client.RegistrationResult{Status: client.RegistrationOK}, nil
		},
	}
	svc := newTestCheckoutService(cartRepo, testCatalog(), &MockInventoryLedger{}, &MockPaymentGateway{}, reg)

	if _, err := svc.Checkout(context.Background(), "cart-001", "user-001", checkoutRequest()); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("registration calls = %d, want 2", len(keys))
	}
	if keys[0] != "cart-001:item-001" || keys[1] != "cart-001:item-002" {
		t.Errorf("idempotency keys = %v, want cart:item pairs", keys)
	}
}
