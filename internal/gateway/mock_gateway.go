package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway implements PaymentGateway for development and load testing
type MockGateway struct {
	config       *MockGatewayConfig
	transactions sync.Map
	// charges by idempotency key so a retried charge replays its result
	chargesByKey sync.Map
	mu           sync.RWMutex
}

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	// SuccessRate is the probability of successful payment (0.0 to 1.0)
	SuccessRate float64

	// DelayMs is the simulated processing delay in milliseconds
	DelayMs int

	// FailureReasons is a list of possible failure reasons
	FailureReasons []string
}

// DefaultMockGatewayConfig returns default configuration
func DefaultMockGatewayConfig() *MockGatewayConfig {
	return &MockGatewayConfig{
		SuccessRate: 0.95,
		DelayMs:     100,
		FailureReasons: []string{
			"insufficient_funds",
			"card_declined",
			"expired_card",
			"processing_error",
		},
	}
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = DefaultMockGatewayConfig()
	}

	if config.SuccessRate < 0 {
		config.SuccessRate = 0
	}
	if config.SuccessRate > 1 {
		config.SuccessRate = 1
	}

	return &MockGateway{
		config: config,
	}
}

// Charge processes a mock payment charge. Repeated charges with the same
// idempotency key return the first result.
func (g *MockGateway) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("charge request is required")
	}

	if req.IdempotencyKey != "" {
		if prev, ok := g.chargesByKey.Load(req.IdempotencyKey); ok {
			return prev.(*ChargeResponse), nil
		}
	}

	// Simulate processing delay
	if g.config.DelayMs > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(g.config.DelayMs) * time.Millisecond):
		}
	}

	transactionID := fmt.Sprintf("mock_txn_%s", uuid.New().String()[:8])

	success := rand.Float64() < g.GetSuccessRate()

	resp := &ChargeResponse{
		TransactionID: transactionID,
		Metadata:      req.Metadata,
	}

	if success {
		resp.Success = true
		resp.Status = "completed"

		g.transactions.Store(transactionID, &TransactionInfo{
			TransactionID: transactionID,
			Status:        "completed",
			AmountCents:   req.AmountCents,
			Currency:      req.Currency,
			Method:        req.Method,
			CreatedAt:     time.Now().Format(time.RFC3339),
			Metadata:      req.Metadata,
		})
	} else {
		resp.Success = false
		resp.Status = "failed"

		if len(g.config.FailureReasons) > 0 {
			idx := rand.Intn(len(g.config.FailureReasons))
			resp.FailureReason = g.config.FailureReasons[idx]
			resp.FailureCode = resp.FailureReason
		} else {
			resp.FailureReason = "payment_failed"
			resp.FailureCode = "payment_failed"
		}
	}

	if req.IdempotencyKey != "" {
		g.chargesByKey.Store(req.IdempotencyKey, resp)
	}

	return resp, nil
}

// Refund processes a mock refund
func (g *MockGateway) Refund(ctx context.Context, transactionID string, amountCents int64) error {
	if transactionID == "" {
		return fmt.Errorf("transaction ID is required")
	}

	if g.config.DelayMs > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(g.config.DelayMs) * time.Millisecond):
		}
	}

	txn, ok := g.transactions.Load(transactionID)
	if !ok {
		return fmt.Errorf("transaction not found: %s", transactionID)
	}

	info := txn.(*TransactionInfo)
	info.Status = "refunded"
	g.transactions.Store(transactionID, info)

	return nil
}

// GetTransaction retrieves transaction details
func (g *MockGateway) GetTransaction(ctx context.Context, transactionID string) (*TransactionInfo, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("transaction ID is required")
	}

	txn, ok := g.transactions.Load(transactionID)
	if !ok {
		return nil, fmt.Errorf("transaction not found: %s", transactionID)
	}

	return txn.(*TransactionInfo), nil
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return "mock"
}

// SetSuccessRate updates the success rate (for testing)
func (g *MockGateway) SetSuccessRate(rate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	g.config.SuccessRate = rate
}

// GetSuccessRate returns the current success rate
func (g *MockGateway) GetSuccessRate() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config.SuccessRate
}

var _ PaymentGateway = (*MockGateway)(nil)
