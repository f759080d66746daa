package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"startline/internal/domain"
	"startline/internal/dto"
	"startline/internal/service"
	"startline/pkg/retry"
)

var (
	_ service.CartService = (*MockCartService)(nil)
	_ retry.DLQPublisher  = (*MockDLQPublisher)(nil)
)

// MockCartService is a mock implementation of service.CartService
type MockCartService struct {
	mock.Mock
}

func (m *MockCartService) CreateCart(ctx context.Context, userID string, req *dto.CreateCartRequest) (*dto.CartResponse, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.CartResponse), args.Error(1)
}

func (m *MockCartService) GetCart(ctx context.Context, cartID, userID string) (*dto.CartResponse, error) {
	args := m.Called(ctx, cartID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.CartResponse), args.Error(1)
}

func (m *MockCartService) GetUserCarts(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error) {
	args := m.Called(ctx, userID, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.PaginatedResponse), args.Error(1)
}

func (m *MockCartService) AddItem(ctx context.Context, cartID, userID string, req *dto.AddItemRequest) (*dto.CartResponse, error) {
	args := m.Called(ctx, cartID, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.CartResponse), args.Error(1)
}

func (m *MockCartService) RemoveItem(ctx context.Context, cartID, userID, itemID string) (*dto.CartResponse, error) {
	args := m.Called(ctx, cartID, userID, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.CartResponse), args.Error(1)
}

func (m *MockCartService) Reserve(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error) {
	args := m.Called(ctx, cartID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.ReserveCartResponse), args.Error(1)
}

func (m *MockCartService) Extend(ctx context.Context, cartID, userID string) (*dto.ReserveCartResponse, error) {
	args := m.Called(ctx, cartID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.ReserveCartResponse), args.Error(1)
}

func (m *MockCartService) Cancel(ctx context.Context, cartID, userID string) (*dto.CancelCartResponse, error) {
	args := m.Called(ctx, cartID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.CancelCartResponse), args.Error(1)
}

func (m *MockCartService) GetExpiredCarts(ctx context.Context, limit int) ([]*domain.Cart, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Cart), args.Error(1)
}

func (m *MockCartService) ExpireCart(ctx context.Context, cart *domain.Cart) error {
	args := m.Called(ctx, cart)
	return args.Error(0)
}

func (m *MockCartService) ExpireDueCarts(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

// MockDLQPublisher records dead-lettered messages
type MockDLQPublisher struct {
	mock.Mock
}

func (m *MockDLQPublisher) PublishToDLQ(ctx context.Context, msg *retry.DLQMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockDLQPublisher) GetDLQTopic(originalTopic string) string {
	return originalTopic + ".dlq"
}

func lapsedCart(id string) *domain.Cart {
	reservedAt := time.Now().Add(-20 * time.Minute)
	expiresAt := time.Now().Add(-10 * time.Minute)
	return &domain.Cart{
		ID:         id,
		EventID:    "event-001",
		UserID:     "user-001",
		Status:     domain.CartStatusReserved,
		ReservedAt: &reservedAt,
		ExpiresAt:  &expiresAt,
	}
}

func TestExpirySweeper_SweepExpiresLapsedCarts(t *testing.T) {
	carts := []*domain.Cart{lapsedCart("cart-001"), lapsedCart("cart-002")}

	cartService := new(MockCartService)
	cartService.On("GetExpiredCarts", mock.Anything, 10).Return(carts, nil)
	cartService.On("ExpireCart", mock.Anything, mock.Anything).Return(nil)

	sweeper := NewExpirySweeper(cartService, nil, &ExpirySweeperConfig{
		ScanInterval: time.Hour, // only the initial sweep runs
		BatchSize:    10,
	})

	err := sweeper.Start(context.Background())
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		return sweeper.GetStats().TotalExpired == 2
	}, 2*time.Second, 10*time.Millisecond)

	sweeper.Stop()

	stats := sweeper.GetStats()
	assert.False(t, stats.IsRunning)
	assert.Equal(t, int64(2), stats.TotalExpired)
	assert.Equal(t, 2, stats.LastExpiredCount)
	assert.Equal(t, int64(0), stats.TotalDeadLetters)
	cartService.AssertNumberOfCalls(t, "ExpireCart", 2)
}

func TestExpirySweeper_StartTwiceFails(t *testing.T) {
	cartService := new(MockCartService)
	cartService.On("GetExpiredCarts", mock.Anything, mock.Anything).Return([]*domain.Cart{}, nil)

	sweeper := NewExpirySweeper(cartService, nil, &ExpirySweeperConfig{
		ScanInterval: time.Hour,
		BatchSize:    10,
	})

	assert.NoError(t, sweeper.Start(context.Background()))
	assert.Error(t, sweeper.Start(context.Background()))
	sweeper.Stop()
}

func TestExpirySweeper_StopIsIdempotent(t *testing.T) {
	cartService := new(MockCartService)
	cartService.On("GetExpiredCarts", mock.Anything, mock.Anything).Return([]*domain.Cart{}, nil)

	sweeper := NewExpirySweeper(cartService, nil, &ExpirySweeperConfig{
		ScanInterval: time.Hour,
		BatchSize:    10,
	})

	assert.NoError(t, sweeper.Start(context.Background()))
	sweeper.Stop()
	sweeper.Stop()
	assert.False(t, sweeper.GetStats().IsRunning)
}

func TestExpirySweeper_DeadLettersStuckCart(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff makes this test slow")
	}

	cart := lapsedCart("cart-stuck")

	cartService := new(MockCartService)
	cartService.On("GetExpiredCarts", mock.Anything, 10).Return([]*domain.Cart{cart}, nil)
	cartService.On("ExpireCart", mock.Anything, cart).Return(assert.AnError)

	dlq := new(MockDLQPublisher)
	dlq.On("PublishToDLQ", mock.Anything, mock.MatchedBy(func(msg *retry.DLQMessage) bool {
		return msg.OriginalKey == "cart-stuck"
	})).Return(nil)

	sweeper := NewExpirySweeper(cartService, dlq, &ExpirySweeperConfig{
		ScanInterval: time.Hour,
		BatchSize:    10,
	})

	assert.NoError(t, sweeper.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return sweeper.GetStats().TotalDeadLetters == 1
	}, 10*time.Second, 50*time.Millisecond)

	sweeper.Stop()

	dlq.AssertCalled(t, "PublishToDLQ", mock.Anything, mock.Anything)
	assert.Equal(t, int64(0), sweeper.GetStats().TotalExpired)
}
