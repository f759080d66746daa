package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"startline/internal/domain"
	"startline/internal/service"
	"startline/pkg/logger"
	"startline/pkg/retry"
)

// ExpirySweeperConfig contains configuration for the expiry sweeper
type ExpirySweeperConfig struct {
	// ScanInterval is the interval between scans for lapsed holds
	ScanInterval time.Duration
	// BatchSize is the number of carts to process in each scan
	BatchSize int
}

// DefaultExpirySweeperConfig returns default configuration
func DefaultExpirySweeperConfig() *ExpirySweeperConfig {
	return &ExpirySweeperConfig{
		ScanInterval: 5 * time.Second,
		BatchSize:    100,
	}
}

// ExpirySweeper periodically closes reserved carts whose hold has lapsed
// and returns their claimed capacity. Carts that keep failing to expire are
// dead-lettered so a stuck cart cannot wedge the sweep.
type ExpirySweeper struct {
	cartService service.CartService
	dlqHandler  *retry.DLQHandler
	config      *ExpirySweeperConfig
	log         *logger.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool

	// Stats
	totalExpired     int64
	totalDeadLetters int64
	lastScanTime     time.Time
	lastExpiredCount int
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(
	cartService service.CartService,
	dlqPublisher retry.DLQPublisher,
	config *ExpirySweeperConfig,
) *ExpirySweeper {
	if config == nil {
		config = DefaultExpirySweeperConfig()
	}
	if dlqPublisher == nil {
		dlqPublisher = retry.NewNoOpDLQPublisher()
	}

	dlqHandler := retry.NewDLQHandler(dlqPublisher, &retry.DLQHandlerConfig{
		RetryConfig: &retry.Config{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
		Source: "expiry-sweeper",
	})

	return &ExpirySweeper{
		cartService: cartService,
		dlqHandler:  dlqHandler,
		config:      config,
		log:         logger.Get(),
		stopCh:      make(chan struct{}),
	}
}

// Start starts the sweeper
func (w *ExpirySweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("expiry sweeper already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting expiry sweeper")

	w.wg.Add(1)
	go w.scan(ctx)

	return nil
}

// Stop stops the sweeper and waits for the in-flight scan
func (w *ExpirySweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping expiry sweeper")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Expiry sweeper stopped")
}

// scan ticks until stopped, running one sweep per interval
func (w *ExpirySweeper) scan(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep fetches and expires one batch of lapsed carts
func (w *ExpirySweeper) sweep(ctx context.Context) {
	w.mu.Lock()
	w.lastScanTime = time.Now()
	w.mu.Unlock()

	carts, err := w.cartService.GetExpiredCarts(ctx, w.config.BatchSize)
	if err != nil {
		w.log.Error(fmt.Sprintf("Failed to get expired carts: %v", err))
		return
	}

	if len(carts) == 0 {
		w.mu.Lock()
		w.lastExpiredCount = 0
		w.mu.Unlock()
		return
	}

	w.log.Info(fmt.Sprintf("Found %d lapsed carts to expire", len(carts)))

	expired := 0
	for _, cart := range carts {
		if err := w.expireCart(ctx, cart); err != nil {
			w.log.Error(fmt.Sprintf("Failed to expire cart %s: %v", cart.ID, err))
			continue
		}
		expired++
		w.mu.Lock()
		w.totalExpired++
		w.mu.Unlock()
	}

	w.mu.Lock()
	w.lastExpiredCount = expired
	w.mu.Unlock()
}

// expireCart expires one cart with retries; repeated failure dead-letters
// the cart for manual follow-up
func (w *ExpirySweeper) expireCart(ctx context.Context, cart *domain.Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("failed to marshal cart: %w", err)
	}

	msgCtx := &retry.MessageContext{
		ID:      cart.ID,
		Topic:   "cart-events",
		Key:     cart.ID,
		Payload: payload,
		Metadata: map[string]interface{}{
			"user_id":  cart.UserID,
			"event_id": cart.EventID,
		},
	}

	err = w.dlqHandler.ProcessWithDLQ(ctx, msgCtx, func(ctx context.Context) error {
		return w.cartService.ExpireCart(ctx, cart)
	})
	if err != nil {
		w.mu.Lock()
		w.totalDeadLetters++
		w.mu.Unlock()
		return err
	}
	return nil
}

// GetStats returns sweeper statistics
func (w *ExpirySweeper) GetStats() *ExpirySweeperStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &ExpirySweeperStats{
		IsRunning:        w.running,
		TotalExpired:     w.totalExpired,
		TotalDeadLetters: w.totalDeadLetters,
		LastScanTime:     w.lastScanTime,
		LastExpiredCount: w.lastExpiredCount,
	}
}

// ExpirySweeperStats contains sweeper statistics
type ExpirySweeperStats struct {
	IsRunning        bool      `json:"is_running"`
	TotalExpired     int64     `json:"total_expired"`
	TotalDeadLetters int64     `json:"total_dead_letters"`
	LastScanTime     time.Time `json:"last_scan_time"`
	LastExpiredCount int       `json:"last_expired_count"`
}
