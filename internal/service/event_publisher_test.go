package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"startline/internal/domain"
)

// CapturingEventPublisher records published events for assertions
type CapturingEventPublisher struct {
	mu           sync.Mutex
	events       []*capturedEvent
	publishError error
}

type capturedEvent struct {
	Type string
	Cart *domain.Cart
}

func NewCapturingEventPublisher() *CapturingEventPublisher {
	return &CapturingEventPublisher{events: make([]*capturedEvent, 0)}
}

func (p *CapturingEventPublisher) PublishCartEvent(ctx context.Context, eventType string, cart *domain.Cart) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publishError != nil {
		return p.publishError
	}
	p.events = append(p.events, &capturedEvent{Type: eventType, Cart: cart})
	return nil
}

func (p *CapturingEventPublisher) PublishJSON(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error {
	return nil
}

func (p *CapturingEventPublisher) Close() error {
	return nil
}

func (p *CapturingEventPublisher) Events() []*capturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events
}

func (p *CapturingEventPublisher) EventsOfType(eventType string) []*capturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	matched := make([]*capturedEvent, 0)
	for _, e := range p.events {
		if e.Type == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

var _ EventPublisher = (*CapturingEventPublisher)(nil)

func testEventCart() *domain.Cart {
	expiresAt := time.Now().Add(10 * time.Minute)
	return &domain.Cart{
		ID:         "cart-123",
		EventID:    "event-123",
		UserID:     "user-123",
		Status:     domain.CartStatusReserved,
		TotalCents: 2599,
		Currency:   "EUR",
		ExpiresAt:  &expiresAt,
	}
}

func TestNoOpEventPublisher(t *testing.T) {
	publisher := NewNoOpEventPublisher()
	ctx := context.Background()
	cart := testEventCart()

	t.Run("PublishCartEvent returns nil", func(t *testing.T) {
		if err := publisher.PublishCartEvent(ctx, domain.EventCartReserved, cart); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	})

	t.Run("PublishJSON returns nil", func(t *testing.T) {
		if err := publisher.PublishJSON(ctx, "cart-events", cart.ID, cart, nil); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	})

	t.Run("Close returns nil", func(t *testing.T) {
		if err := publisher.Close(); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	})
}

func TestCapturingEventPublisher(t *testing.T) {
	ctx := context.Background()
	cart := testEventCart()

	t.Run("captures events in order", func(t *testing.T) {
		publisher := NewCapturingEventPublisher()
		if err := publisher.PublishCartEvent(ctx, domain.EventCartCreated, cart); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
		if err := publisher.PublishCartEvent(ctx, domain.EventCartReserved, cart); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
		events := publisher.Events()
		if len(events) != 2 {
			t.Fatalf("expected 2 events, got %d", len(events))
		}
		if events[0].Type != domain.EventCartCreated {
			t.Errorf("expected first event %s, got %s", domain.EventCartCreated, events[0].Type)
		}
		if events[1].Cart.ID != cart.ID {
			t.Errorf("expected cart ID %s, got %s", cart.ID, events[1].Cart.ID)
		}
	})

	t.Run("filters events by type", func(t *testing.T) {
		publisher := NewCapturingEventPublisher()
		publisher.PublishCartEvent(ctx, domain.EventCartReserved, cart)
		publisher.PublishCartEvent(ctx, domain.EventCartExpired, cart)
		publisher.PublishCartEvent(ctx, domain.EventCartExpired, cart)
		if got := len(publisher.EventsOfType(domain.EventCartExpired)); got != 2 {
			t.Errorf("expected 2 expired events, got %d", got)
		}
	})
}

func TestCartEvent(t *testing.T) {
	cart := testEventCart()

	t.Run("NewCartEvent copies cart state", func(t *testing.T) {
		event := domain.NewCartEvent(domain.EventCartReserved, cart)

		if event.Type != domain.EventCartReserved {
			t.Errorf("expected type %s, got %s", domain.EventCartReserved, event.Type)
		}
		if event.CartID != cart.ID {
			t.Errorf("expected cart ID %s, got %s", cart.ID, event.CartID)
		}
		if event.UserID != cart.UserID {
			t.Errorf("expected user ID %s, got %s", cart.UserID, event.UserID)
		}
		if event.Status != domain.CartStatusReserved {
			t.Errorf("expected status %s, got %s", domain.CartStatusReserved, event.Status)
		}
		if event.TotalCents != cart.TotalCents {
			t.Errorf("expected total %d, got %d", cart.TotalCents, event.TotalCents)
		}
		if event.ExpiresAt == nil || !event.ExpiresAt.Equal(*cart.ExpiresAt) {
			t.Error("expected expires_at to be copied")
		}
		if event.OccurredAt.IsZero() {
			t.Error("expected occurred_at to be set")
		}
	})

	t.Run("event types are correct", func(t *testing.T) {
		if domain.EventCartCreated != "cart.created" {
			t.Errorf("expected 'cart.created', got %s", domain.EventCartCreated)
		}
		if domain.EventCartReserved != "cart.reserved" {
			t.Errorf("expected 'cart.reserved', got %s", domain.EventCartReserved)
		}
		if domain.EventCartExpired != "cart.expired" {
			t.Errorf("expected 'cart.expired', got %s", domain.EventCartExpired)
		}
		if domain.EventCartCompleted != "cart.completed" {
			t.Errorf("expected 'cart.completed', got %s", domain.EventCartCompleted)
		}
	})
}
