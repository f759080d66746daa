package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"startline/internal/domain"
	"startline/pkg/kafka"
)

// EventPublisher defines the interface for publishing cart lifecycle events
type EventPublisher interface {
	// PublishCartEvent publishes a cart lifecycle event
	PublishCartEvent(ctx context.Context, eventType string, cart *domain.Cart) error

	// PublishJSON publishes an arbitrary JSON payload, used by the retry
	// machinery for dead-lettering
	PublishJSON(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error

	// Close closes the event publisher
	Close() error
}

// KafkaEventPublisher implements EventPublisher using Kafka
type KafkaEventPublisher struct {
	producer    *kafka.Producer
	topic       string
	serviceName string
}

// EventPublisherConfig contains configuration for the event publisher
type EventPublisherConfig struct {
	Brokers     []string
	Topic       string
	ServiceName string
	ClientID    string
}

// NewKafkaEventPublisher creates a new Kafka event publisher
func NewKafkaEventPublisher(ctx context.Context, cfg *EventPublisherConfig) (*KafkaEventPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("event publisher config is required")
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "cart-events"
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "startline"
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "startline-producer"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      clientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		BatchSize:     100,
		LingerMs:      10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaEventPublisher{
		producer:    producer,
		topic:       topic,
		serviceName: serviceName,
	}, nil
}

// PublishCartEvent publishes a cart lifecycle event to Kafka, keyed by cart
// ID so events for the same cart stay ordered within a partition
func (p *KafkaEventPublisher) PublishCartEvent(ctx context.Context, eventType string, cart *domain.Cart) error {
	event := domain.NewCartEvent(eventType, cart)

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := map[string]string{
		"event_type":   eventType,
		"event_id":     uuid.New().String(),
		"source":       p.serviceName,
		"content_type": "application/json",
	}

	msg := &kafka.Message{
		Topic:     p.topic,
		Key:       []byte(cart.ID),
		Value:     value,
		Headers:   headers,
		Timestamp: time.Now(),
	}

	if err := p.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}

	return nil
}

// PublishJSON publishes a JSON-encoded payload to an arbitrary topic
func (p *KafkaEventPublisher) PublishJSON(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error {
	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if headers == nil {
		headers = map[string]string{}
	}
	headers["source"] = p.serviceName
	headers["content_type"] = "application/json"

	msg := &kafka.Message{
		Topic:     topic,
		Key:       []byte(key),
		Value:     value,
		Headers:   headers,
		Timestamp: time.Now(),
	}

	return p.producer.Produce(ctx, msg)
}

// Close closes the event publisher
func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

// NoOpEventPublisher is a no-op implementation of EventPublisher used when
// Kafka is disabled and in tests
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a new no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

// PublishCartEvent is a no-op
func (p *NoOpEventPublisher) PublishCartEvent(ctx context.Context, eventType string, cart *domain.Cart) error {
	return nil
}

// PublishJSON is a no-op
func (p *NoOpEventPublisher) PublishJSON(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error {
	return nil
}

// Close is a no-op
func (p *NoOpEventPublisher) Close() error {
	return nil
}

var (
	_ EventPublisher = (*KafkaEventPublisher)(nil)
	_ EventPublisher = (*NoOpEventPublisher)(nil)
)
