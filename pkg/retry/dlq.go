package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DLQMessage is what lands on a dead-letter topic when an operation ran
// out of retries: the original message plus the failure trail. For the
// expiry sweep this is the cart that could not be expired.
type DLQMessage struct {
	ID            string            `json:"id"`
	OriginalTopic string            `json:"original_topic"`
	OriginalKey   string            `json:"original_key"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	// Error is the message of the final failed attempt
	Error     string `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
	// Attempts counts every try including the first
	Attempts       int       `json:"attempts"`
	FirstAttemptAt time.Time `json:"first_attempt_at"`
	LastAttemptAt  time.Time `json:"last_attempt_at"`
	MovedToDLQAt   time.Time `json:"moved_to_dlq_at"`
	// Source names the service that gave up on the message
	Source   string                 `json:"source"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DLQPublisher delivers exhausted messages to their dead-letter topic
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg *DLQMessage) error
	GetDLQTopic(originalTopic string) string
}

// DLQConfig names dead-letter topics relative to their originals
type DLQConfig struct {
	// TopicPrefix applies when UsePrefix is set ("dlq.cart-events")
	TopicPrefix string
	// TopicSuffix is the default naming ("cart-events.dlq")
	TopicSuffix string
	UsePrefix   bool
	// Source is stamped on every message this service dead-letters
	Source string
}

// DefaultDLQConfig uses the ".dlq" suffix convention
func DefaultDLQConfig() *DLQConfig {
	return &DLQConfig{
		TopicPrefix: "dlq.",
		TopicSuffix: ".dlq",
		UsePrefix:   false,
		Source:      "unknown",
	}
}

// KafkaPublisher is the producer surface the DLQ publisher needs
type KafkaPublisher interface {
	PublishJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error
}

// PublishJSON matches the kafka producer's ProduceJSON method
type PublishJSON interface {
	ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error
}

// KafkaProducerAdapter bridges the kafka producer to KafkaPublisher
type KafkaProducerAdapter struct {
	Producer PublishJSON
}

func (a *KafkaProducerAdapter) PublishJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	return a.Producer.ProduceJSON(ctx, topic, key, data, headers)
}

// KafkaDLQPublisher writes dead-lettered messages to Kafka
type KafkaDLQPublisher struct {
	producer KafkaPublisher
	config   *DLQConfig
}

// NewKafkaDLQPublisher creates a Kafka-backed DLQ publisher
func NewKafkaDLQPublisher(producer KafkaPublisher, config *DLQConfig) *KafkaDLQPublisher {
	if config == nil {
		config = DefaultDLQConfig()
	}
	return &KafkaDLQPublisher{
		producer: producer,
		config:   config,
	}
}

// PublishToDLQ stamps the message and writes it to the dead-letter topic.
// The failure trail goes into headers too so operators can filter without
// parsing payloads.
func (p *KafkaDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	if msg == nil {
		return fmt.Errorf("DLQ message cannot be nil")
	}

	dlqTopic := p.GetDLQTopic(msg.OriginalTopic)
	msg.MovedToDLQAt = time.Now()
	msg.Source = p.config.Source

	headers := map[string]string{
		"content_type":    "application/json",
		"original_topic":  msg.OriginalTopic,
		"error":           msg.Error,
		"attempts":        fmt.Sprintf("%d", msg.Attempts),
		"moved_to_dlq_at": msg.MovedToDLQAt.Format(time.RFC3339),
		"source":          msg.Source,
	}
	if msg.ErrorCode != "" {
		headers["error_code"] = msg.ErrorCode
	}

	// Original headers ride along under a prefix so they cannot clobber
	// the failure trail
	for k, v := range msg.Headers {
		if _, exists := headers[k]; !exists {
			headers["original_"+k] = v
		}
	}

	return p.producer.PublishJSON(ctx, dlqTopic, msg.OriginalKey, msg, headers)
}

// GetDLQTopic derives the dead-letter topic from the original
func (p *KafkaDLQPublisher) GetDLQTopic(originalTopic string) string {
	if p.config.UsePrefix {
		return p.config.TopicPrefix + originalTopic
	}
	return originalTopic + p.config.TopicSuffix
}

// DLQHandler retries an operation and dead-letters it on exhaustion
type DLQHandler struct {
	retrier   *Retrier
	publisher DLQPublisher
	config    *DLQHandlerConfig
}

// DLQHandlerConfig configures retry behavior and attribution
type DLQHandlerConfig struct {
	RetryConfig *Config
	// Source is the service name stamped on dead-lettered messages
	Source string
	// OnDLQ observes every message the handler gives up on
	OnDLQ func(msg *DLQMessage)
}

// DefaultDLQHandlerConfig pairs default retries with an unknown source
func DefaultDLQHandlerConfig() *DLQHandlerConfig {
	return &DLQHandlerConfig{
		RetryConfig: DefaultConfig(),
		Source:      "unknown",
	}
}

// NewDLQHandler creates a DLQ handler
func NewDLQHandler(publisher DLQPublisher, config *DLQHandlerConfig) *DLQHandler {
	if config == nil {
		config = DefaultDLQHandlerConfig()
	}
	return &DLQHandler{
		retrier:   New(config.RetryConfig),
		publisher: publisher,
		config:    config,
	}
}

// MessageContext identifies the unit of work being processed, the expiry
// sweeper keys it by cart id
type MessageContext struct {
	ID      string
	Topic   string
	Key     string
	Payload json.RawMessage
	Headers map[string]string
	// FirstAttemptAt defaults to now when left zero
	FirstAttemptAt time.Time
	Metadata       map[string]interface{}
}

// ProcessWithDLQ runs op under retry; when retries are exhausted the
// message is dead-lettered and the retry error returned. A DLQ publish
// failure is reported instead so the caller knows the message was lost.
func (h *DLQHandler) ProcessWithDLQ(ctx context.Context, msgCtx *MessageContext, op Operation) error {
	if msgCtx.FirstAttemptAt.IsZero() {
		msgCtx.FirstAttemptAt = time.Now()
	}

	var lastErr error
	result := h.retrier.DoWithCallback(ctx, op, func(attempt int, err error, nextInterval time.Duration) {
		lastErr = err
	})

	if result.Err == nil {
		return nil
	}

	errMsg := result.Err.Error()
	if result.LastError != nil {
		errMsg = result.LastError.Error()
	}

	dlqMsg := &DLQMessage{
		ID:             msgCtx.ID,
		OriginalTopic:  msgCtx.Topic,
		OriginalKey:    msgCtx.Key,
		Payload:        msgCtx.Payload,
		Headers:        msgCtx.Headers,
		Error:          errMsg,
		Attempts:       result.Attempts,
		FirstAttemptAt: msgCtx.FirstAttemptAt,
		LastAttemptAt:  time.Now(),
		Source:         h.config.Source,
		Metadata:       msgCtx.Metadata,
	}

	if h.config.OnDLQ != nil {
		h.config.OnDLQ(dlqMsg)
	}

	if publishErr := h.publisher.PublishToDLQ(ctx, dlqMsg); publishErr != nil {
		return fmt.Errorf("failed to publish to DLQ: %w (original error: %v)", publishErr, lastErr)
	}

	return result.Err
}

// NoOpDLQPublisher drops messages, for runs without Kafka
type NoOpDLQPublisher struct {
	config *DLQConfig
}

// NewNoOpDLQPublisher creates a publisher that discards everything
func NewNoOpDLQPublisher() *NoOpDLQPublisher {
	return &NoOpDLQPublisher{
		config: DefaultDLQConfig(),
	}
}

func (p *NoOpDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	return nil
}

func (p *NoOpDLQPublisher) GetDLQTopic(originalTopic string) string {
	return originalTopic + p.config.TopicSuffix
}
