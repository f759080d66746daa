package retry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// capturingKafkaPublisher records what would land on Kafka
type capturingKafkaPublisher struct {
	topic   string
	key     string
	data    interface{}
	headers map[string]string
	err     error
	calls   int
}

func (m *capturingKafkaPublisher) PublishJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.topic = topic
	m.key = key
	m.data = data
	m.headers = headers
	return nil
}

func expiredCartPayload() json.RawMessage {
	return json.RawMessage(`{"cart_id":"cart-456","event_id":"event-001","status":"reserved"}`)
}

func TestKafkaDLQPublisher_TopicNaming(t *testing.T) {
	tests := []struct {
		name     string
		config   *DLQConfig
		expected string
	}{
		{
			name:     "suffix by default",
			config:   nil,
			expected: "cart-events.dlq",
		},
		{
			name:     "prefix when configured",
			config:   &DLQConfig{TopicPrefix: "dlq.", UsePrefix: true},
			expected: "dlq.cart-events",
		},
		{
			name:     "custom suffix",
			config:   &DLQConfig{TopicSuffix: ".failed"},
			expected: "cart-events.failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewKafkaDLQPublisher(&capturingKafkaPublisher{}, tt.config)
			if got := p.GetDLQTopic("cart-events"); got != tt.expected {
				t.Errorf("GetDLQTopic() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestKafkaDLQPublisher_PublishToDLQ(t *testing.T) {
	producer := &capturingKafkaPublisher{}
	p := NewKafkaDLQPublisher(producer, &DLQConfig{
		TopicSuffix: ".dlq",
		Source:      "expiry-sweeper",
	})

	msg := &DLQMessage{
		ID:            "cart-456",
		OriginalTopic: "cart-events",
		OriginalKey:   "cart-456",
		Payload:       expiredCartPayload(),
		Headers:       map[string]string{"user_id": "user-001"},
		Error:         "failed to mark cart expired",
		Attempts:      4,
	}

	if err := p.PublishToDLQ(context.Background(), msg); err != nil {
		t.Fatalf("PublishToDLQ() error = %v", err)
	}

	if producer.topic != "cart-events.dlq" {
		t.Errorf("topic = %s, want cart-events.dlq", producer.topic)
	}
	if producer.key != "cart-456" {
		t.Errorf("key = %s, want cart-456", producer.key)
	}
	if msg.Source != "expiry-sweeper" {
		t.Errorf("Source = %s, want expiry-sweeper", msg.Source)
	}
	if msg.MovedToDLQAt.IsZero() {
		t.Error("MovedToDLQAt should be stamped")
	}

	// Failure trail rides in headers for operator filtering
	if producer.headers["original_topic"] != "cart-events" {
		t.Errorf("header original_topic = %s, want cart-events", producer.headers["original_topic"])
	}
	if producer.headers["error"] != "failed to mark cart expired" {
		t.Errorf("header error = %s", producer.headers["error"])
	}
	if producer.headers["attempts"] != "4" {
		t.Errorf("header attempts = %s, want 4", producer.headers["attempts"])
	}
	// Original headers are prefixed so they cannot clobber the trail
	if producer.headers["original_user_id"] != "user-001" {
		t.Errorf("header original_user_id = %s, want user-001", producer.headers["original_user_id"])
	}
}

func TestKafkaDLQPublisher_PublishToDLQ_NilMessage(t *testing.T) {
	p := NewKafkaDLQPublisher(&capturingKafkaPublisher{}, nil)
	if err := p.PublishToDLQ(context.Background(), nil); err == nil {
		t.Error("expected an error for a nil message")
	}
}

func TestKafkaDLQPublisher_PublishToDLQ_ProducerFails(t *testing.T) {
	producer := &capturingKafkaPublisher{err: errors.New("broker unreachable")}
	p := NewKafkaDLQPublisher(producer, nil)

	err := p.PublishToDLQ(context.Background(), &DLQMessage{
		ID:            "cart-456",
		OriginalTopic: "cart-events",
	})
	if err == nil {
		t.Error("expected the producer error to surface")
	}
}

func TestNoOpDLQPublisher(t *testing.T) {
	p := NewNoOpDLQPublisher()

	if err := p.PublishToDLQ(context.Background(), &DLQMessage{ID: "cart-456"}); err != nil {
		t.Errorf("PublishToDLQ() error = %v, want nil", err)
	}
	if got := p.GetDLQTopic("cart-events"); got != "cart-events.dlq" {
		t.Errorf("GetDLQTopic() = %s, want cart-events.dlq", got)
	}
}

func TestDLQMessage_JSON(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	msg := &DLQMessage{
		ID:             "cart-456",
		OriginalTopic:  "cart-events",
		OriginalKey:    "cart-456",
		Payload:        expiredCartPayload(),
		Error:          "failed to mark cart expired",
		Attempts:       4,
		FirstAttemptAt: now,
		LastAttemptAt:  now,
		Source:         "expiry-sweeper",
		Metadata:       map[string]interface{}{"event_id": "event-001"},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded DLQMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.ID != msg.ID || decoded.Attempts != msg.Attempts {
		t.Errorf("round trip lost fields: %+v", decoded)
	}
	if !strings.Contains(string(decoded.Payload), "cart-456") {
		t.Error("payload should survive as raw JSON")
	}
}

func sweepMessage() *MessageContext {
	return &MessageContext{
		ID:      "cart-456",
		Topic:   "cart-events",
		Key:     "cart-456",
		Payload: expiredCartPayload(),
		Metadata: map[string]interface{}{
			"user_id":  "user-001",
			"event_id": "event-001",
		},
	}
}

func newTestDLQHandler(publisher DLQPublisher, onDLQ func(*DLQMessage)) *DLQHandler {
	return NewDLQHandler(publisher, &DLQHandlerConfig{
		RetryConfig: fastConfig(2),
		Source:      "expiry-sweeper",
		OnDLQ:       onDLQ,
	})
}

// mockDLQPublisher records dead-lettered messages directly
type mockDLQPublisher struct {
	published []*DLQMessage
	err       error
}

func (m *mockDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, msg)
	return nil
}

func (m *mockDLQPublisher) GetDLQTopic(originalTopic string) string {
	return originalTopic + ".dlq"
}

func TestDLQHandler_SuccessSkipsDLQ(t *testing.T) {
	publisher := &mockDLQPublisher{}
	h := newTestDLQHandler(publisher, nil)

	err := h.ProcessWithDLQ(context.Background(), sweepMessage(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("ProcessWithDLQ() error = %v", err)
	}
	if len(publisher.published) != 0 {
		t.Error("a successful expire must not be dead-lettered")
	}
}

func TestDLQHandler_RetriesThenSucceeds(t *testing.T) {
	publisher := &mockDLQPublisher{}
	h := newTestDLQHandler(publisher, nil)

	calls := 0
	err := h.ProcessWithDLQ(context.Background(), sweepMessage(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("version conflict")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ProcessWithDLQ() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(publisher.published) != 0 {
		t.Error("a recovered expire must not be dead-lettered")
	}
}

func TestDLQHandler_ExhaustionDeadLetters(t *testing.T) {
	publisher := &mockDLQPublisher{}
	var observed *DLQMessage
	h := newTestDLQHandler(publisher, func(msg *DLQMessage) {
		observed = msg
	})

	opErr := errors.New("database unavailable")
	err := h.ProcessWithDLQ(context.Background(), sweepMessage(), func(ctx context.Context) error {
		return opErr
	})
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("error = %v, want ErrMaxRetriesExceeded", err)
	}

	if len(publisher.published) != 1 {
		t.Fatalf("published = %d messages, want 1", len(publisher.published))
	}
	msg := publisher.published[0]
	if msg.ID != "cart-456" || msg.OriginalKey != "cart-456" {
		t.Errorf("message keys = %s/%s, want cart-456", msg.ID, msg.OriginalKey)
	}
	if msg.Error != opErr.Error() {
		t.Errorf("Error = %s, want %s", msg.Error, opErr.Error())
	}
	if msg.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", msg.Attempts)
	}
	if msg.Source != "expiry-sweeper" {
		t.Errorf("Source = %s, want expiry-sweeper", msg.Source)
	}
	if msg.Metadata["user_id"] != "user-001" {
		t.Errorf("Metadata user_id = %v, want user-001", msg.Metadata["user_id"])
	}
	if observed != msg {
		t.Error("OnDLQ should observe the dead-lettered message")
	}
}

func TestDLQHandler_PermanentErrorDeadLettersWithoutRetry(t *testing.T) {
	publisher := &mockDLQPublisher{}
	h := newTestDLQHandler(publisher, nil)

	calls := 0
	inner := errors.New("cart is gone")
	err := h.ProcessWithDLQ(context.Background(), sweepMessage(), func(ctx context.Context) error {
		calls++
		return Permanent(inner)
	})
	if !errors.Is(err, inner) {
		t.Fatalf("error = %v, want the permanent inner error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("published = %d messages, want 1", len(publisher.published))
	}
	if publisher.published[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", publisher.published[0].Attempts)
	}
}

func TestDLQHandler_PublishFailureSurfaces(t *testing.T) {
	publisher := &mockDLQPublisher{err: errors.New("broker unreachable")}
	h := newTestDLQHandler(publisher, nil)

	err := h.ProcessWithDLQ(context.Background(), sweepMessage(), func(ctx context.Context) error {
		return errors.New("expire failed")
	})
	if err == nil || !strings.Contains(err.Error(), "failed to publish to DLQ") {
		t.Errorf("error = %v, want a DLQ publish failure", err)
	}
}

func TestNewDLQHandler_NilConfig(t *testing.T) {
	h := NewDLQHandler(&mockDLQPublisher{}, nil)
	if h.config.Source != "unknown" {
		t.Errorf("Source = %s, want unknown", h.config.Source)
	}
}

// mockProduceJSON stands in for the kafka producer
type mockProduceJSON struct {
	topic string
	key   string
}

func (m *mockProduceJSON) ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	m.topic = topic
	m.key = key
	return nil
}

func TestKafkaProducerAdapter(t *testing.T) {
	producer := &mockProduceJSON{}
	adapter := &KafkaProducerAdapter{Producer: producer}

	err := adapter.PublishJSON(context.Background(), "cart-events.dlq", "cart-456", map[string]string{"a": "b"}, nil)
	if err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}
	if producer.topic != "cart-events.dlq" || producer.key != "cart-456" {
		t.Errorf("forwarded %s/%s, want cart-events.dlq/cart-456", producer.topic, producer.key)
	}
}
