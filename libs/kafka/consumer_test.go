package kafka

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

type handlerFunc func(context.Context, *sarama.ConsumerMessage) error

func (h handlerFunc) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return h(ctx, msg)
}

type stubSession struct {
	ctx    context.Context
	marked int
}

func (s *stubSession) Context() context.Context { return s.ctx }
func (s *stubSession) Claims() map[string][]int32 {
	return map[string][]int32{}
}
func (s *stubSession) MemberID() string                                 { return "" }
func (s *stubSession) GenerationID() int32                              { return 0 }
func (s *stubSession) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *stubSession) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *stubSession) MarkMessage(_ *sarama.ConsumerMessage, _ string) {
	s.marked++
}
func (s *stubSession) Commit() {}

type stubClaim struct {
	msgCh chan *sarama.ConsumerMessage
}

func (c *stubClaim) Topic() string                            { return "commissions.recorded" }
func (c *stubClaim) Partition() int32                         { return 0 }
func (c *stubClaim) InitialOffset() int64                     { return 0 }
func (c *stubClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgCh }

func oneMessage(value string) *stubClaim {
	msgCh := make(chan *sarama.ConsumerMessage, 1)
	msgCh <- &sarama.ConsumerMessage{Topic: "commissions.recorded", Partition: 0, Offset: 1, Value: []byte(value)}
	close(msgCh)
	return &stubClaim{msgCh: msgCh}
}

func TestConsumerGroupHandlerDLQsPermanentError(t *testing.T) {
	dlq := &stubPublisher{}
	calls := 0
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			calls++
			return DLQ(errors.New("decode failed"), "decode")
		}),
		logger:       slog.Default(),
		dlqPublisher: dlq,
		dlqTopic:     "commissions.dlq",
		retry:        RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
	}

	session := &stubSession{ctx: context.Background()}
	if err := handler.ConsumeClaim(session, oneMessage("bad")); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected permanent error not to be retried, got %d calls", calls)
	}
	if session.marked != 1 {
		t.Fatalf("expected message to be marked, got %d", session.marked)
	}
	if len(dlq.calls) != 1 || dlq.calls[0].topic != "commissions.dlq" {
		t.Fatalf("expected one dlq publish, got %+v", dlq.calls)
	}
	payload, ok := dlq.calls[0].value.(DLQPayload)
	if !ok {
		t.Fatalf("expected DLQPayload, got %T", dlq.calls[0].value)
	}
	if payload.Reason != "decode" || payload.Attempts != 1 {
		t.Fatalf("unexpected dlq payload: %+v", payload)
	}
}

func TestConsumerGroupHandlerRetriesTransientError(t *testing.T) {
	dlq := &stubPublisher{}
	calls := 0
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			calls++
			if calls < 3 {
				return errors.New("db unavailable")
			}
			return nil
		}),
		logger:       slog.Default(),
		dlqPublisher: dlq,
		dlqTopic:     "commissions.dlq",
		retry:        RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
	}

	session := &stubSession{ctx: context.Background()}
	if err := handler.ConsumeClaim(session, oneMessage("ok")); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	if calls != 3 || session.marked != 1 || len(dlq.calls) != 0 {
		t.Fatalf("expected success on third attempt, calls=%d marked=%d dlq=%d", calls, session.marked, len(dlq.calls))
	}
}

func TestConsumerGroupHandlerLeavesOffsetWithoutDLQ(t *testing.T) {
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			return errors.New("db unavailable")
		}),
		logger: slog.Default(),
		retry:  RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond},
	}

	session := &stubSession{ctx: context.Background()}
	if err := handler.ConsumeClaim(session, oneMessage("ok")); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	if session.marked != 0 {
		t.Fatalf("expected message to stay unmarked, got %d", session.marked)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := NewEnvelope("commissions.recorded", 1, "corr-1")
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	raw := []byte(`{"event_id":"` + env.EventID + `","event_type":"commissions.recorded","event_version":1,"timestamp":"2024-05-01T10:00:00Z"}`)
	decoded, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.EventID != env.EventID {
		t.Fatalf("expected event id %s, got %s", env.EventID, decoded.EventID)
	}
	if _, err := DecodeEnvelope([]byte(`{"event_type":"x"}`)); err == nil {
		t.Fatalf("expected validation error for missing event_id")
	}
	if a, b := DeterministicEventID("settlement", "1"), DeterministicEventID("settlement", "1"); a != b {
		t.Fatalf("expected deterministic ids to match")
	}
}
