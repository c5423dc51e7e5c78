package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/vivian5285/panda-quant/libs/kafka"
	"github.com/vivian5285/panda-quant/services/commission/internal/events"
	"github.com/vivian5285/panda-quant/services/commission/internal/ledger"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
	"github.com/vivian5285/panda-quant/services/commission/internal/testutil"
)

type failingRecorder struct {
	err error
}

func (f failingRecorder) RecordEntry(ctx context.Context, req ledger.RecordRequest) (*storage.CommissionEntry, bool, error) {
	return nil, false, f.err
}

func buildEvent(t *testing.T, mutate func(*events.CommissionRecordedEvent)) *sarama.ConsumerMessage {
	t.Helper()
	env, err := kafka.NewEnvelope(events.CommissionRecordedType, 1, "")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	event := events.CommissionRecordedEvent{
		Envelope:      env,
		UserID:        uuid.NewString(),
		FromUserID:    uuid.NewString(),
		Amount:        "12.5",
		Level:         1,
		ReferenceID:   "dep-7",
		ReferenceType: "deposit",
		Reference:     json.RawMessage(`{"deposit_id":"dep-7","asset":"USDT","amount":"125"}`),
	}
	if mutate != nil {
		mutate(&event)
	}
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: events.CommissionRecordedType, Value: raw}
}

func isDLQ(err error) bool {
	var dlqErr *kafka.DLQError
	return errors.As(err, &dlqErr)
}

func TestHandleMessageRecordsEntry(t *testing.T) {
	store := testutil.NewMemStore()
	c := NewCommissionConsumer(ledger.New(store, nil, slog.Default()), slog.Default())

	msg := buildEvent(t, nil)
	if err := c.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := c.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("replay: %v", err)
	}

	entries := store.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one entry after replay, got %d", len(entries))
	}
	ref, ok := entries[0].Reference.(storage.DepositReference)
	if !ok || ref.DepositID != "dep-7" || entries[0].ReferenceType != storage.ReferenceTypeDeposit {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestHandleMessageInvalidEventsGoToDLQ(t *testing.T) {
	c := NewCommissionConsumer(ledger.New(testutil.NewMemStore(), nil, slog.Default()), slog.Default())

	cases := map[string]*sarama.ConsumerMessage{
		"empty":       {Value: nil},
		"not json":    {Value: []byte("{")},
		"no envelope": {Value: []byte(`{"user_id":"x"}`)},
		"bad user":    buildEvent(t, func(e *events.CommissionRecordedEvent) { e.UserID = "nope" }),
		"bad amount":  buildEvent(t, func(e *events.CommissionRecordedEvent) { e.Amount = "1e" }),
		"negative":    buildEvent(t, func(e *events.CommissionRecordedEvent) { e.Amount = "-3" }),
		"bad type":    buildEvent(t, func(e *events.CommissionRecordedEvent) { e.ReferenceType = "payout" }),
		"wrong event": buildEvent(t, func(e *events.CommissionRecordedEvent) { e.EventType = "trades.executed" }),
	}
	for name, msg := range cases {
		if err := c.HandleMessage(context.Background(), msg); !isDLQ(err) {
			t.Fatalf("%s: expected DLQ error, got %v", name, err)
		}
	}
}

func TestHandleMessageStoreErrorIsRetryable(t *testing.T) {
	c := NewCommissionConsumer(failingRecorder{err: errors.New("db down")}, slog.Default())
	err := c.HandleMessage(context.Background(), buildEvent(t, nil))
	if err == nil || isDLQ(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}
