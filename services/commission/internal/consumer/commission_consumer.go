package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/libs/kafka"
	"github.com/vivian5285/panda-quant/services/commission/internal/events"
	"github.com/vivian5285/panda-quant/services/commission/internal/ledger"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

type EntryRecorder interface {
	RecordEntry(ctx context.Context, req ledger.RecordRequest) (*storage.CommissionEntry, bool, error)
}

// CommissionConsumer turns commissions.recorded events into pending ledger
// entries. Malformed events are permanent failures and go to the DLQ; store
// errors are returned for retry.
type CommissionConsumer struct {
	ledger EntryRecorder
	logger *slog.Logger
}

func NewCommissionConsumer(recorder EntryRecorder, logger *slog.Logger) *CommissionConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommissionConsumer{ledger: recorder, logger: logger}
}

func (c *CommissionConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "invalid_event")
	}
	var event events.CommissionRecordedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return kafka.DLQ(fmt.Errorf("decode %s: %w", events.CommissionRecordedType, err), "decode")
	}
	if err := event.Validate(); err != nil {
		return kafka.DLQ(err, "invalid_event")
	}
	if event.EventType != events.CommissionRecordedType {
		return kafka.DLQ(fmt.Errorf("unexpected event type %q", event.EventType), "invalid_event")
	}

	req, err := toRecordRequest(event)
	if err != nil {
		return kafka.DLQ(err, "invalid_event")
	}

	entry, created, err := c.ledger.RecordEntry(ctx, req)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidEntry) {
			return kafka.DLQ(err, "invalid_event")
		}
		return err
	}
	c.logger.Debug("commission event applied",
		"event_id", event.EventID,
		"entry_id", entry.ID,
		"created", created)
	return nil
}

func toRecordRequest(event events.CommissionRecordedEvent) (ledger.RecordRequest, error) {
	userID, err := parseUUID(event.UserID, "user_id")
	if err != nil {
		return ledger.RecordRequest{}, err
	}
	var fromUserID *uuid.UUID
	if strings.TrimSpace(event.FromUserID) != "" {
		id, err := parseUUID(event.FromUserID, "from_user_id")
		if err != nil {
			return ledger.RecordRequest{}, err
		}
		fromUserID = &id
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(event.Amount))
	if err != nil {
		return ledger.RecordRequest{}, fmt.Errorf("invalid amount %q: %w", event.Amount, err)
	}
	refType, err := storage.ParseReferenceType(event.ReferenceType)
	if err != nil {
		return ledger.RecordRequest{}, err
	}
	ref, err := storage.DecodeReference(refType, event.Reference)
	if err != nil {
		return ledger.RecordRequest{}, err
	}
	return ledger.RecordRequest{
		UserID:        userID,
		FromUserID:    fromUserID,
		Amount:        amount,
		Level:         event.Level,
		ReferenceID:   event.ReferenceID,
		ReferenceType: refType,
		Reference:     ref,
	}, nil
}

func parseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return id, nil
}
