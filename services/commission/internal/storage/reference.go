package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type ReferenceType string

const (
	ReferenceTypeOrder   ReferenceType = "order"
	ReferenceTypeDeposit ReferenceType = "deposit"
	ReferenceTypeManual  ReferenceType = "manual"
)

var ErrInvalidReference = errors.New("invalid reference")

// Reference describes the activity a commission entry was earned on. The
// concrete type always matches the entry's ReferenceType.
type Reference interface {
	ReferenceType() ReferenceType
}

type OrderReference struct {
	OrderID  string          `json:"order_id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side,omitempty"`
	Notional decimal.Decimal `json:"notional"`
}

func (OrderReference) ReferenceType() ReferenceType { return ReferenceTypeOrder }

type DepositReference struct {
	DepositID string          `json:"deposit_id"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	TxHash    string          `json:"tx_hash,omitempty"`
}

func (DepositReference) ReferenceType() ReferenceType { return ReferenceTypeDeposit }

type ManualReference struct {
	AdminID string `json:"admin_id"`
	Reason  string `json:"reason"`
}

func (ManualReference) ReferenceType() ReferenceType { return ReferenceTypeManual }

func ParseReferenceType(raw string) (ReferenceType, error) {
	switch t := ReferenceType(strings.ToLower(strings.TrimSpace(raw))); t {
	case ReferenceTypeOrder, ReferenceTypeDeposit, ReferenceTypeManual:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown reference type %q", ErrInvalidReference, raw)
	}
}

// EncodeReference serializes ref for the JSONB column. A nil ref encodes as
// SQL NULL.
func EncodeReference(ref Reference) ([]byte, error) {
	if ref == nil {
		return nil, nil
	}
	return json.Marshal(ref)
}

// DecodeReference parses raw into the concrete payload for t. Empty input or
// JSON null yields a nil Reference.
func DecodeReference(t ReferenceType, raw []byte) (Reference, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	var (
		ref Reference
		err error
	)
	switch t {
	case ReferenceTypeOrder:
		var v OrderReference
		err = json.Unmarshal(raw, &v)
		ref = v
	case ReferenceTypeDeposit:
		var v DepositReference
		err = json.Unmarshal(raw, &v)
		ref = v
	case ReferenceTypeManual:
		var v ManualReference
		err = json.Unmarshal(raw, &v)
		ref = v
	default:
		return nil, fmt.Errorf("%w: unknown reference type %q", ErrInvalidReference, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s payload: %v", ErrInvalidReference, t, err)
	}
	return ref, nil
}

// ValidateReference checks that ref carries the identifying fields for its
// type and matches t.
func ValidateReference(t ReferenceType, ref Reference) error {
	if ref == nil {
		return nil
	}
	if ref.ReferenceType() != t {
		return fmt.Errorf("%w: payload is %s, entry is %s", ErrInvalidReference, ref.ReferenceType(), t)
	}
	switch v := ref.(type) {
	case OrderReference:
		if strings.TrimSpace(v.OrderID) == "" {
			return fmt.Errorf("%w: order_id is required", ErrInvalidReference)
		}
	case DepositReference:
		if strings.TrimSpace(v.DepositID) == "" {
			return fmt.Errorf("%w: deposit_id is required", ErrInvalidReference)
		}
	case ManualReference:
		if strings.TrimSpace(v.Reason) == "" {
			return fmt.Errorf("%w: reason is required", ErrInvalidReference)
		}
	}
	return nil
}

// UnmarshalJSON restores Reference as the concrete payload named by
// reference_type.
func (e *CommissionEntry) UnmarshalJSON(data []byte) error {
	type plain CommissionEntry
	aux := struct {
		*plain
		Reference json.RawMessage `json:"reference,omitempty"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ref, err := DecodeReference(e.ReferenceType, aux.Reference)
	if err != nil {
		return err
	}
	e.Reference = ref
	return nil
}
