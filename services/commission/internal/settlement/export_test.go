package settlement

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

type pagedStore struct {
	Store
	pages [][]storage.Settlement
	calls int
}

func (p *pagedStore) ListSettlements(ctx context.Context, filter storage.SettlementFilter) ([]storage.Settlement, string, error) {
	idx := p.calls
	p.calls++
	var next string
	if idx+1 < len(p.pages) {
		next = "page-" + string(rune('a'+idx))
	}
	return p.pages[idx], next, nil
}

func TestExportRowFormat(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	s := storage.Settlement{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Amount:    decimal.RequireFromString("90.5"),
		Status:    storage.SettlementStatusPending,
		CreatedAt: time.Date(2024, 5, 6, 7, 8, 9, 500, time.FixedZone("UTC+2", 2*3600)),
		Metadata:  storage.SettlementMetadata{CommissionIDs: []uuid.UUID{a, b}},
	}
	row := exportRow(s)
	if row[2] != "90.5" || row[3] != a.String()+","+b.String() || row[4] != "2024-05-06 05:08:09" || row[5] != "pending" {
		t.Fatalf("unexpected row: %v", row)
	}
}

func TestExportSettlementsPagesThroughAll(t *testing.T) {
	mk := func() storage.Settlement {
		return storage.Settlement{ID: uuid.New(), UserID: uuid.New(), Amount: decimal.NewFromInt(1), Status: storage.SettlementStatusCompleted}
	}
	store := &pagedStore{pages: [][]storage.Settlement{{mk(), mk()}, {mk()}}}
	p := NewProcessor(store, nil, nil, nil, nil, nil, Config{})

	var buf bytes.Buffer
	n, err := p.ExportSettlements(context.Background(), storage.SettlementFilter{Limit: 1, Cursor: "ignored"}, &buf)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 3 || store.calls != 2 {
		t.Fatalf("expected 3 rows over 2 pages, got %d rows %d calls", n, store.calls)
	}

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 4 || strings.Join(records[0], "|") != "ID|User ID|Amount|Commission IDs|Created At|Status" {
		t.Fatalf("unexpected csv: %v", records)
	}
}
