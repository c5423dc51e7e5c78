package settlement

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

const (
	exportPageSize   = 500
	exportTimeLayout = "2006-01-02 15:04:05"
)

var exportHeader = []string{"ID", "User ID", "Amount", "Commission IDs", "Created At", "Status"}

// ExportSettlements writes every settlement matching filter to w as CSV,
// newest first. filter.Limit and filter.Cursor are ignored.
func (p *Processor) ExportSettlements(ctx context.Context, filter storage.SettlementFilter, w io.Writer) (int, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader); err != nil {
		return 0, err
	}

	filter.Limit = exportPageSize
	filter.Cursor = ""
	written := 0
	for {
		page, next, err := p.store.ListSettlements(ctx, filter)
		if err != nil {
			return written, fmt.Errorf("list settlements: %w", err)
		}
		for _, s := range page {
			if err := writer.Write(exportRow(s)); err != nil {
				return written, err
			}
			written++
		}
		if next == "" {
			break
		}
		filter.Cursor = next
	}

	writer.Flush()
	return written, writer.Error()
}

func exportRow(s storage.Settlement) []string {
	ids := make([]string, 0, len(s.Metadata.CommissionIDs))
	for _, id := range s.Metadata.CommissionIDs {
		ids = append(ids, id.String())
	}
	return []string{
		s.ID.String(),
		s.UserID.String(),
		s.Amount.String(),
		strings.Join(ids, ","),
		s.CreatedAt.UTC().Format(exportTimeLayout),
		string(s.Status),
	}
}
