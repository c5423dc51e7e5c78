package main

import (
	"testing"

	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

func TestExportFilter(t *testing.T) {
	filter, err := exportFilter("00000000-0000-0000-0000-000000000001", "completed", "2024-01-01T00:00:00Z", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filter.UserID == nil || filter.Status != storage.SettlementStatusCompleted || filter.From.IsZero() || !filter.To.IsZero() {
		t.Fatalf("unexpected filter %+v", filter)
	}

	for _, tc := range []struct {
		name                   string
		user, status, from, to string
	}{
		{name: "user", user: "nope"},
		{name: "status", status: "settled"},
		{name: "from", from: "yesterday"},
		{name: "to", to: "2024-13-01"},
	} {
		if _, err := exportFilter(tc.user, tc.status, tc.from, tc.to); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()
	want := map[string]bool{"serve": false, "settle": false, "export": false, "migrate": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %s", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Fatalf("missing --config flag")
	}
}
