package rag

import (
	"context"
	"testing"
)

func seedKeywordIndex(t *testing.T) *BleveIndex {
	t.Helper()
	b := NewBleveIndex()
	t.Cleanup(func() { _ = b.Close() })

	recs := []Record{
		{
			ID: "r1", TenantID: "clinic-1", Table: "clients", AccessLevel: "staff",
			Source:  "clients",
			Content: "Cliente: Maria Silva. Telefone: 11987654321. Último atendimento: limpeza de pele.",
		},
		{
			ID: "r2", TenantID: "clinic-1", Table: "appointments", AccessLevel: "staff",
			Source:  "appointments",
			Content: "Agendamento de Maria Silva: botox em 15/09/2026 com Dra. Costa.",
		},
		{
			ID: "r3", TenantID: "clinic-1", Table: "knowledge", AccessLevel: "public",
			Source:  "docs/faq.md",
			Content: "Perguntas frequentes sobre preparo para procedimentos estéticos.",
		},
		{
			ID: "r4", TenantID: "clinic-2", Table: "clients", AccessLevel: "staff",
			Source:  "clients",
			Content: "Cliente: Maria Oliveira. Telefone: 21912345678.",
		},
	}
	if err := b.Index(context.Background(), recs); err != nil {
		t.Fatalf("Index: %v", err)
	}
	return b
}

func TestKeywordSearchScopedToTenant(t *testing.T) {
	b := seedKeywordIndex(t)

	out, err := b.Search(context.Background(), "Maria", Filter{
		TenantID:     "clinic-1",
		AccessLevels: []string{"public", "staff"},
	}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, res := range out {
		if res.Record.TenantID != "clinic-1" {
			t.Fatalf("result %q leaked from tenant %q", res.Record.ID, res.Record.TenantID)
		}
	}
	if len(out) != 2 {
		t.Fatalf("got %d results, want 2 (r1, r2): %+v", len(out), out)
	}
}

func TestKeywordSearchNormalizesScores(t *testing.T) {
	b := seedKeywordIndex(t)

	out, err := b.Search(context.Background(), "Maria Silva", Filter{
		TenantID:     "clinic-1",
		AccessLevels: []string{"staff"},
	}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("no results")
	}
	if out[0].Score != 1.0 {
		t.Fatalf("top score = %f, want 1.0 after normalization", out[0].Score)
	}
	for _, res := range out {
		if res.Score < 0 || res.Score > 1 {
			t.Fatalf("score %f outside [0,1]", res.Score)
		}
		if res.Origin != "keyword" {
			t.Fatalf("origin = %q, want keyword", res.Origin)
		}
	}
}

func TestKeywordSearchAccessLevels(t *testing.T) {
	b := seedKeywordIndex(t)

	// No explicit levels means public only; staff records are invisible.
	out, err := b.Search(context.Background(), "Maria procedimentos", Filter{TenantID: "clinic-1"}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, res := range out {
		if res.Record.AccessLevel != "public" {
			t.Fatalf("non-public record %q returned without clearance", res.Record.ID)
		}
	}
}

func TestKeywordSearchTableFilter(t *testing.T) {
	b := seedKeywordIndex(t)

	out, err := b.Search(context.Background(), "Maria", Filter{
		TenantID:     "clinic-1",
		AccessLevels: []string{"staff"},
		Tables:       []string{"appointments"},
	}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 1 || out[0].Record.ID != "r2" {
		t.Fatalf("results = %+v, want only r2", out)
	}
}

func TestKeywordSearchUnknownTenant(t *testing.T) {
	b := seedKeywordIndex(t)

	out, err := b.Search(context.Background(), "Maria", Filter{TenantID: "clinic-999"}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("unknown tenant returned %d results", len(out))
	}

	if _, err := b.Search(context.Background(), "Maria", Filter{}, 10); err == nil {
		t.Fatal("search without tenant id accepted")
	}
}

func TestKeywordDeleteBySource(t *testing.T) {
	b := seedKeywordIndex(t)
	ctx := context.Background()

	if err := b.DeleteBySource(ctx, "clinic-1", "clients"); err != nil {
		t.Fatalf("DeleteBySource: %v", err)
	}

	out, err := b.Search(ctx, "Maria", Filter{
		TenantID:     "clinic-1",
		AccessLevels: []string{"staff"},
	}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, res := range out {
		if res.Record.Source == "clients" {
			t.Fatalf("record %q survived source deletion", res.Record.ID)
		}
	}

	// Other tenants keep their records.
	out, err = b.Search(ctx, "Maria", Filter{
		TenantID:     "clinic-2",
		AccessLevels: []string{"staff"},
	}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("clinic-2 results = %+v, want r4 intact", out)
	}
}
