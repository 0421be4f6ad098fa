package ingestion

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/clinvia/assist/internal/clinic"
	"github.com/clinvia/assist/internal/rag"
)

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeVectorIndex struct {
	upserted []rag.Record
	deleted  []string // "tenant/source" pairs
}

func (f *fakeVectorIndex) Upsert(_ context.Context, recs []rag.Record, embeddings [][]float32) error {
	f.upserted = append(f.upserted, recs...)
	return nil
}

func (f *fakeVectorIndex) Search(context.Context, []float32, rag.Filter, int) ([]rag.SearchResult, error) {
	return nil, nil
}

func (f *fakeVectorIndex) Delete(context.Context, []string) error { return nil }

func (f *fakeVectorIndex) DeleteBySource(_ context.Context, tenantID, source string) error {
	f.deleted = append(f.deleted, tenantID+"/"+source)
	return nil
}

func (f *fakeVectorIndex) Close() error { return nil }

type fakeKeywordIndex struct {
	indexed []rag.Record
	deleted []string
}

func (f *fakeKeywordIndex) Index(_ context.Context, recs []rag.Record) error {
	f.indexed = append(f.indexed, recs...)
	return nil
}

func (f *fakeKeywordIndex) Search(context.Context, string, rag.Filter, int) ([]rag.SearchResult, error) {
	return nil, nil
}

func (f *fakeKeywordIndex) DeleteBySource(_ context.Context, tenantID, source string) error {
	f.deleted = append(f.deleted, tenantID+"/"+source)
	return nil
}

func (f *fakeKeywordIndex) Close() error { return nil }

func newTestPipeline(t *testing.T, cfg *Config) (*Pipeline, *fakeVectorIndex, *fakeKeywordIndex) {
	t.Helper()
	vectors := &fakeVectorIndex{}
	keywords := &fakeKeywordIndex{}
	p, err := NewPipeline(&fakeEmbedder{}, vectors, keywords, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p, vectors, keywords
}

func TestChunkOverlap(t *testing.T) {
	p, _, _ := newTestPipeline(t, &Config{ChunkSize: 10, ChunkOverlap: 3})

	chunks := p.chunk("abcdefghijklmnopqrst")
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if chunks[0] != "abcdefghij" {
		t.Errorf("chunk[0] = %q", chunks[0])
	}
	// Consecutive chunks share the overlap region.
	if !strings.HasPrefix(chunks[1], chunks[0][7:]) {
		t.Errorf("chunk[1] = %q does not overlap chunk[0] = %q", chunks[1], chunks[0])
	}
}

func TestChunkShortText(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)

	chunks := p.chunk("  um texto curto  ")
	if len(chunks) != 1 || chunks[0] != "um texto curto" {
		t.Errorf("chunks = %v", chunks)
	}
	if got := p.chunk("   "); got != nil {
		t.Errorf("blank text produced chunks: %v", got)
	}
}

func TestIngestDocuments(t *testing.T) {
	p, vectors, keywords := newTestPipeline(t, &Config{ChunkSize: 50, ChunkOverlap: 0})

	doc := Document{
		URI:      "docs/botox-faq.md",
		Content:  strings.Repeat("O procedimento de botox dura trinta minutos. ", 4),
		TenantID: "clinic-1",
		Metadata: map[string]string{"category": "faq"},
	}
	var progress []string
	err := p.IngestDocuments(context.Background(), []Document{doc}, func(msg string) {
		progress = append(progress, msg)
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(vectors.upserted) == 0 || len(vectors.upserted) != len(keywords.indexed) {
		t.Fatalf("vector upserts = %d, keyword indexed = %d", len(vectors.upserted), len(keywords.indexed))
	}
	rec := vectors.upserted[0]
	if rec.TenantID != "clinic-1" || rec.Source != "docs/botox-faq.md" || rec.Table != "knowledge" {
		t.Errorf("record = %+v", rec)
	}
	if rec.AccessLevel != "staff" {
		t.Errorf("AccessLevel = %q, want staff default", rec.AccessLevel)
	}
	if rec.Metadata["category"] != "faq" || rec.Metadata["chunk_index"] != "0" {
		t.Errorf("Metadata = %v", rec.Metadata)
	}
	if rec.ID != chunkID(doc.URI, 0) {
		t.Errorf("ID = %q, want deterministic chunk id", rec.ID)
	}

	// Prior chunks are cleared before the new ones land.
	if len(vectors.deleted) != 1 || vectors.deleted[0] != "clinic-1/docs/botox-faq.md" {
		t.Errorf("vector deletes = %v", vectors.deleted)
	}
	if len(progress) == 0 {
		t.Error("no progress reported")
	}
}

func TestIngestDocumentsRequiresTenant(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)

	err := p.IngestDocuments(context.Background(), []Document{{URI: "x", Content: "y"}}, nil)
	if err == nil {
		t.Fatal("expected error for missing tenant")
	}
}

func TestChunkIDDeterministic(t *testing.T) {
	a := chunkID("docs/a.md", 3)
	if a != chunkID("docs/a.md", 3) {
		t.Error("chunk id is not deterministic")
	}
	if a == chunkID("docs/a.md", 4) || a == chunkID("docs/b.md", 3) {
		t.Error("chunk id collides across sources or indexes")
	}
}

func TestSyncClinicData(t *testing.T) {
	data, err := clinic.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer data.Close()

	ctx := context.Background()
	if err := data.PutClient(ctx, clinic.Client{
		ID: "c1", TenantID: "clinic-1", Name: "Maria Silva", CPF: "12345678900",
	}); err != nil {
		t.Fatal(err)
	}
	if err := data.PutAppointment(ctx, clinic.Appointment{
		ID: "a1", TenantID: "clinic-1", ClientName: "Maria Silva",
		Procedure: "Limpeza de pele", ScheduledAt: time.Now().Add(-24 * time.Hour),
		Status: "completed",
	}); err != nil {
		t.Fatal(err)
	}
	if err := data.PutFinancialRecord(ctx, clinic.FinancialRecord{
		ID: "f1", TenantID: "clinic-1", ClientName: "Maria Silva",
		Description: "Sessão de botox", AmountCents: 35000, Status: "pending",
		DueDate: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	p, vectors, keywords := newTestPipeline(t, nil)
	if err := p.SyncClinicData(ctx, data, "clinic-1", nil); err != nil {
		t.Fatal(err)
	}

	if len(vectors.upserted) != 3 || len(keywords.indexed) != 3 {
		t.Fatalf("upserted = %d, indexed = %d, want 3 rows each", len(vectors.upserted), len(keywords.indexed))
	}

	bySource := map[string]rag.Record{}
	for _, rec := range vectors.upserted {
		bySource[rec.Source] = rec
	}
	if rec, ok := bySource["appointments"]; !ok {
		t.Error("appointment row missing")
	} else if !strings.Contains(rec.Content, "concluída") {
		t.Errorf("completed appointment not described as past: %q", rec.Content)
	}
	if rec, ok := bySource["financial_records"]; !ok {
		t.Error("financial row missing")
	} else if rec.AccessLevel != "admin" {
		t.Errorf("financial AccessLevel = %q", rec.AccessLevel)
	}
	if rec, ok := bySource["clients"]; !ok {
		t.Error("client row missing")
	} else if !strings.Contains(rec.Content, "Maria Silva") {
		t.Errorf("client content = %q", rec.Content)
	}

	// Each table was cleared once in each index.
	if len(vectors.deleted) != 3 || len(keywords.deleted) != 3 {
		t.Errorf("vector deletes = %v, keyword deletes = %v", vectors.deleted, keywords.deleted)
	}
}

func TestSyncClinicDataRequiresTenant(t *testing.T) {
	data, err := clinic.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer data.Close()

	p, _, _ := newTestPipeline(t, nil)
	if err := p.SyncClinicData(context.Background(), data, "", nil); err == nil {
		t.Fatal("expected error for empty tenant")
	}
}
