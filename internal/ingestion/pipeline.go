// Package ingestion populates the retrieval indexes. Knowledge documents
// (procedure descriptions, policies, FAQ pages) are chunked, embedded, and
// upserted into both the vector and keyword indexes; structured clinic
// rows are rendered to text and indexed the same way so past appointments
// and financial history are reachable through hybrid retrieval. Invoked by
// the `clinvia ingest` CLI command and the administrative sync endpoint.
package ingestion

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/clinvia/assist/internal/clinic"
	"github.com/clinvia/assist/internal/rag"
)

// Document is one knowledge source to be ingested.
type Document struct {
	// URI identifies the document (file path or URL); it becomes the
	// Source of every chunk and the key for re-ingestion.
	URI string

	// Content is the full document text.
	Content string

	// TenantID scopes the document to one clinic.
	TenantID string

	// AccessLevel is the minimum role allowed to retrieve the document
	// (public, staff, admin). Defaults to staff.
	AccessLevel string

	// Metadata is carried through to every chunk.
	Metadata map[string]string
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per document chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters to overlap between
	// consecutive chunks. Defaults to 100 if zero.
	ChunkOverlap int

	// SyncBatch is how many structured rows are rendered per table during
	// a sync. Defaults to 500 if zero.
	SyncBatch int
}

// Pipeline orchestrates the chunk → embed → upsert flow into both
// retrieval indexes.
type Pipeline struct {
	embedder rag.Embedder
	vectors  rag.VectorIndex
	keywords rag.KeywordIndex
	cfg      *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, vectors rag.VectorIndex, keywords rag.KeywordIndex, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if vectors == nil {
		return nil, fmt.Errorf("ingestion: vector index must not be nil")
	}
	if keywords == nil {
		return nil, fmt.Errorf("ingestion: keyword index must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.SyncBatch <= 0 {
		cfg.SyncBatch = 500
	}

	return &Pipeline{
		embedder: embedder,
		vectors:  vectors,
		keywords: keywords,
		cfg:      cfg,
	}, nil
}

// IngestDocuments chunks, embeds and indexes the given documents. Each
// document's prior chunks are removed first, so re-ingesting an updated
// document never leaves stale chunks behind. Processing is sequential and
// the first error stops the run. Progress is reported via the optional
// callback.
func (p *Pipeline) IngestDocuments(ctx context.Context, docs []Document, progress func(msg string)) error {
	if progress == nil {
		progress = func(string) {}
	}

	for _, doc := range docs {
		if doc.TenantID == "" {
			return fmt.Errorf("ingestion: document %s has no tenant", doc.URI)
		}
		level := doc.AccessLevel
		if level == "" {
			level = "staff"
		}

		chunks := p.chunk(doc.Content)
		if len(chunks) == 0 {
			progress(fmt.Sprintf("skipping empty document %s", doc.URI))
			continue
		}
		progress(fmt.Sprintf("chunked %s into %d chunks", doc.URI, len(chunks)))

		recs := make([]rag.Record, 0, len(chunks))
		for i, chunk := range chunks {
			meta := map[string]string{"chunk_index": fmt.Sprintf("%d", i)}
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			recs = append(recs, rag.Record{
				ID:          chunkID(doc.URI, i),
				Content:     chunk,
				Source:      doc.URI,
				Table:       "knowledge",
				TenantID:    doc.TenantID,
				AccessLevel: level,
				Metadata:    meta,
			})
		}

		if err := p.replace(ctx, doc.TenantID, doc.URI, recs); err != nil {
			return err
		}
		progress(fmt.Sprintf("ingested %d chunks from %s", len(chunks), doc.URI))
	}

	return nil
}

// SyncClinicData renders the tenant's structured rows into the retrieval
// indexes, so appointment history and financial entries are reachable
// through hybrid search. Each table is replaced wholesale.
func (p *Pipeline) SyncClinicData(ctx context.Context, data clinic.Datastore, tenantID string, progress func(msg string)) error {
	if progress == nil {
		progress = func(string) {}
	}
	if tenantID == "" {
		return fmt.Errorf("ingestion: tenant id must not be empty")
	}

	clients, err := data.SearchClients(ctx, tenantID, "", p.cfg.SyncBatch)
	if err != nil {
		return fmt.Errorf("ingestion: load clients: %w", err)
	}
	recs := make([]rag.Record, 0, len(clients))
	for _, c := range clients {
		recs = append(recs, clientRecord(c))
	}
	if err := p.replace(ctx, tenantID, "clients", recs); err != nil {
		return err
	}
	progress(fmt.Sprintf("synced %d client rows", len(recs)))

	appts, err := data.AppointmentHistory(ctx, tenantID, p.cfg.SyncBatch)
	if err != nil {
		return fmt.Errorf("ingestion: load appointments: %w", err)
	}
	recs = recs[:0]
	for _, a := range appts {
		recs = append(recs, appointmentRecord(a))
	}
	if err := p.replace(ctx, tenantID, "appointments", recs); err != nil {
		return err
	}
	progress(fmt.Sprintf("synced %d appointment rows", len(recs)))

	fins, err := data.FinancialRecords(ctx, tenantID, "", "", p.cfg.SyncBatch)
	if err != nil {
		return fmt.Errorf("ingestion: load financial records: %w", err)
	}
	recs = recs[:0]
	for _, f := range fins {
		recs = append(recs, financialRecord(f))
	}
	if err := p.replace(ctx, tenantID, "financial_records", recs); err != nil {
		return err
	}
	progress(fmt.Sprintf("synced %d financial rows", len(recs)))

	return nil
}

// replace swaps the records under one source in both indexes.
func (p *Pipeline) replace(ctx context.Context, tenantID, source string, recs []rag.Record) error {
	if err := p.vectors.DeleteBySource(ctx, tenantID, source); err != nil {
		return fmt.Errorf("ingestion: clear %s in vector index: %w", source, err)
	}
	if err := p.keywords.DeleteBySource(ctx, tenantID, source); err != nil {
		return fmt.Errorf("ingestion: clear %s in keyword index: %w", source, err)
	}
	if len(recs) == 0 {
		return nil
	}

	texts := make([]string, len(recs))
	for i, rec := range recs {
		texts[i] = rec.Content
	}
	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("ingestion: embedding failed for %s: %w", source, err)
	}

	if err := p.vectors.Upsert(ctx, recs, embeddings); err != nil {
		return fmt.Errorf("ingestion: upsert %s into vector index: %w", source, err)
	}
	if err := p.keywords.Index(ctx, recs); err != nil {
		return fmt.Errorf("ingestion: index %s into keyword index: %w", source, err)
	}
	return nil
}

// chunk splits text into overlapping chunks of cfg.ChunkSize characters.
func (p *Pipeline) chunk(text string) []string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}

	var chunks []string
	size := p.cfg.ChunkSize
	overlap := p.cfg.ChunkOverlap

	for start := 0; start < len(text); start += size - overlap {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}

	return chunks
}

// chunkID generates a deterministic ID for a document chunk based on its
// source URI and chunk index.
func chunkID(source string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", source, index)))
	return fmt.Sprintf("%x", h[:16])
}
