package rag

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"
)

// BleveIndex implements KeywordIndex with one in-memory bleve index per
// tenant, so term queries can never match across clinic boundaries. The
// source records are kept alongside the index for rehydration and
// access-level filtering of hits.
type BleveIndex struct {
	mu      sync.RWMutex
	tenants map[string]*tenantIndex
}

// tenantIndex is the per-clinic slice of the keyword store.
type tenantIndex struct {
	index bleve.Index
	recs  map[string]Record
}

// indexedDoc is the shape bleve analyses. Only Content is queried; the
// rest of the record lives in the recs map.
type indexedDoc struct {
	Content string `json:"content"`
}

// NewBleveIndex constructs an empty keyword index.
func NewBleveIndex() *BleveIndex {
	return &BleveIndex{tenants: make(map[string]*tenantIndex)}
}

// tenant returns the index slice for tenantID, creating it on first use.
func (b *BleveIndex) tenant(tenantID string) (*tenantIndex, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.tenants[tenantID]; ok {
		return t, nil
	}
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("keyword: create index for tenant %q: %w", tenantID, err)
	}
	t := &tenantIndex{index: idx, recs: make(map[string]Record)}
	b.tenants[tenantID] = t
	return t, nil
}

// Index adds or replaces a batch of records.
func (b *BleveIndex) Index(ctx context.Context, recs []Record) error {
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.TenantID == "" {
			return fmt.Errorf("keyword: record %q has no tenant id", rec.ID)
		}

		t, err := b.tenant(rec.TenantID)
		if err != nil {
			return err
		}
		if err := t.index.Index(rec.ID, indexedDoc{Content: rec.Content}); err != nil {
			return fmt.Errorf("keyword: index record %q: %w", rec.ID, err)
		}

		b.mu.Lock()
		t.recs[rec.ID] = rec
		b.mu.Unlock()
	}
	return nil
}

// Search returns the top-k best term matches for the query within one
// tenant, filtered by access level and table. Scores are normalized to
// [0,1] relative to the best hit so they can be merged with cosine
// similarities.
func (b *BleveIndex) Search(ctx context.Context, query string, f Filter, topK int) ([]SearchResult, error) {
	if f.TenantID == "" {
		return nil, fmt.Errorf("keyword: search requires a tenant id")
	}

	b.mu.RLock()
	t, ok := b.tenants[f.TenantID]
	b.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	// Over-fetch so post-filtering by access level still fills topK.
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, topK*3, 0, false)
	res, err := t.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword: search failed: %w", err)
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}

	allowed := make(map[string]bool, len(f.AccessLevels))
	for _, lvl := range f.AccessLevels {
		allowed[lvl] = true
	}
	if len(allowed) == 0 {
		allowed["public"] = true
	}
	tables := make(map[string]bool, len(f.Tables))
	for _, tbl := range f.Tables {
		tables[tbl] = true
	}

	maxScore := res.Hits[0].Score

	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]SearchResult, 0, topK)
	for _, hit := range res.Hits {
		rec, ok := t.recs[hit.ID]
		if !ok {
			continue
		}
		if !allowed[rec.AccessLevel] {
			continue
		}
		if len(tables) > 0 && !tables[rec.Table] {
			continue
		}

		score := float32(0)
		if maxScore > 0 {
			score = float32(hit.Score / maxScore)
		}
		out = append(out, SearchResult{Record: rec, Score: score, Origin: "keyword"})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// DeleteBySource removes every record of one tenant ingested from the
// given source.
func (b *BleveIndex) DeleteBySource(_ context.Context, tenantID, source string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tenants[tenantID]
	if !ok {
		return nil
	}
	for id, rec := range t.recs {
		if rec.Source != source {
			continue
		}
		if err := t.index.Delete(id); err != nil {
			return fmt.Errorf("keyword: delete record %q: %w", id, err)
		}
		delete(t.recs, id)
	}
	return nil
}

// Close releases every tenant index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for id, t := range b.tenants {
		if err := t.index.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("keyword: close index for tenant %q: %w", id, err)
		}
	}
	b.tenants = make(map[string]*tenantIndex)
	return firstErr
}
