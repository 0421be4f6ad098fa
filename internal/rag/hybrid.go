package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/clinvia/assist/internal/logging"
)

// HybridConfig tunes the combined retriever. Zero values select defaults.
type HybridConfig struct {
	// SemanticWeight scales cosine-similarity scores. Default 0.7.
	SemanticWeight float32

	// KeywordWeight scales normalized term-match scores. Default 0.3.
	KeywordWeight float32

	// ScoreThreshold drops semantic hits scoring below it before merging.
	// Keyword hits are not thresholded; an exact term match is relevant
	// even when the embedding neighbourhood is sparse. Default 0.7.
	ScoreThreshold float32

	// TopK is the fallback result count when the caller passes 0. Default 5.
	TopK int
}

// withDefaults fills unset fields in place. A threshold of exactly 0 is a
// valid setting, so NoThreshold must be used to express it.
func (c *HybridConfig) withDefaults() {
	if c.SemanticWeight == 0 && c.KeywordWeight == 0 {
		c.SemanticWeight = 0.7
		c.KeywordWeight = 0.3
	}
	if c.ScoreThreshold == 0 {
		c.ScoreThreshold = 0.7
	}
	if c.ScoreThreshold == NoThreshold {
		c.ScoreThreshold = 0
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
}

// NoThreshold disables the semantic score threshold when assigned to
// HybridConfig.ScoreThreshold.
const NoThreshold float32 = -1

// HybridRetriever implements Retriever by fusing semantic and keyword
// search. Both paths run for every query; either may fail without failing
// the retrieval, but when no working path remains the error propagates so
// the assistant can degrade explicitly instead of answering ungrounded.
type HybridRetriever struct {
	embedder Embedder
	vectors  VectorIndex
	keywords KeywordIndex
	cfg      HybridConfig
}

// NewHybridRetriever constructs a HybridRetriever. embedder and vectors
// are required; keywords may be nil to run semantic-only.
func NewHybridRetriever(embedder Embedder, vectors VectorIndex, keywords KeywordIndex, cfg HybridConfig) (*HybridRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if vectors == nil {
		return nil, fmt.Errorf("rag: vector index must not be nil")
	}
	cfg.withDefaults()
	return &HybridRetriever{
		embedder: embedder,
		vectors:  vectors,
		keywords: keywords,
		cfg:      cfg,
	}, nil
}

// Retrieve runs both search paths and merges their scores per record:
// combined = semanticWeight*semantic + keywordWeight*keyword. Results come
// back sorted by combined score, truncated to topK.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, f Filter, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	log := logging.FromContext(ctx)

	// Over-fetch on both paths so the merge has enough candidates after
	// thresholding.
	fetch := topK * 2

	semantic, semErr := r.searchSemantic(ctx, query, f, fetch)
	if semErr != nil {
		// Without a keyword path there is nothing to degrade to; the
		// caller must see a failure, not an empty result set.
		if r.keywords == nil {
			return nil, fmt.Errorf("rag: semantic search failed: %w", semErr)
		}
		log.Warn("semantic search failed, degrading to keyword only",
			slog.Any("error", semErr),
		)
	}

	var keyword []SearchResult
	var kwErr error
	if r.keywords != nil {
		keyword, kwErr = r.keywords.Search(ctx, query, f, fetch)
		if kwErr != nil {
			log.Warn("keyword search failed, degrading to semantic only",
				slog.Any("error", kwErr),
			)
		}
	}

	if semErr != nil && kwErr != nil {
		return nil, fmt.Errorf("rag: both search paths failed: %w", semErr)
	}

	merged := make(map[string]*SearchResult, len(semantic)+len(keyword))
	for _, res := range semantic {
		if res.Score < r.cfg.ScoreThreshold {
			continue
		}
		res.Score *= r.cfg.SemanticWeight
		res.Origin = "hybrid"
		cp := res
		merged[res.Record.ID] = &cp
	}
	for _, res := range keyword {
		if prev, ok := merged[res.Record.ID]; ok {
			prev.Score += res.Score * r.cfg.KeywordWeight
			continue
		}
		res.Score *= r.cfg.KeywordWeight
		res.Origin = "hybrid"
		cp := res
		merged[res.Record.ID] = &cp
	}

	out := make([]SearchResult, 0, len(merged))
	for _, res := range merged {
		out = append(out, *res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// searchSemantic embeds the query and runs the vector path.
func (r *HybridRetriever) searchSemantic(ctx context.Context, query string, f Filter, topK int) ([]SearchResult, error) {
	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}
	return r.vectors.Search(ctx, embeddings[0], f, topK)
}
