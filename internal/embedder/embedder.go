// Package embedder provides implementations of the rag.Embedder interface
// for converting clinic records and user queries into dense vector
// embeddings. Each implementation talks to a different backend (OpenAI,
// Azure OpenAI, Ollama) via plain HTTP — no additional SDK dependencies
// are required. All embedders returned by New are wrapped to batch large
// inputs, rate-limit outbound calls, and L2-normalize every vector so
// cosine scores from the vector store land in [0,1].
package embedder

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/time/rate"

	"github.com/clinvia/assist/internal/rag"
)

// defaultBatchSize caps how many texts go to the backend in one request.
const defaultBatchSize = 32

// normalize scales vec to unit length in place. Zero vectors are left
// untouched rather than divided by zero.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// pipelineEmbedder wraps a raw backend embedder with batching, rate
// limiting and normalization. It is the only Embedder shape the rest of
// the system sees.
type pipelineEmbedder struct {
	inner     rag.Embedder
	batchSize int
	limiter   *rate.Limiter
}

// wrap builds the standard pipeline around a raw backend embedder.
// requestsPerSecond <= 0 disables rate limiting.
func wrap(inner rag.Embedder, batchSize int, requestsPerSecond float64) rag.Embedder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &pipelineEmbedder{inner: inner, batchSize: batchSize, limiter: limiter}
}

// Embed splits texts into backend-sized batches, waits out the rate
// limiter between calls, and normalizes every returned vector.
func (p *pipelineEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("embedder: rate limit wait: %w", err)
			}
		}

		batch, err := p.inner.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedder: expected %d embeddings, got %d", end-start, len(batch))
		}
		for _, vec := range batch {
			normalize(vec)
		}
		out = append(out, batch...)
	}
	return out, nil
}
