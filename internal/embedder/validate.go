package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clinvia/assist/internal/rag"
)

// knownChatModelPrefixes contains name fragments that identify chat models
// which are NOT suitable for embedding. If the configured embedding model
// matches any of these, a warning is emitted so the operator knows they
// may have misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check for the embedding configuration: it warns
// when the configured model looks like a chat model, and when wantDims > 0
// it embeds a probe text and fails if the produced dimension does not match
// the vector collection. Call it at startup so operators get a clear error
// instead of a cryptic upsert failure during the first ingestion.
func Validate(ctx context.Context, emb rag.Embedder, cfg Config, wantDims int, log *slog.Logger) error {
	if cfg.Model != "" && looksLikeChatModel(cfg.Model) {
		log.Warn("embedding model looks like a chat model, not an embedding model — "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}

	if wantDims <= 0 {
		return nil
	}

	vecs, err := emb.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return fmt.Errorf("embedder: dimension probe failed: %w", err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("embedder: dimension probe returned %d vectors, want 1", len(vecs))
	}
	if got := len(vecs[0]); got != wantDims {
		return fmt.Errorf("embedder: model produces %d-dimensional vectors but the collection expects %d — "+
			"recreate the collection or fix the embedding configuration", got, wantDims)
	}
	return nil
}
