package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clinvia/assist/internal/assistant"
	"github.com/clinvia/assist/internal/config"
	"github.com/clinvia/assist/internal/embedder"
	"github.com/clinvia/assist/internal/rag"
)

// retrieval bundles the pieces every retrieval-touching command needs.
type retrieval struct {
	embedder  rag.Embedder
	vectors   *rag.QdrantIndex
	keywords  *rag.BleveIndex
	retriever *rag.HybridRetriever
}

// close releases both indexes.
func (r *retrieval) close() {
	_ = r.keywords.Close()
	_ = r.vectors.Close()
}

// buildRetrieval wires the embedder, the Qdrant vector index, the in-memory
// keyword index, and the hybrid retriever on top of them.
func buildRetrieval(ctx context.Context, cfg *config.Config, log *slog.Logger) (*retrieval, error) {
	emb, err := embedder.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("initialise embedder: %w", err)
	}

	dims := cfg.Embedding.Dimensions
	if dims <= 0 {
		dims = embedder.DefaultDimensions(cfg.Embedding.Provider)
	}

	vectors, err := rag.NewQdrantIndex(ctx, &rag.QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		Collection: cfg.Qdrant.Collection,
		VectorSize: uint64(dims),
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant at %s:%d: %w", cfg.Qdrant.Host, cfg.Qdrant.Port, err)
	}
	log.Info("qdrant index ready",
		slog.String("host", cfg.Qdrant.Host),
		slog.Int("port", cfg.Qdrant.Port),
		slog.String("collection", cfg.Qdrant.Collection),
	)

	keywords := rag.NewBleveIndex()

	retriever, err := rag.NewHybridRetriever(emb, vectors, keywords, rag.HybridConfig{
		SemanticWeight: cfg.Retrieval.SemanticWeight,
		KeywordWeight:  cfg.Retrieval.KeywordWeight,
		ScoreThreshold: cfg.Retrieval.ScoreThreshold,
		TopK:           cfg.Retrieval.TopK,
	})
	if err != nil {
		_ = vectors.Close()
		return nil, fmt.Errorf("build retriever: %w", err)
	}

	return &retrieval{
		embedder:  emb,
		vectors:   vectors,
		keywords:  keywords,
		retriever: retriever,
	}, nil
}

// identityResolver maps the identity config onto the assistant's static
// resolver.
func identityResolver(cfg config.IdentityConfig) assistant.StaticIdentities {
	users := make(map[string]assistant.Identity, len(cfg.Users))
	for id, entry := range cfg.Users {
		users[id] = assistant.Identity{TenantID: entry.TenantID, Role: entry.Role}
	}
	return assistant.StaticIdentities{
		Default: assistant.Identity{TenantID: cfg.DefaultTenant, Role: cfg.DefaultRole},
		Users:   users,
	}
}
