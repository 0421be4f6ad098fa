package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements VectorIndex backed by a Qdrant instance. All
// records of all tenants share one collection; tenant and access-level
// isolation is enforced through payload filters on every query.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex creates a new QdrantIndex, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorIndex.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return idx, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// Upsert stores or updates a batch of records with their embeddings.
// embeddings[i] must be the vector for recs[i].
func (s *QdrantIndex) Upsert(ctx context.Context, recs []Record, embeddings [][]float32) error {
	if len(recs) != len(embeddings) {
		return fmt.Errorf("qdrant: %d records but %d embeddings", len(recs), len(embeddings))
	}

	points := make([]*qdrant.PointStruct, 0, len(recs))
	for i, rec := range recs {
		payload := map[string]interface{}{
			"content":      rec.Content,
			"source":       rec.Source,
			"table":        rec.Table,
			"tenant_id":    rec.TenantID,
			"access_level": rec.AccessLevel,
		}
		for k, v := range rec.Metadata {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(rec.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// filterConditions translates a Filter into Qdrant payload conditions.
// The tenant condition is always present so an empty filter can never
// widen a query across clinics.
func filterConditions(f Filter) *qdrant.Filter {
	must := []*qdrant.Condition{
		qdrant.NewMatch("tenant_id", f.TenantID),
	}
	if len(f.AccessLevels) > 0 {
		must = append(must, qdrant.NewMatchKeywords("access_level", f.AccessLevels...))
	} else {
		must = append(must, qdrant.NewMatch("access_level", "public"))
	}
	if len(f.Tables) > 0 {
		must = append(must, qdrant.NewMatchKeywords("table", f.Tables...))
	}
	return &qdrant.Filter{Must: must}
}

// Search performs a cosine similarity search restricted by the filter and
// returns the top-k results.
func (s *QdrantIndex) Search(ctx context.Context, queryEmbedding []float32, f Filter, topK int) ([]SearchResult, error) {
	if f.TenantID == "" {
		return nil, fmt.Errorf("qdrant: search requires a tenant id")
	}

	limit := uint64(topK)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Filter:         filterConditions(f),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	out := make([]SearchResult, 0, len(points))
	for _, p := range points {
		rec := Record{
			ID:       p.Id.GetUuid(),
			Metadata: make(map[string]string),
		}
		for k, v := range p.Payload {
			switch k {
			case "content":
				rec.Content = v.GetStringValue()
			case "source":
				rec.Source = v.GetStringValue()
			case "table":
				rec.Table = v.GetStringValue()
			case "tenant_id":
				rec.TenantID = v.GetStringValue()
			case "access_level":
				rec.AccessLevel = v.GetStringValue()
			default:
				rec.Metadata[k] = v.GetStringValue()
			}
		}
		out = append(out, SearchResult{Record: rec, Score: p.Score, Origin: "semantic"})
	}

	return out, nil
}

// Delete removes records from the collection by their IDs.
func (s *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}

	return nil
}

// DeleteBySource removes every record of one tenant ingested from the
// given source, used when a document is withdrawn.
func (s *QdrantIndex) DeleteBySource(ctx context.Context, tenantID, source string) error {
	if tenantID == "" {
		return fmt.Errorf("qdrant: delete by source requires a tenant id")
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("tenant_id", tenantID),
				qdrant.NewMatch("source", source),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete by source %q failed: %w", source, err)
	}

	return nil
}

// Ping probes the Qdrant instance with its native HealthCheck RPC.
func (s *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}
