package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clinvia/assist/internal/clinic"
	"github.com/clinvia/assist/internal/embedder"
	"github.com/clinvia/assist/internal/ingestion"
	"github.com/clinvia/assist/internal/logging"
)

// NewIngestCmd constructs the `clinvia ingest` command, which populates the
// retrieval indexes: either from knowledge documents on disk, or by
// re-rendering a tenant's structured clinic rows with --sync.
func NewIngestCmd() *cobra.Command {
	var tenantID string
	var accessLevel string
	var files []string
	var sync bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest knowledge documents or sync clinic data into the retrieval indexes",
		Long: `Populate the vector and keyword indexes the assistant retrieves from.

Two modes:
  --file     chunk, embed, and index markdown/text documents (repeatable)
  --sync     re-render the tenant's clients, appointments, and financial
             records into the indexes

Documents are scoped to one tenant and one access level; retrieval enforces
both on every query.

Examples:
  clinvia ingest --tenant clinic-1 --file docs/procedimentos.md --file docs/faq.md
  clinvia ingest --tenant clinic-1 --file politicas.md --access-level admin
  clinvia ingest --tenant clinic-1 --sync`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := loadedCfg
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if tenantID == "" {
				return fmt.Errorf("ingest: --tenant is required")
			}
			if !sync && len(files) == 0 {
				return fmt.Errorf("ingest: either --sync or at least one --file is required")
			}

			ret, err := buildRetrieval(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer ret.close()

			if err := embedder.Validate(ctx, ret.embedder, cfg.Embedding, cfg.Embedding.Dimensions, log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			pipeline, err := ingestion.NewPipeline(ret.embedder, ret.vectors, ret.keywords, nil)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			progress := func(msg string) { fmt.Println(msg) }

			if sync {
				clinicDB, err := clinic.Open(cfg.Storage.ClinicDB)
				if err != nil {
					return fmt.Errorf("ingest: open clinic datastore: %w", err)
				}
				defer func() { _ = clinicDB.Close() }()

				if err := pipeline.SyncClinicData(ctx, clinicDB, tenantID, progress); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				fmt.Println("clinic data synced")
				return nil
			}

			docs := make([]ingestion.Document, 0, len(files))
			for _, path := range files {
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ingest: read %s: %w", path, err)
				}
				docs = append(docs, ingestion.Document{
					URI:         filepath.ToSlash(path),
					Content:     string(content),
					TenantID:    tenantID,
					AccessLevel: accessLevel,
				})
			}

			if err := pipeline.IngestDocuments(ctx, docs, progress); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			fmt.Printf("ingested %d document(s)\n", len(docs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant (clinic) the data belongs to")
	cmd.Flags().StringVar(&accessLevel, "access-level", "staff", "Access level required to retrieve the documents: public, staff, admin")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Document file to ingest (repeatable)")
	cmd.Flags().BoolVar(&sync, "sync", false, "Re-render the tenant's structured clinic rows into the indexes")

	return cmd
}
