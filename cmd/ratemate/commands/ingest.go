package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ratemate/ratemate-go/internal/embedder"
	"github.com/ratemate/ratemate-go/internal/ingestion"
	"github.com/ratemate/ratemate-go/internal/logging"
)

// NewIngestCmd constructs the `ratemate ingest` command, which loads a
// scraped r/FirstTimeHomeBuyer dump into the corpus database and the Qdrant
// vector store.
func NewIngestCmd() *cobra.Command {
	var file string
	var batchSize int

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a scraped subreddit dump into the corpus",
		Long: `Load a scraped r/FirstTimeHomeBuyer JSON dump into RateMate.

Posts, comments, and attachments are written to the SQLite corpus database,
then each item is embedded and upserted into its Qdrant collection. Re-running
with the same dump overwrites rather than duplicates.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  EMBEDDING_PROVIDER   Embedding backend: openai, ollama, azure (default: openai)
  EMBEDDING_*          Provider-specific overrides (see README)
  RATEMATE_DB          SQLite path override (default: ~/.ratemate/ratemate.db)

Examples:
  ratemate ingest --file dump.json
  cat dump.json | ratemate ingest
  ratemate ingest --file dump.json --batch-size 128`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			var in io.Reader
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("ingest: failed to open dump %q: %w", file, err)
				}
				defer f.Close()
				in = f
			} else {
				stat, err := os.Stdin.Stat()
				if err != nil {
					return fmt.Errorf("ingest: failed to stat stdin: %w", err)
				}
				if (stat.Mode() & os.ModeCharDevice) != 0 {
					return fmt.Errorf("ingest: provide --file <dump.json> or pipe a dump via stdin")
				}
				in = os.Stdin
			}

			if err := embedder.ValidateForRAG(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised",
				slog.String("provider", getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "openai"))))

			searcher, err := buildSearcher(ctx)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer searcher.Close()
			log.Info("qdrant ready",
				slog.String("host", getEnvOrDefault("QDRANT_HOST", "localhost")),
				slog.Int("port", getEnvInt("QDRANT_PORT", 6334)),
			)

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = st.Close() }()

			pipeline, err := ingestion.NewPipeline(emb, searcher, st, &ingestion.Config{
				BatchSize: batchSize,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			summary, err := pipeline.Ingest(ctx, in, func(msg string) {
				log.Info(msg)
			})
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			log.Info("ingestion complete",
				slog.Int("posts", summary.Posts),
				slog.Int("comments", summary.Comments),
				slog.Int("attachments", summary.Attachments),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the scraped dump JSON file (default: stdin)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Items embedded per batch (default: 64)")

	return cmd
}
