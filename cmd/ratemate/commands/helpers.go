package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"

	"github.com/ratemate/ratemate-go/internal/embedder"
	"github.com/ratemate/ratemate-go/internal/provider"
	"github.com/ratemate/ratemate-go/internal/query"
	"github.com/ratemate/ratemate-go/internal/rag"
	"github.com/ratemate/ratemate-go/internal/server"
	"github.com/ratemate/ratemate-go/internal/signer"
	"github.com/ratemate/ratemate-go/internal/store"
)

// openStore opens the SQLite corpus/history database. RATEMATE_DB overrides
// the default path (~/.ratemate/ratemate.db).
func openStore() (*store.SQLiteStore, error) {
	path := os.Getenv("RATEMATE_DB")
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// buildTools constructs the Eino tools registered with the assistant.
// The query tool answers corpus statistics questions against the store.
func buildTools(st *store.SQLiteStore) []tool.BaseTool {
	return []tool.BaseTool{query.NewTool(st)}
}

// buildSearcher connects to Qdrant using the QDRANT_* environment variables,
// sizing the collections to match the configured embedding backend.
func buildSearcher(ctx context.Context) (*rag.QdrantSearcher, error) {
	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "openai"))
	vectorSize := uint64(embedder.DefaultDimensions(embBackend)) //nolint:gosec // dimensions are bounded

	searcher, err := rag.NewQdrantSearcher(ctx, &rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	return searcher, nil
}

// buildRetriever constructs the retrieval pipeline over Qdrant and the
// relational store. The returned cleanup closes the Qdrant connection.
func buildRetriever(ctx context.Context, st *store.SQLiteStore, log *slog.Logger) (*rag.Pipeline, *rag.QdrantSearcher, func(), error) {
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	searcher, err := buildSearcher(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	pipeline, err := rag.NewPipeline(emb, searcher, st, st, rag.PipelineConfig{})
	if err != nil {
		searcher.Close()
		return nil, nil, nil, fmt.Errorf("failed to build retrieval pipeline: %w", err)
	}

	return pipeline, searcher, func() { _ = searcher.Close() }, nil
}

// buildSigner constructs the attachment URL signer from the S3_* environment
// variables. Returns nil when no bucket is configured; attachment citations
// then fall back to in-page anchors.
func buildSigner(log *slog.Logger) *signer.S3Signer {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		log.Info("signer: S3_BUCKET not set, attachment links disabled")
		return nil
	}

	s, err := signer.New(signer.Config{
		Region:    getEnvOrDefault("S3_REGION", "us-east-1"),
		Endpoint:  os.Getenv("S3_ENDPOINT"),
		Bucket:    bucket,
		AccessKey: os.Getenv("S3_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		log.Warn("signer: could not initialise, attachment links disabled", slog.Any("error", err))
		return nil
	}
	return s
}

// buildPingers assembles the readiness probes for every wired dependency.
func buildPingers(chatModel model.ToolCallingChatModel, backend provider.Backend, searcher *rag.QdrantSearcher, st *store.SQLiteStore) []server.Pinger {
	pingers := []server.Pinger{
		server.NewLLMPinger(chatModel, string(backend)),
		server.NewStorePinger(st),
	}
	if searcher != nil {
		pingers = append(pingers, server.NewQdrantPinger(searcher.Client()))
	}
	return pingers
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
