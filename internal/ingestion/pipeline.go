// Package ingestion implements the corpus ingestion pipeline.
// It reads a scraped r/FirstTimeHomeBuyer dump, loads posts, comments, and
// attachments into the relational store, embeds each item, and upserts the
// vectors into the matching Qdrant collection.
// This pipeline is invoked by the `ratemate ingest` CLI command.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ratemate/ratemate-go/internal/rag"
	"github.com/ratemate/ratemate-go/internal/store"
)

// DumpPost is one post entry in the scraped dump file, with its comments and
// attachments nested the way the scraper emits them.
type DumpPost struct {
	// ID is the post's primary key in the dump.
	ID int64 `json:"id"`
	// Title is the post title.
	Title string `json:"title"`
	// Content is the post body text.
	Content string `json:"content"`
	// URL is the permalink to the post.
	URL string `json:"url"`
	// Author is the posting username.
	Author string `json:"author"`
	// Score is the post's vote score at scrape time.
	Score int64 `json:"score"`
	// CreatedAt is the post timestamp in RFC 3339.
	CreatedAt string `json:"created_at"`
	// Comments are the scraped comments under this post.
	Comments []DumpComment `json:"comments,omitempty"`
	// Attachments are the documents extracted from this post.
	Attachments []DumpAttachment `json:"attachments,omitempty"`
}

// DumpComment is one comment entry nested under a dump post.
type DumpComment struct {
	// ID is the comment's primary key in the dump.
	ID int64 `json:"id"`
	// Content is the comment body text.
	Content string `json:"content"`
	// Author is the commenting username.
	Author string `json:"author"`
	// Score is the comment's vote score at scrape time.
	Score int64 `json:"score"`
	// CreatedAt is the comment timestamp in RFC 3339.
	CreatedAt string `json:"created_at"`
}

// DumpAttachment is one extracted document nested under a dump post.
type DumpAttachment struct {
	// Key is the object storage key of the uploaded document.
	Key string `json:"key"`
	// Summary is a short description of the document. If empty, one is
	// inferred from the storage key.
	Summary string `json:"summary,omitempty"`
	// ExtractedText is the OCR/parsed text content used for embedding.
	ExtractedText string `json:"extracted_text"`
	// CreatedAt is the upload timestamp in RFC 3339.
	CreatedAt string `json:"created_at"`
}

// ContentStore is the relational side of ingestion. *store.SQLiteStore
// satisfies it.
type ContentStore interface {
	UpsertPosts(ctx context.Context, posts []store.Post) error
	UpsertComments(ctx context.Context, comments []store.Comment) error
	UpsertAttachments(ctx context.Context, attachments []store.Attachment) error
}

// VectorStore is the embedding side of ingestion. *rag.QdrantSearcher
// satisfies it.
type VectorStore interface {
	UpsertPosts(ctx context.Context, posts []rag.PostHit, embeddings [][]float32) error
	UpsertComments(ctx context.Context, ids []int64, comments []rag.CommentHit, embeddings [][]float32) error
	UpsertAttachments(ctx context.Context, attachments []rag.AttachmentHit, embeddings [][]float32) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// BatchSize is the number of items embedded and upserted per batch.
	// Defaults to 64 if zero.
	BatchSize int
}

// Summary reports what one Ingest run loaded.
type Summary struct {
	// Posts is the number of posts ingested.
	Posts int
	// Comments is the number of comments ingested.
	Comments int
	// Attachments is the number of attachments ingested.
	Attachments int
}

// Pipeline orchestrates the parse → store → embed → upsert flow for one
// dump file.
type Pipeline struct {
	// embedder converts item text into dense vector embeddings.
	embedder rag.Embedder

	// vectors persists the embeddings.
	vectors VectorStore

	// content persists the relational rows.
	content ContentStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, vectors VectorStore, content ContentStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if vectors == nil {
		return nil, fmt.Errorf("ingestion: vector store must not be nil")
	}
	if content == nil {
		return nil, fmt.Errorf("ingestion: content store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}

	return &Pipeline{
		embedder: embedder,
		vectors:  vectors,
		content:  content,
		cfg:      cfg,
	}, nil
}

// Ingest parses the dump from r and loads it end to end. The relational rows
// are written first so the corpus queries work even if embedding fails
// partway. Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, r io.Reader, progress func(msg string)) (Summary, error) {
	if progress == nil {
		progress = func(string) {}
	}

	var dump []DumpPost
	if err := json.NewDecoder(r).Decode(&dump); err != nil {
		return Summary{}, fmt.Errorf("ingestion: parse dump: %w", err)
	}

	posts, comments, attachments := flatten(dump)
	progress(fmt.Sprintf("parsed dump: %d posts, %d comments, %d attachments",
		len(posts), len(comments), len(attachments)))

	if err := p.content.UpsertPosts(ctx, posts); err != nil {
		return Summary{}, fmt.Errorf("ingestion: store posts: %w", err)
	}
	if err := p.content.UpsertComments(ctx, comments); err != nil {
		return Summary{}, fmt.Errorf("ingestion: store comments: %w", err)
	}
	if err := p.content.UpsertAttachments(ctx, attachments); err != nil {
		return Summary{}, fmt.Errorf("ingestion: store attachments: %w", err)
	}
	progress("relational rows stored")

	if err := p.embedPosts(ctx, dump, progress); err != nil {
		return Summary{}, err
	}
	if err := p.embedComments(ctx, dump, progress); err != nil {
		return Summary{}, err
	}
	if err := p.embedAttachments(ctx, dump, progress); err != nil {
		return Summary{}, err
	}

	return Summary{
		Posts:       len(posts),
		Comments:    len(comments),
		Attachments: len(attachments),
	}, nil
}

// flatten converts the nested dump into flat relational rows, filling in
// inferred attachment summaries where the dump has none.
func flatten(dump []DumpPost) ([]store.Post, []store.Comment, []store.Attachment) {
	var (
		posts       []store.Post
		comments    []store.Comment
		attachments []store.Attachment
	)

	for _, dp := range dump {
		posts = append(posts, store.Post{
			ID:        dp.ID,
			Title:     dp.Title,
			Content:   dp.Content,
			URL:       dp.URL,
			Author:    dp.Author,
			Score:     dp.Score,
			CreatedAt: parseTime(dp.CreatedAt),
		})
		for _, dc := range dp.Comments {
			comments = append(comments, store.Comment{
				ID:        dc.ID,
				PostID:    dp.ID,
				Content:   dc.Content,
				Author:    dc.Author,
				Score:     dc.Score,
				CreatedAt: parseTime(dc.CreatedAt),
			})
		}
		for _, da := range dp.Attachments {
			summary := da.Summary
			if summary == "" {
				summary = InferDocMeta(da.Key).Label
			}
			attachments = append(attachments, store.Attachment{
				Key:       da.Key,
				PostID:    dp.ID,
				Summary:   summary,
				CreatedAt: parseTime(da.CreatedAt),
			})
		}
	}

	return posts, comments, attachments
}

// embedPosts embeds post title+body and upserts into the posts collection.
func (p *Pipeline) embedPosts(ctx context.Context, dump []DumpPost, progress func(string)) error {
	hits := make([]rag.PostHit, 0, len(dump))
	texts := make([]string, 0, len(dump))
	for _, dp := range dump {
		hits = append(hits, rag.PostHit{
			ID:        dp.ID,
			Title:     dp.Title,
			Text:      dp.Content,
			URL:       dp.URL,
			CreatedAt: dp.CreatedAt,
		})
		texts = append(texts, dp.Title+"\n\n"+dp.Content)
	}

	return p.inBatches(len(hits), func(lo, hi int) error {
		embeddings, err := p.embedder.Embed(ctx, texts[lo:hi])
		if err != nil {
			return fmt.Errorf("ingestion: embed posts: %w", err)
		}
		if err := p.vectors.UpsertPosts(ctx, hits[lo:hi], embeddings); err != nil {
			return fmt.Errorf("ingestion: upsert post vectors: %w", err)
		}
		progress(fmt.Sprintf("embedded posts %d-%d of %d", lo+1, hi, len(hits)))
		return nil
	})
}

// embedComments embeds comment bodies and upserts into the comments collection.
func (p *Pipeline) embedComments(ctx context.Context, dump []DumpPost, progress func(string)) error {
	var (
		ids   []int64
		hits  []rag.CommentHit
		texts []string
	)
	for _, dp := range dump {
		for _, dc := range dp.Comments {
			ids = append(ids, dc.ID)
			hits = append(hits, rag.CommentHit{PostID: dp.ID, Body: dc.Content})
			texts = append(texts, dc.Content)
		}
	}

	return p.inBatches(len(hits), func(lo, hi int) error {
		embeddings, err := p.embedder.Embed(ctx, texts[lo:hi])
		if err != nil {
			return fmt.Errorf("ingestion: embed comments: %w", err)
		}
		if err := p.vectors.UpsertComments(ctx, ids[lo:hi], hits[lo:hi], embeddings); err != nil {
			return fmt.Errorf("ingestion: upsert comment vectors: %w", err)
		}
		progress(fmt.Sprintf("embedded comments %d-%d of %d", lo+1, hi, len(hits)))
		return nil
	})
}

// embedAttachments embeds extracted document text and upserts into the
// attachments collection. Attachments with no extracted text are skipped;
// there is nothing meaningful to search against.
func (p *Pipeline) embedAttachments(ctx context.Context, dump []DumpPost, progress func(string)) error {
	var (
		hits  []rag.AttachmentHit
		texts []string
	)
	for _, dp := range dump {
		for _, da := range dp.Attachments {
			if da.ExtractedText == "" {
				continue
			}
			hits = append(hits, rag.AttachmentHit{
				PostID:        dp.ID,
				Key:           da.Key,
				ExtractedText: da.ExtractedText,
				CreatedAt:     da.CreatedAt,
			})
			texts = append(texts, da.ExtractedText)
		}
	}

	return p.inBatches(len(hits), func(lo, hi int) error {
		embeddings, err := p.embedder.Embed(ctx, texts[lo:hi])
		if err != nil {
			return fmt.Errorf("ingestion: embed attachments: %w", err)
		}
		if err := p.vectors.UpsertAttachments(ctx, hits[lo:hi], embeddings); err != nil {
			return fmt.Errorf("ingestion: upsert attachment vectors: %w", err)
		}
		progress(fmt.Sprintf("embedded attachments %d-%d of %d", lo+1, hi, len(hits)))
		return nil
	})
}

// inBatches calls fn with half-open [lo, hi) ranges of cfg.BatchSize over n
// items, stopping at the first error.
func (p *Pipeline) inBatches(n int, fn func(lo, hi int) error) error {
	for lo := 0; lo < n; lo += p.cfg.BatchSize {
		hi := lo + p.cfg.BatchSize
		if hi > n {
			hi = n
		}
		if err := fn(lo, hi); err != nil {
			return err
		}
	}
	return nil
}

// parseTime parses an RFC 3339 timestamp from the dump, returning the zero
// time for anything unparseable rather than failing the whole ingest.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
