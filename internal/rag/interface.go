// Package rag implements the retrieval half of the assistant: embedding a
// user question, fanning out similarity searches across the three content
// sources (posts, comments, document attachments), and folding the hits into
// an ordered evidence list plus a positionally aligned, citable source list.
// Concrete backends (Qdrant, SQLite) satisfy the interfaces below so the
// assistant layer never depends on a specific engine.
package rag

import (
	"context"
)

// SourceKind identifies which content table a retrieved item came from.
type SourceKind string

const (
	// KindPost is a Reddit post hit.
	KindPost SourceKind = "post"
	// KindComment is a Reddit comment hit.
	KindComment SourceKind = "comment"
	// KindAttachment is a document attachment hit.
	KindAttachment SourceKind = "attachment"
)

// EvidenceItem is one retrieved passage plus its provenance metadata.
// Exactly one kind applies per item; each kind populates a different subset
// of the optional fields.
type EvidenceItem struct {
	// Kind identifies the content source this item came from.
	Kind SourceKind

	// SourceLabel is the human-readable provenance string
	// (e.g. "Reddit Post: <title>", "Document from Post <id>").
	SourceLabel string

	// Content is the raw text snippet.
	Content string

	// PostID is the originating post ID (0 = unset).
	// Posts carry their own ID; comments and attachments carry their parent's.
	PostID int64

	// AttachmentKey is the opaque storage key (attachments only).
	AttachmentKey string

	// CreatedAt is the content timestamp as stored (optional, posts and
	// attachments only).
	CreatedAt string

	// URL is the direct link to the content (posts only).
	URL string
}

// SourceItem is one user-citable reference derived from evidence.
// The ordered slice handed to the citation renderer is positionally aligned,
// 1-indexed, with the citable evidence blocks in the formatted context:
// citation number n resolves to sources[n-1].
type SourceItem struct {
	// Kind is the source type: attachment, post, or comment.
	Kind SourceKind

	// Title is the display string (post title, or attachment filename).
	Title string

	// URL is the direct link for this item: the post URL, or a presigned
	// document URL once resolved downstream. Empty until resolvable.
	URL string

	// AttachmentKey is the storage key; present iff Kind is KindAttachment.
	AttachmentKey string

	// PostID is the originating post ID (0 = unset).
	PostID int64

	// ParentPostURL links to the post an attachment belongs to. Attachment
	// only; populated by the back-fill resolver, never by the search itself.
	ParentPostURL string

	// CreatedAt is the content timestamp as stored (optional).
	CreatedAt string
}

// Stats holds per-table row counts for the whole corpus, used for the
// stats line in the formatted context.
type Stats struct {
	// Posts is the total number of posts in the corpus.
	Posts int64
	// Comments is the total number of comments in the corpus.
	Comments int64
	// Attachments is the total number of document attachments in the corpus.
	Attachments int64
}

// PostHit is one post row returned by the similarity search.
type PostHit struct {
	// ID is the post's primary key.
	ID int64
	// Title is the post title.
	Title string
	// Text is the post body.
	Text string
	// URL is the permalink to the post.
	URL string
	// CreatedAt is the post timestamp as stored.
	CreatedAt string
	// Score is the similarity score assigned by the search engine.
	Score float32
}

// CommentHit is one comment row returned by the similarity search.
type CommentHit struct {
	// PostID is the parent post's primary key.
	PostID int64
	// Body is the comment text.
	Body string
	// Score is the similarity score assigned by the search engine.
	Score float32
}

// AttachmentHit is one document attachment row returned by the similarity search.
type AttachmentHit struct {
	// PostID is the parent post's primary key.
	PostID int64
	// Key is the opaque storage key of the document.
	Key string
	// ExtractedText is the text extracted from the document.
	ExtractedText string
	// CreatedAt is the attachment timestamp as stored.
	CreatedAt string
	// Score is the similarity score assigned by the search engine.
	Score float32
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher performs one similarity search per content source. Each search is
// bounded by a score threshold and a per-source result cap; the engine's own
// ranking order is preserved in the returned slice.
// Implementations must be safe to call from multiple goroutines.
type Searcher interface {
	// SearchPosts returns post rows near the query embedding.
	SearchPosts(ctx context.Context, embedding []float32, threshold float32, limit int) ([]PostHit, error)
	// SearchComments returns comment rows near the query embedding.
	SearchComments(ctx context.Context, embedding []float32, threshold float32, limit int) ([]CommentHit, error)
	// SearchAttachments returns attachment rows near the query embedding.
	SearchAttachments(ctx context.Context, embedding []float32, threshold float32, limit int) ([]AttachmentHit, error)
}

// PostRef is the minimal post row returned by a relational lookup:
// just enough to back-fill attachment sources with their parent post link.
type PostRef struct {
	// ID is the post's primary key.
	ID int64
	// Title is the post title.
	Title string
	// URL is the permalink to the post.
	URL string
}

// PostLookup is the batched relational fetch used by the back-fill resolver.
type PostLookup interface {
	// PostsByIDs returns the posts matching ids. Missing IDs are simply
	// absent from the result, not an error.
	PostsByIDs(ctx context.Context, ids []int64) ([]PostRef, error)
}

// CorpusCounter reports total per-table row counts for the stats line.
type CorpusCounter interface {
	// Counts returns the per-table totals for the whole corpus.
	Counts(ctx context.Context) (Stats, error)
}
