package rag

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ratemate/ratemate-go/internal/logging"
)

// Retrieval tuning constants. Values mirror what works well for this corpus:
// a modest threshold keeps marginal matches out, and a small per-source cap
// keeps citation numbering readable.
const (
	// DefaultSimilarityThreshold is the minimum cosine similarity for a hit.
	DefaultSimilarityThreshold = 0.3

	// DefaultMaxPerSource is the maximum number of hits taken per content source.
	DefaultMaxPerSource = 2

	// DefaultSearchTimeout bounds each individual per-source search call.
	DefaultSearchTimeout = 10 * time.Second
)

// PipelineConfig holds the tuning knobs for a retrieval Pipeline.
// Zero values select the defaults above.
type PipelineConfig struct {
	// SimilarityThreshold is the minimum similarity score for a hit.
	SimilarityThreshold float32

	// MaxPerSource caps the number of hits per content source.
	MaxPerSource int

	// SearchTimeout bounds each individual per-source search call.
	SearchTimeout time.Duration
}

// Result is the outcome of one retrieval pass. All fields are request-scoped;
// nothing is shared or retained across queries.
type Result struct {
	// Evidence is the ordered list of retrieved passages: posts, then
	// comments, then attachments, each in engine ranking order.
	Evidence []EvidenceItem

	// Sources is the citable source list, positionally aligned with the
	// citable subsequence of Evidence: citation [n] resolves to Sources[n-1].
	Sources []SourceItem

	// Stats holds the whole-corpus row counts for the stats line.
	Stats Stats

	// Degraded names the content sources whose search failed or timed out.
	// Empty when all three sources answered.
	Degraded []string
}

// Pipeline fans a user question out to the three per-source similarity
// searches, tolerates partial failure, and folds the hits into an aligned
// (evidence, sources) pair ready for the context formatter.
//
// Every failure mode degrades: a failed embedding yields an empty result,
// a failed source contributes nothing, and a failed back-fill leaves
// ParentPostURL unset. Retrieve never returns an error for upstream faults.
type Pipeline struct {
	// embedder converts the question to a query vector.
	embedder Embedder

	// searcher runs the per-source similarity searches.
	searcher Searcher

	// counter reports corpus totals for the stats line. May be nil.
	counter CorpusCounter

	// resolver back-fills attachment parent-post links. May be nil.
	resolver *Resolver

	// cfg holds the resolved tuning parameters.
	cfg PipelineConfig
}

// NewPipeline constructs a Pipeline from its collaborators. embedder and
// searcher are required; counter and lookup may be nil, disabling the stats
// line and the parent-post back-fill respectively.
func NewPipeline(embedder Embedder, searcher Searcher, counter CorpusCounter, lookup PostLookup, cfg PipelineConfig) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if searcher == nil {
		return nil, fmt.Errorf("rag: searcher must not be nil")
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.MaxPerSource <= 0 {
		cfg.MaxPerSource = DefaultMaxPerSource
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
	}

	p := &Pipeline{
		embedder: embedder,
		searcher: searcher,
		counter:  counter,
		cfg:      cfg,
	}
	if lookup != nil {
		p.resolver = NewResolver(lookup)
	}
	return p, nil
}

// Retrieve runs the full retrieval pass for one user question.
//
// The corpus-stats query and the vector search run concurrently. Within the
// search, the three per-source calls run concurrently and independently, each
// under its own timeout; the pipeline waits for all three to settle and keeps
// whatever succeeded. An embedding failure short-circuits to an empty result
// carrying only the stats.
func (p *Pipeline) Retrieve(ctx context.Context, question string) *Result {
	log := logging.FromContext(ctx)
	res := &Result{}

	// Stats are independent of the search — fetch them in parallel so a slow
	// count query never delays the evidence.
	statsCh := make(chan Stats, 1)
	go func() {
		statsCh <- p.fetchStats(ctx)
	}()

	embeddings, err := p.embedder.Embed(ctx, []string{question})
	if err != nil || len(embeddings) == 0 {
		log.Warn("rag: embedding failed, answering without context", slog.Any("error", err))
		res.Stats = <-statsCh
		return res
	}

	p.search(ctx, embeddings[0], res)
	p.alignSources(res)

	if p.resolver != nil {
		// Back-fill failure leaves ParentPostURL unset; logged inside.
		p.resolver.Backfill(ctx, res.Sources)
	}

	res.Stats = <-statsCh
	return res
}

// fetchStats returns corpus totals, or zero stats when the counter is absent
// or errors. Never fatal: the stats line simply reads zero.
func (p *Pipeline) fetchStats(ctx context.Context) Stats {
	if p.counter == nil {
		return Stats{}
	}
	stats, err := p.counter.Counts(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("rag: corpus stats query failed", slog.Any("error", err))
		return Stats{}
	}
	return stats
}

// search fans out the three per-source similarity searches, waits for all of
// them to settle, and appends the surviving hits to res in the fixed order
// posts, comments, attachments.
func (p *Pipeline) search(ctx context.Context, embedding []float32, res *Result) {
	var (
		wg          sync.WaitGroup
		posts       []PostHit
		comments    []CommentHit
		attachments []AttachmentHit
		errPosts    error
		errComments error
		errAttach   error
	)

	// Each search gets its own timeout so one slow table cannot hold the
	// other two hostage; errors land in per-source slots, never aborting
	// the siblings.
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, p.cfg.SearchTimeout)
			defer cancel()
			fn(cctx)
		}()
	}

	run(func(cctx context.Context) {
		posts, errPosts = p.searcher.SearchPosts(cctx, embedding, p.cfg.SimilarityThreshold, p.cfg.MaxPerSource)
	})
	run(func(cctx context.Context) {
		comments, errComments = p.searcher.SearchComments(cctx, embedding, p.cfg.SimilarityThreshold, p.cfg.MaxPerSource)
	})
	run(func(cctx context.Context) {
		attachments, errAttach = p.searcher.SearchAttachments(cctx, embedding, p.cfg.SimilarityThreshold, p.cfg.MaxPerSource)
	})

	wg.Wait()

	log := logging.FromContext(ctx)
	if errPosts != nil {
		res.Degraded = append(res.Degraded, "posts")
		log.Warn("rag: posts search failed", slog.Any("error", errPosts))
	}
	if errComments != nil {
		res.Degraded = append(res.Degraded, "comments")
		log.Warn("rag: comments search failed", slog.Any("error", errComments))
	}
	if errAttach != nil {
		res.Degraded = append(res.Degraded, "attachments")
		log.Warn("rag: attachments search failed", slog.Any("error", errAttach))
	}

	for _, hit := range posts {
		res.Evidence = append(res.Evidence, EvidenceItem{
			Kind:        KindPost,
			SourceLabel: "Reddit Post: " + orUntitled(hit.Title),
			Content:     hit.Text,
			PostID:      hit.ID,
			CreatedAt:   hit.CreatedAt,
			URL:         hit.URL,
		})
	}
	for _, hit := range comments {
		res.Evidence = append(res.Evidence, EvidenceItem{
			Kind:        KindComment,
			SourceLabel: fmt.Sprintf("Comment on Post %d", hit.PostID),
			Content:     hit.Body,
			PostID:      hit.PostID,
		})
	}
	for _, hit := range attachments {
		res.Evidence = append(res.Evidence, EvidenceItem{
			Kind:          KindAttachment,
			SourceLabel:   fmt.Sprintf("Document from Post %d", hit.PostID),
			Content:       hit.ExtractedText,
			PostID:        hit.PostID,
			AttachmentKey: hit.Key,
			CreatedAt:     hit.CreatedAt,
		})
	}
}

// alignSources derives the citable source list from the evidence, in evidence
// order, so that citation number n always resolves to Sources[n-1].
//
// The match is an in-memory join on two different key types: attachment
// storage key for attachments, post ID for posts. Both indexes are built
// once; the evidence walk then does O(1) lookups and synthesizes a minimal
// source whenever an item has no pre-built match, so every citable evidence
// item ends up with exactly one source slot. Comments are supporting context
// only and never become sources.
func (p *Pipeline) alignSources(res *Result) {
	byPost := make(map[int64]SourceItem)
	byKey := make(map[string]SourceItem)

	for _, ev := range res.Evidence {
		switch ev.Kind {
		case KindPost:
			if ev.PostID != 0 && ev.URL != "" {
				byPost[ev.PostID] = SourceItem{
					Kind:      KindPost,
					Title:     strings.TrimPrefix(ev.SourceLabel, "Reddit Post: "),
					URL:       ev.URL,
					PostID:    ev.PostID,
					CreatedAt: ev.CreatedAt,
				}
			}
		case KindAttachment:
			if ev.AttachmentKey != "" {
				byKey[ev.AttachmentKey] = SourceItem{
					Kind:          KindAttachment,
					Title:         attachmentTitle(ev.AttachmentKey),
					AttachmentKey: ev.AttachmentKey,
					PostID:        ev.PostID,
					CreatedAt:     ev.CreatedAt,
				}
			}
		}
	}

	for _, ev := range res.Evidence {
		switch ev.Kind {
		case KindPost:
			if src, ok := byPost[ev.PostID]; ok {
				res.Sources = append(res.Sources, src)
				continue
			}
			// No URL or ID on the row — synthesize so the citation slot
			// still exists and numbering stays aligned.
			res.Sources = append(res.Sources, SourceItem{
				Kind:      KindPost,
				Title:     strings.TrimPrefix(ev.SourceLabel, "Reddit Post: "),
				PostID:    ev.PostID,
				CreatedAt: ev.CreatedAt,
			})
		case KindAttachment:
			if src, ok := byKey[ev.AttachmentKey]; ok {
				res.Sources = append(res.Sources, src)
				continue
			}
			res.Sources = append(res.Sources, SourceItem{
				Kind:      KindAttachment,
				Title:     ev.SourceLabel,
				PostID:    ev.PostID,
				CreatedAt: ev.CreatedAt,
			})
		}
	}
}

// attachmentTitle derives a display title from a storage key: the final
// path element, or the whole key when it has no separators.
func attachmentTitle(key string) string {
	if name := path.Base(key); name != "." && name != "/" {
		return name
	}
	return key
}

// orUntitled substitutes a placeholder for empty post titles.
func orUntitled(title string) string {
	if title == "" {
		return "Untitled"
	}
	return title
}
