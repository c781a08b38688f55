package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeEmbedder implements Embedder. If err is set, Embed fails.
type fakeEmbedder struct {
	// err is returned from Embed when non-nil.
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

// fakeSearcher implements Searcher with per-source canned results and errors.
type fakeSearcher struct {
	posts       []PostHit
	comments    []CommentHit
	attachments []AttachmentHit

	postsErr    error
	commentsErr error
	attachErr   error

	// commentsDelay simulates a slow comments source; the search should be
	// cut off by the per-call timeout rather than waiting it out.
	commentsDelay time.Duration
}

func (f *fakeSearcher) SearchPosts(_ context.Context, _ []float32, _ float32, _ int) ([]PostHit, error) {
	return f.posts, f.postsErr
}

func (f *fakeSearcher) SearchComments(ctx context.Context, _ []float32, _ float32, _ int) ([]CommentHit, error) {
	if f.commentsDelay > 0 {
		select {
		case <-time.After(f.commentsDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.comments, f.commentsErr
}

func (f *fakeSearcher) SearchAttachments(_ context.Context, _ []float32, _ float32, _ int) ([]AttachmentHit, error) {
	return f.attachments, f.attachErr
}

// fakeCounter implements CorpusCounter.
type fakeCounter struct {
	stats Stats
	err   error
}

func (f *fakeCounter) Counts(_ context.Context) (Stats, error) {
	return f.stats, f.err
}

// fakeLookup implements PostLookup, recording the requested IDs.
type fakeLookup struct {
	refs      []PostRef
	err       error
	requested []int64
}

func (f *fakeLookup) PostsByIDs(_ context.Context, ids []int64) ([]PostRef, error) {
	f.requested = append(f.requested, ids...)
	if f.err != nil {
		return nil, f.err
	}
	return f.refs, nil
}

func newTestPipeline(t *testing.T, s Searcher, c CorpusCounter, l PostLookup) *Pipeline {
	t.Helper()
	p, err := NewPipeline(&fakeEmbedder{}, s, c, l, PipelineConfig{})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return p
}

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

func TestRetrieveOrdersEvidencePostsCommentsAttachments(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{
		posts:       []PostHit{{ID: 1, Title: "Rate lock", Text: "locked at 6.5", URL: "https://r/1"}},
		comments:    []CommentHit{{PostID: 1, Body: "same here"}},
		attachments: []AttachmentHit{{PostID: 2, Key: "docs/estimate.pdf", ExtractedText: "closing costs"}},
	}
	p := newTestPipeline(t, s, nil, nil)

	res := p.Retrieve(context.Background(), "what rate did people lock?")

	if len(res.Evidence) != 3 {
		t.Fatalf("Retrieve() evidence length = %d, want 3", len(res.Evidence))
	}
	wantKinds := []SourceKind{KindPost, KindComment, KindAttachment}
	for i, kind := range wantKinds {
		if res.Evidence[i].Kind != kind {
			t.Errorf("evidence[%d].Kind = %q, want %q", i, res.Evidence[i].Kind, kind)
		}
	}
}

func TestRetrieveAlignsSourcesWithCitableEvidence(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{
		posts: []PostHit{
			{ID: 10, Title: "FHA vs conventional", Text: "body", URL: "https://r/10"},
			{ID: 11, Title: "Appraisal gap", Text: "body", URL: "https://r/11"},
		},
		comments:    []CommentHit{{PostID: 10, Body: "context only"}},
		attachments: []AttachmentHit{{PostID: 12, Key: "docs/loan-estimate.pdf", ExtractedText: "text"}},
	}
	p := newTestPipeline(t, s, nil, nil)

	res := p.Retrieve(context.Background(), "q")

	// Comments never become sources: 2 posts + 1 attachment.
	if len(res.Sources) != 3 {
		t.Fatalf("Retrieve() sources length = %d, want 3", len(res.Sources))
	}

	// Alignment: sources must follow the citable evidence in order, matched
	// by post ID / attachment key.
	citable := make([]EvidenceItem, 0, len(res.Evidence))
	for _, ev := range res.Evidence {
		if ev.Kind != KindComment {
			citable = append(citable, ev)
		}
	}
	for i, src := range res.Sources {
		ev := citable[i]
		if src.Kind != ev.Kind {
			t.Errorf("sources[%d].Kind = %q, want %q", i, src.Kind, ev.Kind)
		}
		if ev.Kind == KindAttachment && src.AttachmentKey != ev.AttachmentKey {
			t.Errorf("sources[%d].AttachmentKey = %q, want %q", i, src.AttachmentKey, ev.AttachmentKey)
		}
		if ev.Kind == KindPost && src.PostID != ev.PostID {
			t.Errorf("sources[%d].PostID = %d, want %d", i, src.PostID, ev.PostID)
		}
	}

	if res.Sources[2].Title != "loan-estimate.pdf" {
		t.Errorf("attachment source title = %q, want %q", res.Sources[2].Title, "loan-estimate.pdf")
	}
}

func TestRetrieveSynthesizesSourceForPostWithoutURL(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{
		posts: []PostHit{{ID: 5, Title: "No link", Text: "body"}}, // no URL on the row
	}
	p := newTestPipeline(t, s, nil, nil)

	res := p.Retrieve(context.Background(), "q")

	if len(res.Sources) != 1 {
		t.Fatalf("Retrieve() sources length = %d, want 1", len(res.Sources))
	}
	src := res.Sources[0]
	if src.Kind != KindPost || src.PostID != 5 {
		t.Errorf("synthesized source = %+v, want post 5", src)
	}
	if src.URL != "" {
		t.Errorf("synthesized source URL = %q, want empty", src.URL)
	}
	if src.Title != "No link" {
		t.Errorf("synthesized source title = %q, want the bare post title", src.Title)
	}
}

// ---------------------------------------------------------------------------
// Degradation
// ---------------------------------------------------------------------------

func TestRetrievePartialSourceFailure(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{
		posts:       []PostHit{{ID: 1, Title: "T", Text: "body", URL: "https://r/1"}},
		commentsErr: errors.New("table unavailable"),
		attachments: []AttachmentHit{{PostID: 1, Key: "docs/a.pdf", ExtractedText: "text"}},
	}
	p := newTestPipeline(t, s, nil, nil)

	res := p.Retrieve(context.Background(), "q")

	if len(res.Evidence) != 2 {
		t.Fatalf("Retrieve() evidence length = %d, want 2 (posts + attachments)", len(res.Evidence))
	}
	if len(res.Sources) != 2 {
		t.Errorf("Retrieve() sources length = %d, want 2", len(res.Sources))
	}
	if len(res.Degraded) != 1 || res.Degraded[0] != "comments" {
		t.Errorf("Retrieve() degraded = %v, want [comments]", res.Degraded)
	}
}

func TestRetrieveSlowSourceIsCutOffByTimeout(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{
		posts:         []PostHit{{ID: 1, Title: "T", Text: "body", URL: "https://r/1"}},
		comments:      []CommentHit{{PostID: 1, Body: "too late"}},
		commentsDelay: 2 * time.Second,
	}
	p, err := NewPipeline(&fakeEmbedder{}, s, nil, nil, PipelineConfig{SearchTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	start := time.Now()
	res := p.Retrieve(context.Background(), "q")
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Errorf("Retrieve() took %v, want well under the slow source's 2s delay", elapsed)
	}
	if len(res.Evidence) != 1 || res.Evidence[0].Kind != KindPost {
		t.Errorf("Retrieve() evidence = %+v, want only the post hit", res.Evidence)
	}
	if len(res.Degraded) != 1 || res.Degraded[0] != "comments" {
		t.Errorf("Retrieve() degraded = %v, want [comments]", res.Degraded)
	}
}

func TestRetrieveEmbeddingFailureReturnsStatsOnly(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{posts: []PostHit{{ID: 1, Title: "T", URL: "https://r/1"}}}
	c := &fakeCounter{stats: Stats{Posts: 100, Comments: 200, Attachments: 30}}
	p, err := NewPipeline(&fakeEmbedder{err: errors.New("no credentials")}, s, c, nil, PipelineConfig{})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	res := p.Retrieve(context.Background(), "q")

	if len(res.Evidence) != 0 || len(res.Sources) != 0 {
		t.Errorf("Retrieve() = %d evidence, %d sources, want 0, 0", len(res.Evidence), len(res.Sources))
	}
	if res.Stats.Posts != 100 {
		t.Errorf("Retrieve() stats.Posts = %d, want 100", res.Stats.Posts)
	}
}

func TestRetrieveStatsFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{posts: []PostHit{{ID: 1, Title: "T", Text: "body", URL: "https://r/1"}}}
	c := &fakeCounter{err: errors.New("count query failed")}
	p := newTestPipeline(t, s, c, nil)

	res := p.Retrieve(context.Background(), "q")

	if len(res.Evidence) != 1 {
		t.Errorf("Retrieve() evidence length = %d, want 1", len(res.Evidence))
	}
	if res.Stats != (Stats{}) {
		t.Errorf("Retrieve() stats = %+v, want zero", res.Stats)
	}
}

// ---------------------------------------------------------------------------
// Back-fill wiring
// ---------------------------------------------------------------------------

func TestRetrieveBackfillsParentPostURL(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{
		attachments: []AttachmentHit{{PostID: 42, Key: "docs/closing.pdf", ExtractedText: "text"}},
	}
	l := &fakeLookup{refs: []PostRef{{ID: 42, Title: "Closing day", URL: "https://r/42"}}}
	p := newTestPipeline(t, s, nil, l)

	res := p.Retrieve(context.Background(), "q")

	if len(res.Sources) != 1 {
		t.Fatalf("Retrieve() sources length = %d, want 1", len(res.Sources))
	}
	if got := res.Sources[0].ParentPostURL; got != "https://r/42" {
		t.Errorf("ParentPostURL = %q, want %q", got, "https://r/42")
	}
	if len(l.requested) != 1 || l.requested[0] != 42 {
		t.Errorf("lookup requested = %v, want [42]", l.requested)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestAttachmentTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  string
		want string
	}{
		{"docs/2024/loan-estimate.pdf", "loan-estimate.pdf"},
		{"estimate.pdf", "estimate.pdf"},
		{"docs/nested/deep/file.png", "file.png"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()
			if got := attachmentTitle(tt.key); got != tt.want {
				t.Errorf("attachmentTitle(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestNewPipelineValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewPipeline(nil, &fakeSearcher{}, nil, nil, PipelineConfig{}); err == nil {
		t.Error("NewPipeline(nil embedder) expected error, got nil")
	}
	if _, err := NewPipeline(&fakeEmbedder{}, nil, nil, nil, PipelineConfig{}); err == nil {
		t.Error("NewPipeline(nil searcher) expected error, got nil")
	}
}

// Two chunks of the same post must still occupy two citation slots so the
// numbering stays aligned with the evidence blocks.
func TestRetrieveDuplicatePostIDsKeepOneSlotEach(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{
		posts: []PostHit{
			{ID: 7, Title: "Same post", Text: "chunk one", URL: "https://r/7"},
			{ID: 7, Title: "Same post", Text: "chunk two", URL: "https://r/7"},
		},
	}
	p := newTestPipeline(t, s, nil, nil)

	res := p.Retrieve(context.Background(), "q")

	if len(res.Sources) != len(res.Evidence) {
		t.Fatalf("sources length = %d, evidence length = %d, want equal", len(res.Sources), len(res.Evidence))
	}
	for i, src := range res.Sources {
		if src.PostID != 7 {
			t.Errorf("sources[%d].PostID = %d, want 7", i, src.PostID)
		}
	}
}

func ExampleFormatContext() {
	res := &Result{
		Stats: Stats{Posts: 2, Comments: 5, Attachments: 1},
	}
	fmt.Println(FormatContext(res))
	// Output: Database stats: Posts: 2, Comments: 5, Attachments: 1
}
