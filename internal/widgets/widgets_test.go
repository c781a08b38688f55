package widgets

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ratemate/ratemate-go/internal/rag"
)

// ------------------------------------------------------------------ // Fakes

type fakeModel struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if len(input) > 0 {
		f.prompt = input[len(input)-1].Content
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func testSources() []rag.SourceItem {
	return []rag.SourceItem{
		{Kind: rag.KindPost, Title: "Rate lock timing", URL: "https://reddit.com/r/FirstTimeHomeBuyer/1"},
		{Kind: rag.KindPost, Title: "No URL yet"},
		{Kind: rag.KindAttachment, Title: "estimate.pdf", URL: "https://files.example.com/estimate.pdf", ParentPostURL: "https://reddit.com/r/FirstTimeHomeBuyer/1"},
		{Kind: rag.KindPost, Title: "Escrow surprise", URL: "https://reddit.com/r/FirstTimeHomeBuyer/2"},
		{Kind: rag.KindAttachment, Title: "inspection.pdf", URL: "https://files.example.com/inspection.pdf"},
	}
}

// mixedSources returns n linkable post sources and n linkable attachment
// sources, posts first.
func mixedSources(n int) []rag.SourceItem {
	out := make([]rag.SourceItem, 0, 2*n)
	for i := range n {
		out = append(out, rag.SourceItem{
			Kind:  rag.KindPost,
			Title: "post",
			URL:   "https://reddit.com/r/FirstTimeHomeBuyer/" + string(rune('a'+i)),
		})
	}
	for i := range n {
		out = append(out, rag.SourceItem{
			Kind:  rag.KindAttachment,
			Title: "doc",
			URL:   "https://files.example.com/" + string(rune('a'+i)) + ".pdf",
		})
	}
	return out
}

// ------------------------------------------------------------------ // Tests

func TestCandidates_PartitionsAndFiltersUnlinkable(t *testing.T) {
	t.Parallel()

	docs, posts := Candidates(testSources())
	if len(docs) != 2 || len(posts) != 2 {
		t.Fatalf("want 2 docs + 2 posts, got %d + %d", len(docs), len(posts))
	}
	for _, w := range append(docs, posts...) {
		if w.URL == "" {
			t.Errorf("candidate %q has no URL", w.Title)
		}
	}
	if docs[0].Kind != KindDocument || docs[0].ParentPostURL == "" {
		t.Errorf("attachment candidate should keep parent post link: %+v", docs[0])
	}
}

func TestSuggest_UsesModelSelection(t *testing.T) {
	t.Parallel()
	s := NewSelector(&fakeModel{reply: `{
		"showDocuments": true, "showPosts": true,
		"documentTitle": "Loan paperwork", "postReason": "community experiences",
		"documentIndices": [2], "postIndices": [2, 1]
	}`})

	sel := s.Suggest(context.Background(), "when to lock a rate?", "Lock when...", testSources())
	if sel == nil || sel.Fallback {
		t.Fatalf("want a model-ranked selection, got %+v", sel)
	}
	if !sel.ShowDocuments || !sel.ShowPosts {
		t.Errorf("both panels should be shown: %+v", sel)
	}
	if len(sel.Documents) != 1 || sel.Documents[0].Title != "inspection.pdf" {
		t.Errorf("document selection wrong: %+v", sel.Documents)
	}
	if len(sel.Posts) != 2 || sel.Posts[0].Title != "Escrow surprise" || sel.Posts[1].Title != "Rate lock timing" {
		t.Errorf("post selection order not respected: %+v", sel.Posts)
	}
	if sel.DocumentTitle != "Loan paperwork" {
		t.Errorf("custom document title dropped: %q", sel.DocumentTitle)
	}
	if sel.PostTitle != DefaultPostTitle {
		t.Errorf("missing post title should default, got %q", sel.PostTitle)
	}
	if sel.PostReason != "community experiences" {
		t.Errorf("post reason dropped: %q", sel.PostReason)
	}
}

func TestSuggest_PromptCarriesQuestionAndDraftAnswer(t *testing.T) {
	t.Parallel()
	m := &fakeModel{reply: `{"showPosts": true, "postIndices": [1]}`}
	s := NewSelector(m)

	s.Suggest(context.Background(), "when to lock a rate?", "Lock once you are under contract.", testSources())
	if !strings.Contains(m.prompt, "when to lock a rate?") {
		t.Errorf("prompt missing the question:\n%s", m.prompt)
	}
	if !strings.Contains(m.prompt, "Lock once you are under contract.") {
		t.Errorf("prompt missing the draft answer:\n%s", m.prompt)
	}
}

func TestSuggest_HidesPanelTheModelDeclined(t *testing.T) {
	t.Parallel()
	s := NewSelector(&fakeModel{reply: `{"showDocuments": false, "showPosts": true, "documentIndices": [1], "postIndices": [1]}`})

	sel := s.Suggest(context.Background(), "q", "a", testSources())
	if sel == nil || sel.ShowDocuments {
		t.Fatalf("document panel should stay hidden: %+v", sel)
	}
	if !sel.ShowPosts || len(sel.Posts) != 1 {
		t.Errorf("post panel should be shown with one card: %+v", sel)
	}
}

func TestSuggest_StripsCodeFences(t *testing.T) {
	t.Parallel()
	s := NewSelector(&fakeModel{reply: "Sure!\n```json\n{\"showDocuments\": true, \"documentIndices\": [1]}\n```"})

	sel := s.Suggest(context.Background(), "q", "a", testSources())
	if sel == nil || sel.Fallback || len(sel.Documents) != 1 || sel.Documents[0].Title != "estimate.pdf" {
		t.Fatalf("want estimate.pdf from fenced reply, got %+v", sel)
	}
}

func TestSuggest_DropsInvalidAndDuplicateIndices(t *testing.T) {
	t.Parallel()
	s := NewSelector(&fakeModel{reply: `{"showDocuments": true, "documentIndices": [0, 9, 2, 2, -1]}`})

	sel := s.Suggest(context.Background(), "q", "a", testSources())
	if sel == nil || len(sel.Documents) != 1 || sel.Documents[0].Title != "inspection.pdf" {
		t.Fatalf("want only the one valid index, got %+v", sel)
	}
}

func TestSuggest_BoundsEachKindSeparately(t *testing.T) {
	t.Parallel()

	// 8 posts and 8 documents, the model selecting all of both.
	s := NewSelector(&fakeModel{reply: `{
		"showDocuments": true, "showPosts": true,
		"documentIndices": [1,2,3,4,5,6,7,8], "postIndices": [1,2,3,4,5,6,7,8]
	}`})

	sel := s.Suggest(context.Background(), "q", "a", mixedSources(8))
	if sel == nil {
		t.Fatal("want a selection")
	}
	if len(sel.Documents) != MaxPerKind {
		t.Errorf("want %d documents, got %d", MaxPerKind, len(sel.Documents))
	}
	if len(sel.Posts) != MaxPerKind {
		t.Errorf("want %d posts, got %d", MaxPerKind, len(sel.Posts))
	}
}

func TestSuggest_ModelErrorFallsBackPerKind(t *testing.T) {
	t.Parallel()
	s := NewSelector(&fakeModel{err: errors.New("model down")})

	sel := s.Suggest(context.Background(), "q", "a", mixedSources(4))
	if sel == nil || !sel.Fallback {
		t.Fatalf("want a flagged fallback selection, got %+v", sel)
	}
	if len(sel.Documents) != FallbackPerKind {
		t.Errorf("want %d fallback documents, got %d", FallbackPerKind, len(sel.Documents))
	}
	if len(sel.Posts) != FallbackPerKind {
		t.Errorf("want %d fallback posts, got %d", FallbackPerKind, len(sel.Posts))
	}
	if !sel.ShowDocuments || !sel.ShowPosts {
		t.Errorf("fallback should show every panel that has candidates: %+v", sel)
	}
	if sel.DocumentTitle != DefaultDocumentTitle || sel.PostTitle != DefaultPostTitle {
		t.Errorf("fallback should use default titles: %+v", sel)
	}
}

func TestSuggest_FallbackWithOneKindOnly(t *testing.T) {
	t.Parallel()
	s := NewSelector(&fakeModel{err: errors.New("model down")})

	sources := []rag.SourceItem{
		{Kind: rag.KindPost, Title: "only post", URL: "https://reddit.com/r/FirstTimeHomeBuyer/1"},
	}
	sel := s.Suggest(context.Background(), "q", "a", sources)
	if sel == nil || !sel.ShowPosts || sel.ShowDocuments {
		t.Fatalf("want posts-only fallback, got %+v", sel)
	}
	if len(sel.Posts) != 1 || len(sel.Documents) != 0 {
		t.Errorf("fallback card counts wrong: %+v", sel)
	}
}

func TestSuggest_JunkReplyFallsBack(t *testing.T) {
	t.Parallel()
	s := NewSelector(&fakeModel{reply: "I cannot help with that."})

	sel := s.Suggest(context.Background(), "q", "a", testSources())
	if sel == nil || !sel.Fallback {
		t.Fatalf("want flagged fallback selection, got %+v", sel)
	}
}

func TestSuggest_EmptyModelSelectionFallsBack(t *testing.T) {
	t.Parallel()
	s := NewSelector(&fakeModel{reply: `{"showDocuments": false, "showPosts": false}`})

	sel := s.Suggest(context.Background(), "q", "a", testSources())
	if sel == nil || !sel.Fallback {
		t.Fatalf("declining both panels should degrade to fallback, got %+v", sel)
	}
}

func TestSuggest_NoCandidates(t *testing.T) {
	t.Parallel()
	s := NewSelector(&fakeModel{reply: `{"showPosts": true, "postIndices": [1]}`})

	sel := s.Suggest(context.Background(), "q", "a", []rag.SourceItem{{Kind: rag.KindPost, Title: "no url"}})
	if sel != nil {
		t.Fatalf("want nil for no candidates, got %+v", sel)
	}
}
