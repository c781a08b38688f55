// Package widgets decides which retrieved sources to surface as rich preview
// panels under an answer: one panel of document cards, one panel of post
// cards. A small model call makes the per-panel call (show or not, which
// items, panel titles); when that call fails or returns junk the selector
// degrades to the first few candidates of each kind so the answer never
// ships without previews it could have had.
package widgets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ratemate/ratemate-go/internal/logging"
	"github.com/ratemate/ratemate-go/internal/rag"
)

const (
	// MaxPerKind bounds how many cards each panel may carry.
	MaxPerKind = 5
	// FallbackPerKind is how many cards per panel the degraded path keeps.
	FallbackPerKind = 3

	// DefaultDocumentTitle is the document panel title when the model
	// supplies none.
	DefaultDocumentTitle = "Related Documents"
	// DefaultPostTitle is the post panel title when the model supplies none.
	DefaultPostTitle = "Related Posts"
)

// Kind distinguishes post cards from document cards.
type Kind string

const (
	// KindPost is a subreddit post preview.
	KindPost Kind = "post"
	// KindDocument is an attachment preview.
	KindDocument Kind = "document"
)

// Widget is one preview card.
type Widget struct {
	Kind          Kind   `json:"kind"`
	Title         string `json:"title"`
	URL           string `json:"url"`
	ParentPostURL string `json:"parentPostUrl,omitempty"`
}

// Selection is the per-turn widget decision for one answer: which of the two
// panels to show, with which cards and titles. It lives for one turn and is
// consumed once by rendering.
type Selection struct {
	// ShowDocuments and ShowPosts gate the two panels independently.
	ShowDocuments bool `json:"showDocuments"`
	ShowPosts     bool `json:"showPosts"`

	// DocumentTitle and PostTitle are the panel headings.
	DocumentTitle string `json:"documentTitle"`
	PostTitle     string `json:"postTitle"`

	// DocumentReason and PostReason explain why each panel was selected.
	// Empty on the fallback path.
	DocumentReason string `json:"documentReason,omitempty"`
	PostReason     string `json:"postReason,omitempty"`

	// Documents and Posts carry at most MaxPerKind cards each.
	Documents []Widget `json:"documents,omitempty"`
	Posts     []Widget `json:"posts,omitempty"`

	// Fallback marks a selection made without model ranking.
	Fallback bool `json:"fallback,omitempty"`
}

// completer is the slice of an Eino chat model the selector needs.
type completer interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Selector ranks source candidates with a model call.
type Selector struct {
	model completer
}

// NewSelector builds a Selector over the given chat model.
func NewSelector(m completer) *Selector {
	return &Selector{model: m}
}

// ranking is the JSON shape the prompt asks the model for. Indices are
// 1-based into the per-kind candidate lists.
type ranking struct {
	ShowDocuments   bool   `json:"showDocuments"`
	ShowPosts       bool   `json:"showPosts"`
	DocumentTitle   string `json:"documentTitle"`
	PostTitle       string `json:"postTitle"`
	DocumentReason  string `json:"documentReason"`
	PostReason      string `json:"postReason"`
	DocumentIndices []int  `json:"documentIndices"`
	PostIndices     []int  `json:"postIndices"`
}

// Suggest decides the widget panels for the answer to question. answer is the
// drafted response text; the model weighs it alongside the question when
// judging whether a panel adds value. Sources without a resolvable URL are
// never candidates. Ranking failures degrade to the first FallbackPerKind
// candidates of each kind, flagged Fallback. Returns nil when there is
// nothing to show.
func (s *Selector) Suggest(ctx context.Context, question, answer string, sources []rag.SourceItem) *Selection {
	docs, posts := Candidates(sources)
	if len(docs) == 0 && len(posts) == 0 {
		return nil
	}

	r, err := s.rank(ctx, question, answer, docs, posts)
	if err != nil {
		logging.FromContext(ctx).Warn("widgets: ranking failed, using fallback selection",
			slog.Any("error", err))
		return fallback(docs, posts)
	}

	sel := &Selection{
		DocumentTitle:  orDefault(r.DocumentTitle, DefaultDocumentTitle),
		PostTitle:      orDefault(r.PostTitle, DefaultPostTitle),
		DocumentReason: r.DocumentReason,
		PostReason:     r.PostReason,
		Documents:      pick(docs, r.DocumentIndices),
		Posts:          pick(posts, r.PostIndices),
	}
	sel.ShowDocuments = r.ShowDocuments && len(sel.Documents) > 0
	sel.ShowPosts = r.ShowPosts && len(sel.Posts) > 0

	if !sel.ShowDocuments && !sel.ShowPosts {
		return fallback(docs, posts)
	}
	return sel
}

// rank asks the model which panels to show and which candidates to put in them.
func (s *Selector) rank(ctx context.Context, question, answer string, docs, posts []Widget) (*ranking, error) {
	var b strings.Builder
	b.WriteString("Decide which preview panels to show under this answer: a document panel, a post panel, both, or neither. ")
	b.WriteString("Only suggest a panel when it adds real value beyond the answer text. ")
	b.WriteString("Respond with JSON only, of the form ")
	b.WriteString(`{"showDocuments": true, "showPosts": false, "documentTitle": "", "postTitle": "", "documentReason": "", "postReason": "", "documentIndices": [1], "postIndices": []}`)
	fmt.Fprintf(&b, ", using at most %d 1-based indices per list.\n\n", MaxPerKind)
	fmt.Fprintf(&b, "Question: %s\n\nDraft answer: %s\n\n", question, answer)

	b.WriteString("Document candidates:\n")
	for i, c := range docs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Title)
	}
	b.WriteString("\nPost candidates:\n")
	for i, c := range posts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Title)
	}

	out, err := s.model.Generate(ctx, []*schema.Message{schema.UserMessage(b.String())})
	if err != nil {
		return nil, fmt.Errorf("widgets: generate: %w", err)
	}

	var r ranking
	if err := json.Unmarshal([]byte(extractJSON(out.Content)), &r); err != nil {
		return nil, fmt.Errorf("widgets: decode selection: %w", err)
	}
	if !r.ShowDocuments && !r.ShowPosts {
		return nil, fmt.Errorf("widgets: empty selection")
	}
	return &r, nil
}

// Candidates partitions sources into document and post widget candidates,
// keeping only items a card can actually link to.
func Candidates(sources []rag.SourceItem) (docs, posts []Widget) {
	for _, src := range sources {
		if src.URL == "" {
			continue
		}
		switch src.Kind {
		case rag.KindPost:
			posts = append(posts, Widget{Kind: KindPost, Title: src.Title, URL: src.URL})
		case rag.KindAttachment:
			docs = append(docs, Widget{
				Kind:          KindDocument,
				Title:         src.Title,
				URL:           src.URL,
				ParentPostURL: src.ParentPostURL,
			})
		}
	}
	return docs, posts
}

// pick resolves 1-based indices into candidates, dropping out-of-range and
// duplicate entries and capping at MaxPerKind.
func pick(candidates []Widget, indices []int) []Widget {
	var out []Widget
	seen := make(map[int]bool)
	for _, idx := range indices {
		if idx < 1 || idx > len(candidates) || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, candidates[idx-1])
		if len(out) == MaxPerKind {
			break
		}
	}
	return out
}

// fallback shows each panel iff it has candidates, with the first
// FallbackPerKind of each kind and the default titles.
func fallback(docs, posts []Widget) *Selection {
	return &Selection{
		ShowDocuments: len(docs) > 0,
		ShowPosts:     len(posts) > 0,
		DocumentTitle: DefaultDocumentTitle,
		PostTitle:     DefaultPostTitle,
		Documents:     head(docs, FallbackPerKind),
		Posts:         head(posts, FallbackPerKind),
		Fallback:      true,
	}
}

// head returns the first n elements, or all of them when fewer exist.
func head(ws []Widget, n int) []Widget {
	if len(ws) <= n {
		return ws
	}
	return ws[:n]
}

// orDefault substitutes def for empty strings.
func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// extractJSON strips prose and code fences around the first JSON object in
// model output.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
