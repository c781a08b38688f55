package citation

import (
	"strings"
	"testing"

	"github.com/ratemate/ratemate-go/internal/rag"
)

func testSources() []rag.SourceItem {
	return []rag.SourceItem{
		{Kind: rag.KindPost, Title: "First post", URL: "https://reddit.com/r/FirstTimeHomeBuyer/1"},
		{Kind: rag.KindPost, Title: "No link yet"},
		{
			Kind:          rag.KindAttachment,
			Title:         "rates.pdf",
			URL:           "https://files.example.com/rates.pdf",
			ParentPostURL: "https://reddit.com/r/FirstTimeHomeBuyer/9",
		},
	}
}

func TestRenderResolvesCitation(t *testing.T) {
	t.Parallel()

	got := Render("Rates dropped [1] recently.", testSources())
	want := `<a href="https://reddit.com/r/FirstTimeHomeBuyer/1" target="_blank" rel="noopener noreferrer" class="citation citation-doc">1</a>`
	if !strings.Contains(got, want) {
		t.Fatalf("Render() = %q, missing link %q", got, want)
	}
	if strings.Contains(got, "[1]") {
		t.Fatalf("Render() left literal marker in %q", got)
	}
}

func TestRenderMultiTokenGroup(t *testing.T) {
	t.Parallel()

	got := Render("See [1,3].", testSources())
	if !strings.Contains(got, `>1</a>`) {
		t.Fatalf("Render() = %q, missing link for token 1", got)
	}
	if !strings.Contains(got, `https://files.example.com/rates.pdf`) {
		t.Fatalf("Render() = %q, missing link for token 3", got)
	}
}

func TestRenderAttachmentDualLinks(t *testing.T) {
	t.Parallel()

	got := Render("From the lender sheet [3].", testSources())
	if !strings.Contains(got, `https://files.example.com/rates.pdf`) {
		t.Fatalf("Render() = %q, missing document link", got)
	}
	if !strings.Contains(got, `https://reddit.com/r/FirstTimeHomeBuyer/9`) {
		t.Fatalf("Render() = %q, missing parent post link", got)
	}
}

func TestRenderAnchorFallback(t *testing.T) {
	t.Parallel()

	got := Render("Someone mentioned this [2].", testSources())
	want := `<a href="#source-2" class="citation citation-anchor">2</a>`
	if !strings.Contains(got, want) {
		t.Fatalf("Render() = %q, missing anchor fallback %q", got, want)
	}
}

func TestRenderFailSoft(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"out of range", "see [7]", "[7]"},
		{"zero", "see [0]", "[0]"},
		{"negative", "see [-1]", "[-1]"},
		{"not a number", "array [abc] access", "[abc]"},
		{"mixed group keeps bad token", "see [1,abc]", "[abc]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := Render(tc.in, testSources())
			if !strings.Contains(got, tc.want) {
				t.Fatalf("Render(%q) = %q, want literal %q echoed", tc.in, got, tc.want)
			}
		})
	}
}

func TestRenderEmptySourcesEchoesAll(t *testing.T) {
	t.Parallel()

	got := Render("numbers [1] and [2,3]", nil)
	for _, literal := range []string{"[1]", "[2]", "[3]"} {
		if !strings.Contains(got, literal) {
			t.Fatalf("Render() = %q, want %q echoed with no sources", got, literal)
		}
	}
}

func TestRenderMarkdownSubset(t *testing.T) {
	t.Parallel()

	got := Render("**Bold** and *italic*.\n\nNew paragraph.\nNew line.", nil)
	for _, want := range []string{
		"<strong>Bold</strong>",
		"<em>italic</em>",
		"</p><p>New paragraph.",
		"<br>New line.",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("Render() = %q, missing %q", got, want)
		}
	}
	if !strings.HasPrefix(got, "<p>") || !strings.HasSuffix(got, "</p>") {
		t.Fatalf("Render() = %q, want paragraph wrapping", got)
	}
}

func TestRenderEscapesProse(t *testing.T) {
	t.Parallel()

	got := Render("<script>alert(1)</script> [1]", testSources())
	if strings.Contains(got, "<script>") {
		t.Fatalf("Render() = %q, prose was not escaped", got)
	}
	if !strings.Contains(got, "&lt;script&gt;") {
		t.Fatalf("Render() = %q, missing escaped prose", got)
	}
}

func TestRenderDeterministic(t *testing.T) {
	t.Parallel()

	in := "Rates [1] moved, see **[3]** and [abc]."
	first := Render(in, testSources())
	second := Render(in, testSources())
	if first != second {
		t.Fatalf("Render() not deterministic:\n%q\n%q", first, second)
	}
}
