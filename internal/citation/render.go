// Package citation turns model-generated prose with bracketed numeric
// citations into render-ready HTML. Citation numbers are resolved 1-based
// against the aligned source list produced by the retrieval pipeline;
// anything that does not resolve is echoed back literally so a wrong
// citation can never break rendering.
//
// Render is a pure transform: it is re-run on every render pass of a
// message, so it must stay cheap and produce identical output for
// identical input.
package citation

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/ratemate/ratemate-go/internal/rag"
)

// citationRe matches one bracket group: "[1]", "[1,2]", "[abc]".
// Token validation happens per token, not in the pattern, so malformed
// groups still flow through the fail-soft path.
var citationRe = regexp.MustCompile(`\[([^\[\]]+)\]`)

// Minimal markdown subset. This is deliberately not a markdown engine:
// the assistant emits plain prose with bold, italics, and paragraph breaks,
// and anything richer should go through a real renderer upstream.
var (
	boldRe   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicRe = regexp.MustCompile(`\*(.*?)\*`)
)

// Render converts prose to HTML and resolves citation markers against
// sources. sources must be the aligned list from the retrieval pipeline:
// citation [n] resolves to sources[n-1].
func Render(text string, sources []rag.SourceItem) string {
	out := html.EscapeString(text)

	out = boldRe.ReplaceAllString(out, "<strong>$1</strong>")
	out = italicRe.ReplaceAllString(out, "<em>$1</em>")
	out = strings.ReplaceAll(out, "\n\n", "</p><p>")
	out = strings.ReplaceAll(out, "\n", "<br>")
	out = "<p>" + out + "</p>"

	return citationRe.ReplaceAllStringFunc(out, func(group string) string {
		inner := group[1 : len(group)-1]
		var b strings.Builder
		for _, token := range strings.Split(inner, ",") {
			b.WriteString(renderToken(strings.TrimSpace(token), sources))
		}
		return b.String()
	})
}

// renderToken resolves one citation token into link markup, or echoes the
// literal bracketed token when it does not parse or is out of range.
func renderToken(token string, sources []rag.SourceItem) string {
	n, err := strconv.Atoi(token)
	if err != nil || n < 1 || n > len(sources) {
		return "[" + token + "]"
	}

	src := sources[n-1]
	switch {
	case src.Kind == rag.KindAttachment && src.URL != "" && src.ParentPostURL != "":
		// Document link plus a second link back to the post it came from.
		return link(src.URL, "citation citation-doc", strconv.Itoa(n)) +
			link(src.ParentPostURL, "citation citation-post", "↗")
	case src.URL != "":
		return link(src.URL, "citation citation-doc", strconv.Itoa(n))
	default:
		// No resolvable link yet, anchor to the source list entry on the page.
		return fmt.Sprintf(`<a href="#source-%d" class="citation citation-anchor">%d</a>`, n, n)
	}
}

// link renders one inline citation anchor opening in a new tab.
func link(url, class, label string) string {
	return fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener noreferrer" class="%s">%s</a>`,
		html.EscapeString(url), class, html.EscapeString(label))
}
