package rag

import (
	"fmt"
	"strings"
)

// MaxContextChars caps the concatenated evidence text injected into the
// prompt. Only the trailing evidence text is truncated — the numbered source
// header is written first and is never cut, so citation numbers can never
// drift from their sources.
const MaxContextChars = 3000

// FormatContext renders the retrieval result into a single prompt-injectable
// string: a corpus stats line, the numbered "sources for citation" block, the
// citation instruction, and the evidence blocks. Citable evidence blocks are
// prefixed with the same [n] as their source list entry; comment blocks carry
// only their provenance label.
//
// An empty result (embedding failure, or nothing above threshold) collapses
// to the stats line alone, which is a valid degraded prompt, not an error.
func FormatContext(res *Result) string {
	statsLine := fmt.Sprintf("Database stats: Posts: %d, Comments: %d, Attachments: %d",
		res.Stats.Posts, res.Stats.Comments, res.Stats.Attachments)

	if len(res.Evidence) == 0 && len(res.Sources) == 0 {
		return statsLine
	}

	var b strings.Builder
	b.WriteString(statsLine)
	b.WriteString("\n\n")

	if len(res.Sources) > 0 {
		b.WriteString("SOURCES FOR CITATION:\n")
		for i, src := range res.Sources {
			fmt.Fprintf(&b, "[%d] %s (%s)\n", i+1, src.Title, src.Kind)
		}
		b.WriteString("\nWhen referencing information from these sources, use [1], [2], [3] etc. in your response.\n\n")
	}

	if len(res.Evidence) > 0 {
		b.WriteString("CONTEXT FROM r/FirstTimeHomeBuyer:\n\n")
		b.WriteString(truncate(evidenceBlocks(res.Evidence), MaxContextChars))
	}

	return b.String()
}

// evidenceBlocks renders the evidence list as double-newline separated
// blocks. The citation counter advances only on citable items so block
// numbers match the source enumeration exactly.
func evidenceBlocks(evidence []EvidenceItem) string {
	blocks := make([]string, 0, len(evidence))
	n := 0
	for _, ev := range evidence {
		switch ev.Kind {
		case KindComment:
			blocks = append(blocks, ev.SourceLabel+"\n"+ev.Content)
		default:
			n++
			blocks = append(blocks, fmt.Sprintf("[%d] %s\n%s", n, ev.SourceLabel, ev.Content))
		}
	}
	return strings.Join(blocks, "\n\n")
}

// truncate cuts s to at most max characters, appending an ellipsis marker
// when anything was dropped.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
