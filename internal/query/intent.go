package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ratemate/ratemate-go/internal/store"
)

// Kind selects the shape of a corpus query.
type Kind string

const (
	// KindCount counts rows in the timeframe.
	KindCount Kind = "count"
	// KindList returns the most recent posts in the timeframe.
	KindList Kind = "list"
	// KindAggregate returns the mean score over the timeframe.
	KindAggregate Kind = "aggregate"
)

// DefaultListLimit bounds how many posts a list intent returns.
const DefaultListLimit = 10

// Intent is one fully validated corpus question. The zero value is not
// valid; use ParseIntent or build one from the constants above.
type Intent struct {
	Kind      Kind
	Target    store.Target
	Timeframe Timeframe
}

// FallbackIntent is what an unparseable tool call degrades to: an all-time
// post count, the one question that is always answerable.
func FallbackIntent() Intent {
	return Intent{Kind: KindCount, Target: store.TargetPosts, Timeframe: AllTime}
}

// ParseIntent validates raw string values into an Intent. Any unrecognized
// value falls back per field rather than failing the whole call: an unknown
// timeframe means all-time, an unknown target means posts, an unknown kind
// means count. The returned bool is false when any field fell back.
func ParseIntent(kind, target, timeframe string) (Intent, bool) {
	exact := true
	in := Intent{
		Kind:      Kind(strings.ToLower(strings.TrimSpace(kind))),
		Target:    store.Target(strings.ToLower(strings.TrimSpace(target))),
		Timeframe: Timeframe(strings.ToLower(strings.TrimSpace(timeframe))),
	}

	switch in.Kind {
	case KindCount, KindList, KindAggregate:
	default:
		in.Kind = KindCount
		exact = false
	}
	switch in.Target {
	case store.TargetPosts, store.TargetComments, store.TargetAttachments:
	default:
		in.Target = store.TargetPosts
		exact = false
	}
	if !in.Timeframe.Valid() {
		in.Timeframe = AllTime
		exact = false
	}

	// Lists and score aggregates only make sense for scored, titled rows.
	if in.Kind == KindList && in.Target != store.TargetPosts {
		in.Target = store.TargetPosts
		exact = false
	}
	if in.Kind == KindAggregate && in.Target == store.TargetAttachments {
		in.Target = store.TargetPosts
		exact = false
	}

	return in, exact
}

// CorpusReader is the slice of the store the query runner needs.
type CorpusReader interface {
	CountBetween(ctx context.Context, target store.Target, from, to time.Time) (int64, error)
	AverageScore(ctx context.Context, target store.Target, from, to time.Time) (float64, error)
	RecentPosts(ctx context.Context, from, to time.Time, limit int) ([]store.Post, error)
}

// Runner executes intents against the corpus.
type Runner struct {
	reader CorpusReader
	now    func() time.Time
}

// NewRunner builds a Runner over the given reader.
func NewRunner(reader CorpusReader) *Runner {
	return &Runner{reader: reader, now: time.Now}
}

// Run executes the intent and renders the answer as LLM-facing text.
func (r *Runner) Run(ctx context.Context, in Intent) (string, error) {
	from, to := in.Timeframe.Window(r.now())

	switch in.Kind {
	case KindCount:
		n, err := r.reader.CountBetween(ctx, in.Target, from, to)
		if err != nil {
			return "", fmt.Errorf("query: count: %w", err)
		}
		return fmt.Sprintf("%d %s (%s)", n, in.Target, describe(in.Timeframe)), nil

	case KindAggregate:
		avg, err := r.reader.AverageScore(ctx, in.Target, from, to)
		if err != nil {
			return "", fmt.Errorf("query: aggregate: %w", err)
		}
		return fmt.Sprintf("average %s score: %.1f (%s)", in.Target, avg, describe(in.Timeframe)), nil

	case KindList:
		posts, err := r.reader.RecentPosts(ctx, from, to, DefaultListLimit)
		if err != nil {
			return "", fmt.Errorf("query: list: %w", err)
		}
		if len(posts) == 0 {
			return fmt.Sprintf("no posts found (%s)", describe(in.Timeframe)), nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%d most recent posts (%s):\n", len(posts), describe(in.Timeframe))
		for _, p := range posts {
			fmt.Fprintf(&b, "- [%d] %s (score %d, %s)\n", p.ID, p.Title, p.Score, p.CreatedAt.Format("2006-01-02"))
		}
		return b.String(), nil

	default:
		return "", fmt.Errorf("query: unknown intent kind %q", in.Kind)
	}
}

// describe renders a timeframe for answer text.
func describe(tf Timeframe) string {
	if tf == AllTime {
		return "all time"
	}
	return strings.ReplaceAll(string(tf), "_", " ")
}
