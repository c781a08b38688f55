package rag

import (
	"context"
	"log/slog"

	"github.com/ratemate/ratemate-go/internal/logging"
)

// Resolver back-fills relational data the similarity search does not carry:
// an attachment source needs a link to its parent post, but the posts search
// only happens to return that post when it is itself a close match.
type Resolver struct {
	// lookup is the batched relational fetch for post rows.
	lookup PostLookup
}

// NewResolver constructs a Resolver over the given lookup.
func NewResolver(lookup PostLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Backfill sets ParentPostURL on every attachment source that lacks one.
//
// Post URLs already present in the source list are reused; the remaining
// post IDs are fetched in one batched lookup. A failed lookup is logged and
// swallowed — the attachment sources simply keep an unset ParentPostURL and
// the citation renderer falls back to a single link.
func (r *Resolver) Backfill(ctx context.Context, sources []SourceItem) {
	urlByPost := make(map[int64]string)
	for _, src := range sources {
		if src.Kind == KindPost && src.PostID != 0 && src.URL != "" {
			urlByPost[src.PostID] = src.URL
		}
	}

	// Collect the post IDs referenced by attachments but not already known.
	var missing []int64
	seen := make(map[int64]bool)
	for _, src := range sources {
		if src.Kind != KindAttachment || src.PostID == 0 {
			continue
		}
		if _, ok := urlByPost[src.PostID]; ok || seen[src.PostID] {
			continue
		}
		seen[src.PostID] = true
		missing = append(missing, src.PostID)
	}

	if len(missing) > 0 {
		refs, err := r.lookup.PostsByIDs(ctx, missing)
		if err != nil {
			logging.FromContext(ctx).Warn("rag: parent post lookup failed, leaving links unset",
				slog.Int("post_ids", len(missing)),
				slog.Any("error", err),
			)
		} else {
			for _, ref := range refs {
				if ref.URL != "" {
					urlByPost[ref.ID] = ref.URL
				}
			}
		}
	}

	for i := range sources {
		src := &sources[i]
		if src.Kind == KindAttachment && src.ParentPostURL == "" {
			src.ParentPostURL = urlByPost[src.PostID]
		}
	}
}
