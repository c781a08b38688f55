package store

import (
	"context"
	"testing"
	"time"
)

// seedContent loads a small fixed corpus into the store.
func seedContent(t *testing.T, s *SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	day := func(d int) time.Time {
		return time.Date(2025, 6, d, 12, 0, 0, 0, time.UTC)
	}

	posts := []Post{
		{ID: 1, Title: "Locked 6.5% today", URL: "https://reddit.com/r/FirstTimeHomeBuyer/1", Score: 40, CreatedAt: day(1)},
		{ID: 2, Title: "Inspection horror story", URL: "https://reddit.com/r/FirstTimeHomeBuyer/2", Score: 12, CreatedAt: day(3)},
		{ID: 3, Title: "Closing costs breakdown", URL: "https://reddit.com/r/FirstTimeHomeBuyer/3", Score: 8, CreatedAt: day(5)},
	}
	if err := s.UpsertPosts(ctx, posts); err != nil {
		t.Fatalf("upsert posts: %v", err)
	}

	comments := []Comment{
		{ID: 10, PostID: 1, Content: "same rate here", Score: 4, CreatedAt: day(1)},
		{ID: 11, PostID: 2, Content: "walk away", Score: 6, CreatedAt: day(4)},
	}
	if err := s.UpsertComments(ctx, comments); err != nil {
		t.Fatalf("upsert comments: %v", err)
	}

	attachments := []Attachment{
		{Key: "docs/1/estimate.pdf", PostID: 1, Summary: "loan estimate", CreatedAt: day(1)},
	}
	if err := s.UpsertAttachments(ctx, attachments); err != nil {
		t.Fatalf("upsert attachments: %v", err)
	}
}

func TestContent_Counts(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seedContent(t, s)

	stats, err := s.Counts(context.Background())
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if stats.Posts != 3 || stats.Comments != 2 || stats.Attachments != 1 {
		t.Errorf("want 3/2/1, got %d/%d/%d", stats.Posts, stats.Comments, stats.Attachments)
	}
}

func TestContent_PostsByIDs(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seedContent(t, s)

	refs, err := s.PostsByIDs(context.Background(), []int64{1, 3, 999})
	if err != nil {
		t.Fatalf("posts by ids: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("want 2 refs, got %d", len(refs))
	}
	byID := map[int64]string{}
	for _, r := range refs {
		byID[r.ID] = r.URL
	}
	if byID[1] != "https://reddit.com/r/FirstTimeHomeBuyer/1" {
		t.Errorf("post 1 url: got %q", byID[1])
	}
	if _, ok := byID[999]; ok {
		t.Errorf("unknown id 999 should be absent")
	}
}

func TestContent_PostsByIDsEmpty(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	refs, err := s.PostsByIDs(context.Background(), nil)
	if err != nil {
		t.Fatalf("posts by ids: %v", err)
	}
	if refs != nil {
		t.Errorf("want nil for empty input, got %v", refs)
	}
}

func TestContent_CountBetween(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seedContent(t, s)
	ctx := context.Background()

	from := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)

	n, err := s.CountBetween(ctx, TargetPosts, from, to)
	if err != nil {
		t.Fatalf("count between: %v", err)
	}
	if n != 1 {
		t.Errorf("want 1 post in range, got %d", n)
	}

	all, err := s.CountBetween(ctx, TargetComments, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("count all comments: %v", err)
	}
	if all != 2 {
		t.Errorf("want 2 comments all time, got %d", all)
	}
}

func TestContent_CountBetweenRejectsUnknownTarget(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if _, err := s.CountBetween(context.Background(), Target("posts; DROP TABLE posts"), time.Time{}, time.Time{}); err == nil {
		t.Fatal("want error for unknown target")
	}
}

func TestContent_AverageScore(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seedContent(t, s)
	ctx := context.Background()

	avg, err := s.AverageScore(ctx, TargetPosts, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("average score: %v", err)
	}
	if want := 20.0; avg != want {
		t.Errorf("want avg %v, got %v", want, avg)
	}

	if _, err := s.AverageScore(ctx, TargetAttachments, time.Time{}, time.Time{}); err == nil {
		t.Fatal("want error for attachments")
	}
}

func TestContent_RecentPostsNewestFirst(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seedContent(t, s)

	posts, err := s.RecentPosts(context.Background(), time.Time{}, time.Time{}, 2)
	if err != nil {
		t.Fatalf("recent posts: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("want 2 posts, got %d", len(posts))
	}
	if posts[0].ID != 3 || posts[1].ID != 2 {
		t.Errorf("want ids [3 2], got [%d %d]", posts[0].ID, posts[1].ID)
	}
}

func TestContent_UpsertReplacesExisting(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seedContent(t, s)
	ctx := context.Background()

	updated := []Post{{ID: 1, Title: "Locked 6.25% after float down", Score: 55, CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}}
	if err := s.UpsertPosts(ctx, updated); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	stats, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if stats.Posts != 3 {
		t.Errorf("re-upsert should not grow the table: got %d posts", stats.Posts)
	}

	refs, err := s.PostsByIDs(ctx, []int64{1})
	if err != nil {
		t.Fatalf("posts by ids: %v", err)
	}
	if len(refs) != 1 || refs[0].Title != "Locked 6.25% after float down" {
		t.Errorf("want updated title, got %v", refs)
	}
}
