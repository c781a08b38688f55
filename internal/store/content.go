package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ratemate/ratemate-go/internal/rag"
)

// Post is one scraped subreddit post.
type Post struct {
	ID        int64
	Title     string
	Content   string
	URL       string
	Author    string
	Score     int64
	CreatedAt time.Time
}

// Comment is one scraped comment attached to a post.
type Comment struct {
	ID        int64
	PostID    int64
	Content   string
	Author    string
	Score     int64
	CreatedAt time.Time
}

// Attachment is a document extracted from a post, keyed by its object
// storage key.
type Attachment struct {
	Key       string
	PostID    int64
	Summary   string
	CreatedAt time.Time
}

// Target selects which corpus table a query runs against.
type Target string

const (
	// TargetPosts queries the posts table.
	TargetPosts Target = "posts"
	// TargetComments queries the comments table.
	TargetComments Target = "comments"
	// TargetAttachments queries the attachments table.
	TargetAttachments Target = "attachments"
)

// table maps a Target to its table name, rejecting anything outside the
// closed set so a target can never reach the SQL string unvalidated.
func (t Target) table() (string, error) {
	switch t {
	case TargetPosts, TargetComments, TargetAttachments:
		return string(t), nil
	default:
		return "", fmt.Errorf("store: unknown target %q", t)
	}
}

// UpsertPosts inserts or replaces a batch of posts in one transaction.
func (s *SQLiteStore) UpsertPosts(ctx context.Context, posts []Post) error {
	const q = `INSERT OR REPLACE INTO posts (id, title, content, url, author, score, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	return s.batch(ctx, "posts", q, len(posts), func(stmt *sql.Stmt, i int) error {
		p := posts[i]
		_, err := stmt.ExecContext(ctx, p.ID, p.Title, p.Content, p.URL, p.Author, p.Score, p.CreatedAt.Unix())
		return err
	})
}

// UpsertComments inserts or replaces a batch of comments in one transaction.
func (s *SQLiteStore) UpsertComments(ctx context.Context, comments []Comment) error {
	const q = `INSERT OR REPLACE INTO comments (id, post_id, content, author, score, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	return s.batch(ctx, "comments", q, len(comments), func(stmt *sql.Stmt, i int) error {
		c := comments[i]
		_, err := stmt.ExecContext(ctx, c.ID, c.PostID, c.Content, c.Author, c.Score, c.CreatedAt.Unix())
		return err
	})
}

// UpsertAttachments inserts or replaces a batch of attachments in one
// transaction.
func (s *SQLiteStore) UpsertAttachments(ctx context.Context, attachments []Attachment) error {
	const q = `INSERT OR REPLACE INTO attachments (key, post_id, summary, created_at)
VALUES (?, ?, ?, ?)`
	return s.batch(ctx, "attachments", q, len(attachments), func(stmt *sql.Stmt, i int) error {
		a := attachments[i]
		_, err := stmt.ExecContext(ctx, a.Key, a.PostID, a.Summary, a.CreatedAt.Unix())
		return err
	})
}

// batch runs a prepared statement n times inside one transaction.
func (s *SQLiteStore) batch(ctx context.Context, what, q string, n int, exec func(*sql.Stmt, int) error) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin %s batch: %w", what, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("store: prepare %s batch: %w", what, err)
	}
	defer stmt.Close()

	for i := range n {
		if err := exec(stmt, i); err != nil {
			return fmt.Errorf("store: %s batch row %d: %w", what, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit %s batch: %w", what, err)
	}
	return nil
}

// PostsByIDs returns title and URL references for the given post IDs in one
// query. Unknown IDs are silently absent from the result.
func (s *SQLiteStore) PostsByIDs(ctx context.Context, ids []int64) ([]rag.PostRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT id, title, url FROM posts WHERE id IN (?` // placeholders appended below
	args := make([]any, 0, len(ids))
	args = append(args, ids[0])
	for _, id := range ids[1:] {
		q += ", ?"
		args = append(args, id)
	}
	q += ")"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: posts by ids: %w", err)
	}
	defer rows.Close()

	var refs []rag.PostRef
	for rows.Next() {
		var r rag.PostRef
		if err := rows.Scan(&r.ID, &r.Title, &r.URL); err != nil {
			return nil, fmt.Errorf("store: posts by ids scan: %w", err)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: posts by ids rows: %w", err)
	}
	return refs, nil
}

// Counts returns the total row count of each corpus table.
func (s *SQLiteStore) Counts(ctx context.Context) (rag.Stats, error) {
	var stats rag.Stats
	const q = `
SELECT (SELECT COUNT(*) FROM posts),
       (SELECT COUNT(*) FROM comments),
       (SELECT COUNT(*) FROM attachments)`
	if err := s.db.QueryRowContext(ctx, q).Scan(&stats.Posts, &stats.Comments, &stats.Attachments); err != nil {
		return rag.Stats{}, fmt.Errorf("store: counts: %w", err)
	}
	return stats, nil
}

// CountBetween counts rows of the target table created in [from, to).
// A zero time disables that bound.
func (s *SQLiteStore) CountBetween(ctx context.Context, target Target, from, to time.Time) (int64, error) {
	table, err := target.table()
	if err != nil {
		return 0, err
	}
	q, args := timeBounded("SELECT COUNT(*) FROM "+table, from, to)

	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count %s: %w", table, err)
	}
	return n, nil
}

// AverageScore returns the mean score of posts or comments created in
// [from, to). Attachments carry no score. Returns 0 over an empty range.
func (s *SQLiteStore) AverageScore(ctx context.Context, target Target, from, to time.Time) (float64, error) {
	if target == TargetAttachments {
		return 0, fmt.Errorf("store: attachments have no score")
	}
	table, err := target.table()
	if err != nil {
		return 0, err
	}
	q, args := timeBounded("SELECT COALESCE(AVG(score), 0) FROM "+table, from, to)

	var avg float64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("store: average score %s: %w", table, err)
	}
	return avg, nil
}

// RecentPosts returns up to limit posts created in [from, to), newest first.
func (s *SQLiteStore) RecentPosts(ctx context.Context, from, to time.Time, limit int) ([]Post, error) {
	q, args := timeBounded("SELECT id, title, content, url, author, score, created_at FROM posts", from, to)
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: recent posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		var ts int64
		if err := rows.Scan(&p.ID, &p.Title, &p.Content, &p.URL, &p.Author, &p.Score, &ts); err != nil {
			return nil, fmt.Errorf("store: recent posts scan: %w", err)
		}
		p.CreatedAt = time.Unix(ts, 0)
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent posts rows: %w", err)
	}
	return posts, nil
}

// timeBounded appends created_at range predicates for the non-zero bounds.
func timeBounded(q string, from, to time.Time) (string, []any) {
	var (
		args []any
		sep  = " WHERE "
	)
	if !from.IsZero() {
		q += sep + "created_at >= ?"
		args = append(args, from.Unix())
		sep = " AND "
	}
	if !to.IsZero() {
		q += sep + "created_at < ?"
		args = append(args, to.Unix())
	}
	return q, args
}
