package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Collection names for the three content sources. Each collection stores the
// embeddings of one content table, mirroring the relational schema.
const (
	CollectionPosts       = "posts_embeddings"
	CollectionComments    = "comments_embeddings"
	CollectionAttachments = "attachments_embeddings"
)

// QdrantConfig holds connection parameters for the Qdrant vector store.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// VectorSize is the dimensionality of the stored embeddings.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantSearcher implements Searcher against three Qdrant collections, one
// per content source. It also exposes the upsert methods used by the
// ingestion pipeline so the collection schemas live in a single place.
type QdrantSearcher struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this searcher.
	cfg *QdrantConfig
}

// NewQdrantSearcher creates a QdrantSearcher, ensuring all three collections
// exist (creating them if necessary).
func NewQdrantSearcher(ctx context.Context, cfg *QdrantConfig) (*QdrantSearcher, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	s := &QdrantSearcher{client: client, cfg: cfg}
	for _, name := range []string{CollectionPosts, CollectionComments, CollectionAttachments} {
		if err := s.ensureCollection(ctx, name); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Client returns the underlying Qdrant client, used by the server's
// readiness pinger.
func (s *QdrantSearcher) Client() *qdrant.Client { return s.client }

// ensureCollection creates the named collection if it does not already exist.
func (s *QdrantSearcher) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
	}

	return nil
}

// query runs one similarity search against the named collection with the
// given score threshold and result cap, returning the raw scored points.
func (s *QdrantSearcher) query(ctx context.Context, collection string, embedding []float32, threshold float32, limit int) ([]*qdrant.ScoredPoint, error) {
	capped := uint64(limit)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &capped,
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %s failed: %w", collection, err)
	}
	return results, nil
}

// SearchPosts returns post rows near the query embedding, best match first.
func (s *QdrantSearcher) SearchPosts(ctx context.Context, embedding []float32, threshold float32, limit int) ([]PostHit, error) {
	results, err := s.query(ctx, CollectionPosts, embedding, threshold, limit)
	if err != nil {
		return nil, err
	}

	hits := make([]PostHit, 0, len(results))
	for _, r := range results {
		p := r.Payload
		hits = append(hits, PostHit{
			ID:        payloadInt(p, "id"),
			Title:     payloadString(p, "title"),
			Text:      payloadString(p, "text"),
			URL:       payloadString(p, "url"),
			CreatedAt: payloadString(p, "created_at"),
			Score:     r.Score,
		})
	}
	return hits, nil
}

// SearchComments returns comment rows near the query embedding, best match first.
func (s *QdrantSearcher) SearchComments(ctx context.Context, embedding []float32, threshold float32, limit int) ([]CommentHit, error) {
	results, err := s.query(ctx, CollectionComments, embedding, threshold, limit)
	if err != nil {
		return nil, err
	}

	hits := make([]CommentHit, 0, len(results))
	for _, r := range results {
		p := r.Payload
		hits = append(hits, CommentHit{
			PostID: payloadInt(p, "post_id"),
			Body:   payloadString(p, "body"),
			Score:  r.Score,
		})
	}
	return hits, nil
}

// SearchAttachments returns attachment rows near the query embedding, best match first.
func (s *QdrantSearcher) SearchAttachments(ctx context.Context, embedding []float32, threshold float32, limit int) ([]AttachmentHit, error) {
	results, err := s.query(ctx, CollectionAttachments, embedding, threshold, limit)
	if err != nil {
		return nil, err
	}

	hits := make([]AttachmentHit, 0, len(results))
	for _, r := range results {
		p := r.Payload
		hits = append(hits, AttachmentHit{
			PostID:        payloadInt(p, "post_id"),
			Key:           payloadString(p, "s3_key"),
			ExtractedText: payloadString(p, "extracted_text"),
			CreatedAt:     payloadString(p, "created_at"),
			Score:         r.Score,
		})
	}
	return hits, nil
}

// UpsertPosts stores post embeddings. embeddings must be parallel to posts.
func (s *QdrantSearcher) UpsertPosts(ctx context.Context, posts []PostHit, embeddings [][]float32) error {
	points := make([]*qdrant.PointStruct, 0, len(posts))
	for i, p := range posts {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(p.ID)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"id":         p.ID,
				"title":      p.Title,
				"text":       p.Text,
				"url":        p.URL,
				"created_at": p.CreatedAt,
			}),
		})
	}
	return s.upsert(ctx, CollectionPosts, points)
}

// UpsertComments stores comment embeddings keyed by the given comment IDs.
// ids and embeddings must be parallel to comments.
func (s *QdrantSearcher) UpsertComments(ctx context.Context, ids []int64, comments []CommentHit, embeddings [][]float32) error {
	points := make([]*qdrant.PointStruct, 0, len(comments))
	for i, c := range comments {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(ids[i])),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"post_id": c.PostID,
				"body":    c.Body,
			}),
		})
	}
	return s.upsert(ctx, CollectionComments, points)
}

// UpsertAttachments stores attachment embeddings. Point IDs are derived
// deterministically from the storage key so re-ingesting the same dump
// overwrites rather than duplicates.
func (s *QdrantSearcher) UpsertAttachments(ctx context.Context, attachments []AttachmentHit, embeddings [][]float32) error {
	points := make([]*qdrant.PointStruct, 0, len(attachments))
	for i, a := range attachments {
		id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(a.Key)).String()
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"post_id":        a.PostID,
				"s3_key":         a.Key,
				"extracted_text": a.ExtractedText,
				"created_at":     a.CreatedAt,
			}),
		})
	}
	return s.upsert(ctx, CollectionAttachments, points)
}

// upsert writes a batch of points into the named collection.
func (s *QdrantSearcher) upsert(ctx context.Context, collection string, points []*qdrant.PointStruct) error {
	if len(points) == 0 {
		return nil
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert into %s failed: %w", collection, err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantSearcher) Close() error {
	return s.client.Close()
}

// payloadString extracts a string field from a point payload, or "".
func payloadString(p map[string]*qdrant.Value, key string) string {
	if v, ok := p[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// payloadInt extracts an integer field from a point payload, or 0.
func payloadInt(p map[string]*qdrant.Value, key string) int64 {
	if v, ok := p[key]; ok {
		return v.GetIntegerValue()
	}
	return 0
}
