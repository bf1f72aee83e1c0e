// Package store persists ingested media items and ingestion run records.
//
// Media items live in a relational table keyed by (media_id, user_id). Two
// backends implement Repository: SQLite (modernc.org/sqlite) for local runs
// and tests, and Aurora PostgreSQL with pgvector through the RDS Data API
// for deployed Lambdas. Run records and the per-user run lease live in a
// DynamoDB table (DynamoRunLedger).
//
// All Get methods return (nil, nil) when the requested record does not exist.
// Upsert is idempotent on (user_id, media_id) and never touches embeddings.
package store

import (
	"context"

	"github.com/fpang/media-ingest/internal/media"
)

// DefaultBatchSize is the number of items written per transaction.
const DefaultBatchSize = 1000

// Repository is the media item persistence interface used by ingestion and
// enrichment. Implementations must be safe for concurrent use.
type Repository interface {
	// Upsert inserts or updates items in chunks of at most batchSize, one
	// transaction per chunk. Returns the number of items written. On error,
	// earlier chunks stay committed.
	Upsert(ctx context.Context, items []media.Item, batchSize int) (int, error)

	// GetByID returns one item, or nil, nil if absent.
	GetByID(ctx context.Context, userID, mediaID string) (*media.Item, error)

	// GetRecent returns up to n items ordered by publish time, newest first.
	// An empty mediaType matches all types. Among items with the same publish
	// time, top-level items sort before album children.
	GetRecent(ctx context.Context, userID string, n int, mediaType media.Type) ([]media.Item, error)

	// GetAll returns every item of the user, newest first.
	GetAll(ctx context.Context, userID string, mediaType media.Type) ([]media.Item, error)

	// GetLatest returns the newest top-level item (never an album child), or
	// nil, nil if the user has nothing stored. Album children can carry their
	// own, later timestamps, but only top-level ids appear in the feed.
	GetLatest(ctx context.Context, userID string) (*media.Item, error)

	// GetUnenriched returns up to limit items of the given type that have no
	// embedding yet and have text to embed: a description for images and
	// albums, a caption for videos. Newest first.
	GetUnenriched(ctx context.Context, userID string, mediaType media.Type, limit int) ([]media.Item, error)

	// UpdateEmbeddings sets the embedding of each listed media id and touches
	// nothing else. Returns the number of rows updated.
	UpdateEmbeddings(ctx context.Context, userID string, embeddings map[string][]float32) (int, error)

	// DeleteUser removes every item of the user and returns how many rows
	// were deleted.
	DeleteUser(ctx context.Context, userID string) (int, error)
}

const (
	// topLevel excludes album children.
	topLevel = `parent_media_id IS NULL`

	// unenriched mirrors rag.BuildEmbeddingInput: videos embed their
	// caption, images and albums their description.
	unenriched = `embedding IS NULL AND TRIM(COALESCE(CASE WHEN media_type = 'VIDEO' THEN caption ELSE description END, '')) <> ''`
)

// chunk splits items into consecutive slices of at most size elements.
func chunk(items []media.Item, size int) [][]media.Item {
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([][]media.Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
