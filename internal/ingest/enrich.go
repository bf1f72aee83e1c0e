package ingest

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/media"
	"github.com/fpang/media-ingest/internal/rag"
	"github.com/fpang/media-ingest/internal/store"
)

// DefaultEnrichLimit caps how many items of each type one pass embeds.
const DefaultEnrichLimit = 500

// Enricher embeds stored items that have no embedding yet.
type Enricher struct {
	repo     store.Repository
	embedder rag.Embedder
	limit    int
}

// NewEnricher creates an Enricher. A nil embedder disables enrichment.
func NewEnricher(repo store.Repository, embedder rag.Embedder, limit int) *Enricher {
	if limit <= 0 {
		limit = DefaultEnrichLimit
	}
	return &Enricher{repo: repo, embedder: embedder, limit: limit}
}

// Enrich embeds the user's unenriched items type by type and writes each
// type's embeddings in one update. It is best-effort: failures are logged
// and the number of items enriched so far is returned.
func (e *Enricher) Enrich(ctx context.Context, userID string) int {
	if e == nil || e.embedder == nil {
		return 0
	}
	total := 0
	for _, t := range media.Types {
		pending, err := e.repo.GetUnenriched(ctx, userID, t, e.limit)
		if err != nil {
			log.Warn().Err(err).Str("userId", userID).Str("mediaType", string(t)).Msg("Loading unenriched media failed")
			continue
		}
		if len(pending) == 0 {
			continue
		}

		embeddings := make(map[string][]float32, len(pending))
		skipped := 0
		for _, item := range pending {
			text := rag.BuildEmbeddingInput(item)
			if text == "" {
				skipped++
				continue
			}
			vec, err := e.embedder.Embed(ctx, text)
			if err != nil {
				log.Warn().Err(err).Str("userId", userID).Str("mediaId", item.MediaID).Msg("Embedding failed")
				continue
			}
			embeddings[item.MediaID] = vec
		}
		if len(embeddings) == 0 {
			log.Debug().Str("mediaType", string(t)).Int("pending", len(pending)).Int("skipped", skipped).Msg("Nothing embeddable")
			continue
		}

		n, err := e.repo.UpdateEmbeddings(ctx, userID, embeddings)
		if err != nil {
			log.Warn().Err(err).Str("userId", userID).Str("mediaType", string(t)).Msg("Saving embeddings failed")
			continue
		}
		total += n
		log.Info().
			Str("userId", userID).
			Str("mediaType", string(t)).
			Int("pending", len(pending)).
			Int("skipped", skipped).
			Int("enriched", n).
			Msg("Media enriched")
	}
	return total
}
