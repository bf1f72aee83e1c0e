// Package ingest runs incremental Instagram ingestion for one user: fetch the
// entries newer than what is stored, expand albums, describe images on a
// bounded worker pool, upsert the result and enrich it with embeddings.
package ingest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/media"
)

// DefaultFetchCap is the number of feed entries after which paging stops.
const DefaultFetchCap = 500

// MediaProvider is the remote feed.
type MediaProvider interface {
	GetUserMedia(ctx context.Context, accessToken string) (*media.Page, error)
	GetPage(ctx context.Context, nextURL string) (*media.Page, error)
}

// NewSince returns the prefix of feed (newest first) that precedes the stored
// latest item. With nothing stored the whole feed is new. When the latest id
// is not in the feed the whole feed is returned as well.
func NewSince(feed []media.RawEntry, latest *media.Item) []media.RawEntry {
	if latest == nil {
		return feed
	}
	for i, entry := range feed {
		if entry.ID == latest.MediaID {
			return feed[:i]
		}
	}
	log.Warn().
		Str("userId", latest.UserID).
		Str("latestMediaId", latest.MediaID).
		Int("fetched", len(feed)).
		Bool("cutoffMissing", true).
		Msg("Latest stored item not found in fetched feed, treating all entries as new")
	return feed
}

// FetchNew pages through the user's feed until a page has no next cursor or
// at least fetchCap entries are collected, then applies NewSince. Each page
// is validated before it is accepted. Paging also stops early once the
// latest stored id has been seen.
func FetchNew(ctx context.Context, provider MediaProvider, accessToken string, latest *media.Item, fetchCap int) ([]media.RawEntry, error) {
	if fetchCap <= 0 {
		fetchCap = DefaultFetchCap
	}

	page, err := provider.GetUserMedia(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	var feed []media.RawEntry
	for pageNum := 1; ; pageNum++ {
		if err := media.ValidatePage(page); err != nil {
			return nil, fmt.Errorf("feed page %d: %w", pageNum, err)
		}
		feed = append(feed, page.Data...)

		next := page.NextURL()
		switch {
		case next == "":
			log.Debug().Int("pages", pageNum).Int("fetched", len(feed)).Msg("Feed exhausted")
			return NewSince(feed, latest), nil
		case len(feed) >= fetchCap:
			log.Debug().Int("pages", pageNum).Int("fetched", len(feed)).Int("cap", fetchCap).Msg("Fetch cap reached, feed truncated")
			return NewSince(feed, latest), nil
		case latest != nil && containsID(page.Data, latest.MediaID):
			log.Debug().Int("pages", pageNum).Int("fetched", len(feed)).Msg("Reached latest stored item")
			return NewSince(feed, latest), nil
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch feed: %w", err)
		}
		page, err = provider.GetPage(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("fetch feed page %d: %w", pageNum+1, err)
		}
	}
}

func containsID(entries []media.RawEntry, id string) bool {
	for _, e := range entries {
		if e.ID == id {
			return true
		}
	}
	return false
}
