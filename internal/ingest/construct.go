package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/chat"
	"github.com/fpang/media-ingest/internal/media"
)

// Constructor turns raw feed entries into media items, describing images and
// albums along the way. It is safe for concurrent use.
type Constructor struct {
	describer   chat.Describer
	imagePrompt string
	albumPrompt string

	describeFailures atomic.Int64
}

// NewConstructor creates a Constructor. A nil describer leaves every
// description empty.
func NewConstructor(describer chat.Describer, imagePrompt, albumPrompt string) *Constructor {
	return &Constructor{describer: describer, imagePrompt: imagePrompt, albumPrompt: albumPrompt}
}

// DescribeFailures returns how many describe calls have failed so far.
func (c *Constructor) DescribeFailures() int {
	return int(c.describeFailures.Load())
}

// Construct builds the items for one feed entry. IMAGE and VIDEO entries
// yield one item; a CAROUSEL_ALBUM yields its children in feed order
// followed by the album itself. Videos are never described.
//
// A failed description leaves that item without one. The only describe
// error that fails construction is an open circuit breaker: the provider is
// down and the run should be retried rather than saved without descriptions.
func (c *Constructor) Construct(ctx context.Context, userID string, entry media.RawEntry) ([]media.Item, error) {
	published, err := media.ParseTimestamp(entry.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", entry.ID, err)
	}

	if entry.MediaType != media.TypeCarouselAlbum {
		item := newItem(userID, entry, published)
		if entry.MediaType == media.TypeImage {
			if item.Description, err = c.describeImage(ctx, entry.ID, entry.MediaURL, entry.Caption, entry.Timestamp); err != nil {
				return nil, err
			}
		}
		return []media.Item{item}, nil
	}

	children := entry.ChildEntries()
	items := make([]media.Item, 0, len(children)+1)
	refs := make([]media.ChildRef, 0, len(children))
	var albumImages []chat.ImageRef

	for _, child := range children {
		if child.Caption == "" {
			child.Caption = entry.Caption
		}
		childPublished := published
		if child.Timestamp == "" {
			child.Timestamp = entry.Timestamp
		} else if t, err := media.ParseTimestamp(child.Timestamp); err == nil {
			childPublished = t
		}

		item := newItem(userID, child, childPublished)
		item.ParentMediaID = media.StringPtr(entry.ID)
		if child.MediaType == media.TypeImage {
			if item.Description, err = c.describeImage(ctx, child.ID, child.MediaURL, child.Caption, child.Timestamp); err != nil {
				return nil, err
			}
			albumImages = append(albumImages, chat.ImageRef{URL: child.MediaURL, Detail: chat.DetailHigh})
		}
		items = append(items, item)
		refs = append(refs, media.ChildRef{ID: child.ID})
	}

	album := newItem(userID, entry, published)
	album.AlbumChildren = refs
	album.Description, err = c.describe(ctx, entry.ID, albumImages, chat.DescribeContext{
		Caption:   entry.Caption,
		Timestamp: entry.Timestamp,
		Prompt:    c.albumPrompt,
		Album:     true,
	})
	if err != nil {
		return nil, err
	}
	return append(items, album), nil
}

func newItem(userID string, e media.RawEntry, published time.Time) media.Item {
	return media.Item{
		UserID:           userID,
		MediaID:          e.ID,
		PublishTimestamp: published,
		MediaType:        e.MediaType,
		MediaURL:         e.MediaURL,
		Permalink:        media.StringPtr(e.Permalink),
		ThumbnailURL:     media.StringPtr(e.ThumbnailURL),
		Caption:          media.StringPtr(e.Caption),
	}
}

func (c *Constructor) describeImage(ctx context.Context, mediaID, url, caption, timestamp string) (*string, error) {
	return c.describe(ctx, mediaID, []chat.ImageRef{{URL: url, Detail: chat.DetailHigh}}, chat.DescribeContext{
		Caption:   caption,
		Timestamp: timestamp,
		Prompt:    c.imagePrompt,
	})
}

// describe returns a nil description on any failure of this one call,
// including a describer panic. It returns an error only when the breaker is
// open.
func (c *Constructor) describe(ctx context.Context, mediaID string, images []chat.ImageRef, dctx chat.DescribeContext) (*string, error) {
	if c.describer == nil || len(images) == 0 {
		return nil, nil
	}
	text, err := c.callDescriber(ctx, images, dctx)
	if err == nil {
		return media.StringPtr(text), nil
	}
	c.describeFailures.Add(1)
	kind := chat.Classify(err)
	if kind == chat.FailureCircuitOpen {
		return nil, fmt.Errorf("describe %s: %w", mediaID, err)
	}
	log.Warn().Err(err).
		Str("mediaId", mediaID).
		Str("failureKind", string(kind)).
		Bool("album", dctx.Album).
		Msg("Description failed, storing item without one")
	return nil, nil
}

func (c *Constructor) callDescriber(ctx context.Context, images []chat.ImageRef, dctx chat.DescribeContext) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("describer panic: %v", r)
		}
	}()
	return c.describer.Describe(ctx, images, dctx)
}
