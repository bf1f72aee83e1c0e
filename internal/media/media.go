// Package media defines the Instagram media records shared by the ingestion
// pipeline: the raw feed entries returned by the Graph API and the normalized
// items persisted by the repository.
//
// A persisted Item is identified by (UserID, MediaID). That pair is the
// idempotency key for every write; PublishTimestamp is the only ordering
// signal used to decide what is "new".
package media

import (
	"fmt"
	"time"
)

// Type is the Instagram media_type value.
type Type string

const (
	TypeImage         Type = "IMAGE"
	TypeVideo         Type = "VIDEO"
	TypeCarouselAlbum Type = "CAROUSEL_ALBUM"
)

// Types lists every media type in the order enrichment walks them.
var Types = []Type{TypeImage, TypeCarouselAlbum, TypeVideo}

// Valid reports whether t is a known media type.
func (t Type) Valid() bool {
	switch t {
	case TypeImage, TypeVideo, TypeCarouselAlbum:
		return true
	}
	return false
}

// ParseType converts a user-supplied string (e.g. a CLI flag) to a Type.
// An empty string maps to the empty Type, meaning "all types".
func ParseType(s string) (Type, error) {
	if s == "" {
		return "", nil
	}
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown media type %q (want IMAGE, VIDEO or CAROUSEL_ALBUM)", s)
	}
	return t, nil
}

// ChildRef references one child of a carousel album.
type ChildRef struct {
	ID string `json:"id"`
}

// Item is a single persisted unit of content.
type Item struct {
	UserID           string     `json:"userId"`
	MediaID          string     `json:"mediaId"`
	PublishTimestamp time.Time  `json:"publishTimestamp"`
	MediaType        Type       `json:"mediaType"`
	MediaURL         string     `json:"mediaUrl"`
	Permalink        *string    `json:"permalink,omitempty"`
	ThumbnailURL     *string    `json:"thumbnailUrl,omitempty"`
	Caption          *string    `json:"caption,omitempty"`
	Description      *string    `json:"description,omitempty"`
	ParentMediaID    *string    `json:"parentMediaId,omitempty"`
	AlbumChildren    []ChildRef `json:"albumChildren,omitempty"`
	Embedding        []float32  `json:"embedding,omitempty"`
}

// Key returns the idempotency key "userID/mediaID".
func (i Item) Key() string {
	return i.UserID + "/" + i.MediaID
}

// ChildIDs returns the album child ids in order, or nil for a leaf item.
func (i Item) ChildIDs() []string {
	if i.AlbumChildren == nil {
		return nil
	}
	ids := make([]string, len(i.AlbumChildren))
	for n, c := range i.AlbumChildren {
		ids[n] = c.ID
	}
	return ids
}

// RawEntry is one entry of the Graph API /me/media feed.
// Children is only present on CAROUSEL_ALBUM entries.
type RawEntry struct {
	ID           string     `json:"id" validate:"required"`
	MediaType    Type       `json:"media_type" validate:"required,oneof=IMAGE VIDEO CAROUSEL_ALBUM"`
	MediaURL     string     `json:"media_url" validate:"required"`
	Permalink    string     `json:"permalink,omitempty"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	Caption      string     `json:"caption,omitempty"`
	Timestamp    string     `json:"timestamp" validate:"omitempty,igtimestamp"`
	Username     string     `json:"username,omitempty"`
	Children     *ChildPage `json:"children,omitempty"`
}

// ChildPage wraps the children{...} edge of an album entry.
type ChildPage struct {
	Data []RawEntry `json:"data" validate:"dive"`
}

// ChildEntries returns the album's children, or nil when absent.
func (e RawEntry) ChildEntries() []RawEntry {
	if e.Children == nil {
		return nil
	}
	return e.Children.Data
}

// Paging carries the opaque cursors the Graph API returns with each page.
type Paging struct {
	Cursors *Cursors `json:"cursors,omitempty"`
	Next    string   `json:"next,omitempty"`
}

// Cursors are the before/after markers of a page.
type Cursors struct {
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// Page is one page of the user's media feed, newest first.
type Page struct {
	Data   []RawEntry `json:"data" validate:"required,dive"`
	Paging *Paging    `json:"paging,omitempty"`
}

// NextURL returns the next-page cursor URL, or "" on the last page.
func (p *Page) NextURL() string {
	if p == nil || p.Paging == nil {
		return ""
	}
	return p.Paging.Next
}

// timestampLayouts are tried in order. The Graph API emits "+0000" offsets
// which RFC 3339 does not accept.
var timestampLayouts = []string{
	"2006-01-02T15:04:05-0700",
	time.RFC3339,
	time.RFC3339Nano,
}

// ParseTimestamp parses a Graph API timestamp into UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid media timestamp %q", s)
}

// StringPtr returns nil for the empty string, or a pointer to s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string, or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
