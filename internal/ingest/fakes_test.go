package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/fpang/media-ingest/internal/chat"
	"github.com/fpang/media-ingest/internal/instagram"
	"github.com/fpang/media-ingest/internal/media"
)

// fakeDescriber returns "desc:<urls>" and records every call.
type fakeDescriber struct {
	mu    sync.Mutex
	calls []describeCall
	fail  map[string]bool // image URL -> fail
	panic string          // image URL that panics
}

type describeCall struct {
	urls []string
	dctx chat.DescribeContext
}

func (f *fakeDescriber) Describe(_ context.Context, images []chat.ImageRef, dctx chat.DescribeContext) (string, error) {
	urls := make([]string, len(images))
	for i, img := range images {
		urls[i] = img.URL
	}
	f.mu.Lock()
	f.calls = append(f.calls, describeCall{urls: urls, dctx: dctx})
	f.mu.Unlock()

	for _, u := range urls {
		if u == f.panic {
			panic("describer exploded")
		}
		if f.fail[u] {
			return "", errors.New("model unavailable")
		}
	}
	return "desc:" + strings.Join(urls, ","), nil
}

func (f *fakeDescriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeFeed serves pages keyed by next URL; "" is the first page.
type fakeFeed struct {
	pages    map[string]*media.Page
	requests []string
	err      error

	exchanged int
	refreshed int
}

func (f *fakeFeed) GetUserMedia(_ context.Context, token string) (*media.Page, error) {
	f.requests = append(f.requests, "first:"+token)
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[""], nil
}

func (f *fakeFeed) GetPage(_ context.Context, nextURL string) (*media.Page, error) {
	f.requests = append(f.requests, nextURL)
	return f.pages[nextURL], nil
}

func (f *fakeFeed) ExchangeCode(_ context.Context, code, _, _, _ string) (*instagram.ExchangeCodeResult, error) {
	if code == "bad" {
		return nil, errors.New("invalid code")
	}
	f.exchanged++
	return &instagram.ExchangeCodeResult{AccessToken: "short-" + code, UserID: "17841400000000000"}, nil
}

func (f *fakeFeed) ExchangeLongLivedToken(_ context.Context, shortToken, _ string) (*instagram.LongLivedTokenResult, error) {
	return &instagram.LongLivedTokenResult{AccessToken: "long-" + shortToken, ExpiresIn: 5184000}, nil
}

func (f *fakeFeed) RefreshToken(_ context.Context, longToken string) (*instagram.LongLivedTokenResult, error) {
	f.refreshed++
	return &instagram.LongLivedTokenResult{AccessToken: longToken + "-refreshed", ExpiresIn: 5184000}, nil
}

func image(id, ts string) media.RawEntry {
	return media.RawEntry{ID: id, MediaType: media.TypeImage, MediaURL: "https://cdn/" + id + ".jpg", Timestamp: ts, Caption: "caption " + id}
}

func video(id, ts string) media.RawEntry {
	return media.RawEntry{ID: id, MediaType: media.TypeVideo, MediaURL: "https://cdn/" + id + ".mp4", ThumbnailURL: "https://cdn/" + id + ".jpg", Timestamp: ts}
}

func album(id, ts string, children ...media.RawEntry) media.RawEntry {
	return media.RawEntry{
		ID: id, MediaType: media.TypeCarouselAlbum, MediaURL: "https://cdn/" + id + ".jpg",
		Timestamp: ts, Caption: "album " + id, Children: &media.ChildPage{Data: children},
	}
}

func child(id string, t media.Type) media.RawEntry {
	return media.RawEntry{ID: id, MediaType: t, MediaURL: "https://cdn/" + id}
}

func ids(items []media.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.MediaID
	}
	return out
}

func entryIDs(entries []media.RawEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
