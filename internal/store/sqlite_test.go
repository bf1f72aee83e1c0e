package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fpang/media-ingest/internal/media"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func str(s string) *string { return &s }

// Fixtures mirror a real account: one image, one video, one two-child album.
func fixtureItems() []media.Item {
	return []media.Item{
		{
			UserID: "user-1", MediaID: "17854360229135492", PublishTimestamp: ts("2024-06-11T21:09:24Z"),
			MediaType: media.TypeImage, MediaURL: "https://cdn/img.jpg",
			Caption: str("sunset"), Description: str("A sunset over the bay."),
		},
		{
			UserID: "user-1", MediaID: "17895695668004550", PublishTimestamp: ts("2024-06-10T08:00:00Z"),
			MediaType: media.TypeVideo, MediaURL: "https://cdn/vid.mp4", ThumbnailURL: str("https://cdn/vid.jpg"),
		},
		{
			UserID: "user-1", MediaID: "c1", PublishTimestamp: ts("2024-06-12T10:00:00Z"),
			MediaType: media.TypeImage, MediaURL: "https://cdn/c1.jpg", ParentMediaID: str("album-1"),
		},
		{
			UserID: "user-1", MediaID: "c2", PublishTimestamp: ts("2024-06-12T10:00:00Z"),
			MediaType: media.TypeImage, MediaURL: "https://cdn/c2.jpg", ParentMediaID: str("album-1"),
		},
		{
			UserID: "user-1", MediaID: "album-1", PublishTimestamp: ts("2024-06-12T10:00:00Z"),
			MediaType: media.TypeCarouselAlbum, MediaURL: "https://cdn/c1.jpg",
			AlbumChildren: []media.ChildRef{{ID: "c1"}, {ID: "c2"}},
		},
	}
}

func TestSQLite_UpsertAndGetByID(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	n, err := repo.Upsert(ctx, fixtureItems(), DefaultBatchSize)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if n != 5 {
		t.Errorf("written = %d, want 5", n)
	}

	album, err := repo.GetByID(ctx, "user-1", "album-1")
	if err != nil || album == nil {
		t.Fatalf("GetByID album = %v, %v", album, err)
	}
	if ids := album.ChildIDs(); len(ids) != 2 || ids[0] != "c1" || ids[1] != "c2" {
		t.Errorf("album children = %v", ids)
	}
	if album.ParentMediaID != nil {
		t.Errorf("album parent = %v, want nil", *album.ParentMediaID)
	}

	child, _ := repo.GetByID(ctx, "user-1", "c1")
	if child == nil || media.Deref(child.ParentMediaID) != "album-1" || child.AlbumChildren != nil {
		t.Errorf("unexpected child: %+v", child)
	}

	video, _ := repo.GetByID(ctx, "user-1", "17895695668004550")
	if video == nil || video.Description != nil || video.Caption != nil {
		t.Errorf("unexpected video: %+v", video)
	}
	if !video.PublishTimestamp.Equal(ts("2024-06-10T08:00:00Z")) {
		t.Errorf("video timestamp = %v", video.PublishTimestamp)
	}

	missing, err := repo.GetByID(ctx, "user-1", "nope")
	if err != nil || missing != nil {
		t.Errorf("GetByID missing = %v, %v", missing, err)
	}
	other, err := repo.GetByID(ctx, "user-2", "album-1")
	if err != nil || other != nil {
		t.Errorf("GetByID other user = %v, %v", other, err)
	}
}

func TestSQLite_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	items := fixtureItems()
	if _, err := repo.Upsert(ctx, items, DefaultBatchSize); err != nil {
		t.Fatal(err)
	}
	first, _ := repo.GetAll(ctx, "user-1", "")

	if _, err := repo.Upsert(ctx, items, DefaultBatchSize); err != nil {
		t.Fatal(err)
	}
	second, _ := repo.GetAll(ctx, "user-1", "")

	if len(first) != len(second) || len(second) != len(items) {
		t.Fatalf("row count changed: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if first[i].MediaID != second[i].MediaID ||
			media.Deref(first[i].Description) != media.Deref(second[i].Description) {
			t.Errorf("row %d differs after re-upsert: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSQLite_UpsertUpdatesMutableFields(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	item := fixtureItems()[0]
	if _, err := repo.Upsert(ctx, []media.Item{item}, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.UpdateEmbeddings(ctx, "user-1", map[string][]float32{item.MediaID: {0.5, 0.25}}); err != nil {
		t.Fatal(err)
	}

	item.Caption = str("new caption")
	item.Description = nil
	if _, err := repo.Upsert(ctx, []media.Item{item}, 1); err != nil {
		t.Fatal(err)
	}

	got, _ := repo.GetByID(ctx, "user-1", item.MediaID)
	if media.Deref(got.Caption) != "new caption" {
		t.Errorf("caption = %q", media.Deref(got.Caption))
	}
	if got.Description != nil {
		t.Errorf("description = %q, want nil", *got.Description)
	}
	if len(got.Embedding) != 2 || got.Embedding[0] != 0.5 {
		t.Errorf("embedding was touched by upsert: %v", got.Embedding)
	}
}

func TestSQLite_BatchSizeDoesNotChangeResult(t *testing.T) {
	ctx := context.Background()
	var items []media.Item
	base := ts("2024-01-01T00:00:00Z")
	for i := 0; i < 23; i++ {
		items = append(items, media.Item{
			UserID: "user-1", MediaID: fmt.Sprintf("m%02d", i), PublishTimestamp: base.Add(time.Duration(i) * time.Hour),
			MediaType: media.TypeImage, MediaURL: "u",
		})
	}

	for _, size := range []int{1, 5, 23, 1000} {
		repo := openTestRepo(t)
		n, err := repo.Upsert(ctx, items, size)
		if err != nil {
			t.Fatalf("batch %d: %v", size, err)
		}
		if n != len(items) {
			t.Errorf("batch %d: written = %d", size, n)
		}
		all, _ := repo.GetAll(ctx, "user-1", "")
		if len(all) != len(items) {
			t.Errorf("batch %d: rows = %d", size, len(all))
		}
	}
}

func TestSQLite_GetRecentOrdering(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	items := []media.Item{
		{UserID: "u", MediaID: "t1", PublishTimestamp: ts("2024-01-01T00:00:00Z"), MediaType: media.TypeImage, MediaURL: "u"},
		{UserID: "u", MediaID: "t3", PublishTimestamp: ts("2024-03-01T00:00:00Z"), MediaType: media.TypeVideo, MediaURL: "u"},
		{UserID: "u", MediaID: "t2", PublishTimestamp: ts("2024-02-01T00:00:00Z"), MediaType: media.TypeImage, MediaURL: "u"},
	}
	if _, err := repo.Upsert(ctx, items, DefaultBatchSize); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetRecent(ctx, "u", 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].MediaID != "t3" || got[1].MediaID != "t2" {
		t.Errorf("GetRecent(2) = %v", ids(got))
	}

	images, _ := repo.GetRecent(ctx, "u", 10, media.TypeImage)
	if len(images) != 2 || images[0].MediaID != "t2" || images[1].MediaID != "t1" {
		t.Errorf("GetRecent(IMAGE) = %v", ids(images))
	}

	none, _ := repo.GetRecent(ctx, "u", 0, "")
	if len(none) != 0 {
		t.Errorf("GetRecent(0) = %v", ids(none))
	}
}

func TestSQLite_GetLatest(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	if _, err := repo.Upsert(ctx, fixtureItems(), DefaultBatchSize); err != nil {
		t.Fatal(err)
	}
	latest, err := repo.GetLatest(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.MediaID != "album-1" {
		t.Errorf("GetLatest = %+v, want album-1", latest)
	}

	empty, err := repo.GetLatest(ctx, "nobody")
	if err != nil || empty != nil {
		t.Errorf("GetLatest(nobody) = %v, %v", empty, err)
	}
}

func TestSQLite_GetLatestSkipsNewerAlbumChild(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	items := []media.Item{
		{UserID: "u", MediaID: "album", PublishTimestamp: ts("2024-06-12T10:00:00Z"), MediaType: media.TypeCarouselAlbum, MediaURL: "u",
			AlbumChildren: []media.ChildRef{{ID: "late-child"}}},
		{UserID: "u", MediaID: "late-child", PublishTimestamp: ts("2024-06-20T10:00:00Z"), MediaType: media.TypeImage, MediaURL: "u",
			ParentMediaID: str("album")},
		{UserID: "u", MediaID: "older", PublishTimestamp: ts("2024-06-01T10:00:00Z"), MediaType: media.TypeImage, MediaURL: "u"},
	}
	if _, err := repo.Upsert(ctx, items, DefaultBatchSize); err != nil {
		t.Fatal(err)
	}
	if recent, _ := repo.GetRecent(ctx, "u", 1, ""); len(recent) != 1 || recent[0].MediaID != "late-child" {
		t.Fatalf("GetRecent(1) = %v, want the child first", ids(recent))
	}
	latest, err := repo.GetLatest(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.MediaID != "album" {
		t.Errorf("GetLatest = %+v, want album", latest)
	}
}

func TestSQLite_Enrichment(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	if _, err := repo.Upsert(ctx, fixtureItems(), DefaultBatchSize); err != nil {
		t.Fatal(err)
	}

	// c1 and c2 have no description, so only the described image is pending.
	pending, err := repo.GetUnenriched(ctx, "user-1", media.TypeImage, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].MediaID != "17854360229135492" {
		t.Fatalf("unenriched images = %v", ids(pending))
	}

	n, err := repo.UpdateEmbeddings(ctx, "user-1", map[string][]float32{
		"17854360229135492": {0.1, 0.2, 0.3},
		"does-not-exist":    {1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("updated = %d, want 1", n)
	}

	pending, _ = repo.GetUnenriched(ctx, "user-1", media.TypeImage, 0)
	if len(pending) != 0 {
		t.Errorf("unenriched images after update = %v", ids(pending))
	}

	got, _ := repo.GetByID(ctx, "user-1", "17854360229135492")
	if len(got.Embedding) != 3 || got.Embedding[2] != 0.3 {
		t.Errorf("embedding = %v", got.Embedding)
	}
	if media.Deref(got.Description) != "A sunset over the bay." {
		t.Errorf("description changed: %v", got.Description)
	}
}

func TestSQLite_GetUnenrichedOnlyEmbeddableText(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	items := []media.Item{
		{UserID: "u", MediaID: "v-new1", PublishTimestamp: ts("2024-06-04T00:00:00Z"), MediaType: media.TypeVideo, MediaURL: "u"},
		{UserID: "u", MediaID: "v-new2", PublishTimestamp: ts("2024-06-03T00:00:00Z"), MediaType: media.TypeVideo, MediaURL: "u", Caption: str("   ")},
		{UserID: "u", MediaID: "v-new3", PublishTimestamp: ts("2024-06-02T00:00:00Z"), MediaType: media.TypeVideo, MediaURL: "u",
			Description: str("videos embed their caption, not this")},
		{UserID: "u", MediaID: "v-old", PublishTimestamp: ts("2024-06-01T00:00:00Z"), MediaType: media.TypeVideo, MediaURL: "u", Caption: str("surfing")},
		{UserID: "u", MediaID: "v-older", PublishTimestamp: ts("2024-05-01T00:00:00Z"), MediaType: media.TypeVideo, MediaURL: "u", Caption: str("diving")},
		{UserID: "u", MediaID: "i-captioned", PublishTimestamp: ts("2024-06-05T00:00:00Z"), MediaType: media.TypeImage, MediaURL: "u", Caption: str("no description")},
	}
	if _, err := repo.Upsert(ctx, items, DefaultBatchSize); err != nil {
		t.Fatal(err)
	}

	videos, err := repo.GetUnenriched(ctx, "u", media.TypeVideo, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(videos); len(got) != 2 || got[0] != "v-old" || got[1] != "v-older" {
		t.Errorf("unenriched videos = %v, want [v-old v-older]", got)
	}
	if limited, _ := repo.GetUnenriched(ctx, "u", media.TypeVideo, 1); len(limited) != 1 || limited[0].MediaID != "v-old" {
		t.Errorf("limited = %v", ids(limited))
	}
	if images, _ := repo.GetUnenriched(ctx, "u", media.TypeImage, 0); len(images) != 0 {
		t.Errorf("unenriched images = %v, want none", ids(images))
	}
}

func TestSQLite_DeleteUser(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	if _, err := repo.Upsert(ctx, fixtureItems(), DefaultBatchSize); err != nil {
		t.Fatal(err)
	}
	other := media.Item{UserID: "user-2", MediaID: "x", PublishTimestamp: ts("2024-06-01T00:00:00Z"), MediaType: media.TypeImage, MediaURL: "u"}
	if _, err := repo.Upsert(ctx, []media.Item{other}, DefaultBatchSize); err != nil {
		t.Fatal(err)
	}

	n, err := repo.DeleteUser(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("deleted = %d, want 5", n)
	}
	if left, _ := repo.GetAll(ctx, "user-1", ""); len(left) != 0 {
		t.Errorf("rows left = %v", ids(left))
	}
	if kept, _ := repo.GetByID(ctx, "user-2", "x"); kept == nil {
		t.Error("other user's media deleted")
	}
	if n, err := repo.DeleteUser(ctx, "user-1"); err != nil || n != 0 {
		t.Errorf("second delete = %d, %v", n, err)
	}
}

func TestChunk(t *testing.T) {
	items := make([]media.Item, 7)
	tests := []struct {
		size int
		want []int
	}{
		{3, []int{3, 3, 1}},
		{7, []int{7}},
		{10, []int{7}},
		{0, []int{7}},
	}
	for _, tt := range tests {
		got := chunk(items, tt.size)
		if len(got) != len(tt.want) {
			t.Errorf("chunk(7, %d) = %d chunks, want %d", tt.size, len(got), len(tt.want))
			continue
		}
		for i := range got {
			if len(got[i]) != tt.want[i] {
				t.Errorf("chunk(7, %d)[%d] = %d, want %d", tt.size, i, len(got[i]), tt.want[i])
			}
		}
	}
	if len(chunk(nil, 3)) != 0 {
		t.Error("chunk(nil) should be empty")
	}
}

func ids(items []media.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.MediaID
	}
	return out
}
