package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fpang/media-ingest/internal/media"
	"github.com/fpang/media-ingest/internal/store"
)

// fakeEmbedder maps text to a one-element vector holding its length and
// fails for payloads containing "fail".
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "fail") {
		return nil, errors.New("embedding quota exceeded")
	}
	return []float32{float32(len(text))}, nil
}

// countingRepo wraps a Repository and counts provider-facing writes.
type countingRepo struct {
	store.Repository
	updates int
}

func (c *countingRepo) UpdateEmbeddings(ctx context.Context, userID string, emb map[string][]float32) (int, error) {
	c.updates++
	return c.Repository.UpdateEmbeddings(ctx, userID, emb)
}

func TestEnricher(t *testing.T) {
	ctx := context.Background()
	base, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { base.Close() })
	repo := &countingRepo{Repository: base}

	e := NewEnricher(repo, fakeEmbedder{}, 0)
	if n := e.Enrich(ctx, "u"); n != 0 || repo.updates != 0 {
		t.Fatalf("empty enrich = %d, updates = %d", n, repo.updates)
	}

	ts := mustTime(t, "2024-05-01T00:00:00+0000")
	items := []media.Item{
		{UserID: "u", MediaID: "i1", PublishTimestamp: ts, MediaType: media.TypeImage, MediaURL: "x", Description: media.StringPtr("a cat")},
		{UserID: "u", MediaID: "i2", PublishTimestamp: ts, MediaType: media.TypeImage, MediaURL: "x"},
		{UserID: "u", MediaID: "i3", PublishTimestamp: ts, MediaType: media.TypeImage, MediaURL: "x", Description: media.StringPtr("fail me")},
		{UserID: "u", MediaID: "v1", PublishTimestamp: ts, MediaType: media.TypeVideo, MediaURL: "x", Caption: media.StringPtr("surfing")},
	}
	if _, err := repo.Upsert(ctx, items, store.DefaultBatchSize); err != nil {
		t.Fatal(err)
	}

	if n := e.Enrich(ctx, "u"); n != 2 {
		t.Errorf("enriched = %d, want 2", n)
	}
	// One write for IMAGE, one for VIDEO, none for the empty album set.
	if repo.updates != 2 {
		t.Errorf("updates = %d, want 2", repo.updates)
	}

	got, _ := repo.GetByID(ctx, "u", "i1")
	if len(got.Embedding) != 1 || got.Embedding[0] != float32(len("image_description: a cat")) {
		t.Errorf("i1 embedding = %v", got.Embedding)
	}
	// i2 has nothing to embed and is never pending; i3 failed and is retried.
	pending, _ := repo.GetUnenriched(ctx, "u", media.TypeImage, 0)
	if len(pending) != 1 || pending[0].MediaID != "i3" {
		t.Errorf("still unenriched = %v, want [i3]", ids(pending))
	}

	// Re-running is safe and only retries what is still pending.
	repo.updates = 0
	if n := e.Enrich(ctx, "u"); n != 0 || repo.updates != 0 {
		t.Errorf("second enrich = %d, updates = %d", n, repo.updates)
	}
}

func TestEnricher_TextlessRowsDoNotHideOlderOnes(t *testing.T) {
	ctx := context.Background()
	repo, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })

	items := []media.Item{
		{UserID: "u", MediaID: "v1", PublishTimestamp: mustTime(t, "2024-05-04T00:00:00+0000"), MediaType: media.TypeVideo, MediaURL: "x"},
		{UserID: "u", MediaID: "v2", PublishTimestamp: mustTime(t, "2024-05-03T00:00:00+0000"), MediaType: media.TypeVideo, MediaURL: "x"},
		{UserID: "u", MediaID: "v3", PublishTimestamp: mustTime(t, "2024-05-02T00:00:00+0000"), MediaType: media.TypeVideo, MediaURL: "x"},
		{UserID: "u", MediaID: "v-captioned", PublishTimestamp: mustTime(t, "2024-05-01T00:00:00+0000"), MediaType: media.TypeVideo, MediaURL: "x",
			Caption: media.StringPtr("surfing")},
	}
	if _, err := repo.Upsert(ctx, items, store.DefaultBatchSize); err != nil {
		t.Fatal(err)
	}

	e := NewEnricher(repo, fakeEmbedder{}, 3)
	if n := e.Enrich(ctx, "u"); n != 1 {
		t.Errorf("enriched = %d, want 1", n)
	}
	got, _ := repo.GetByID(ctx, "u", "v-captioned")
	if got == nil || len(got.Embedding) != 1 {
		t.Errorf("captioned video embedding = %+v", got)
	}
}

func TestEnricher_Disabled(t *testing.T) {
	var e *Enricher
	if e.Enrich(context.Background(), "u") != 0 {
		t.Error("nil enricher should do nothing")
	}
	if NewEnricher(nil, nil, 0).Enrich(context.Background(), "u") != 0 {
		t.Error("enricher without embedder should do nothing")
	}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := media.ParseTimestamp(s)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}
