package rag

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/fpang/media-ingest/internal/media"
)

type fakeInvoker struct {
	req  titanEmbedRequest
	body string
	err  error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := json.Unmarshal(in.Body, &f.req); err != nil {
		return nil, err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestTitanEmbedder(t *testing.T) {
	inv := &fakeInvoker{body: `{"embedding":[0.5,-1,0.25],"inputTextTokenCount":4}`}
	e := NewTitanEmbedder(inv, "", 0)

	got, err := e.Embed(context.Background(), "image_description: a cat")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 3 || got[1] != -1 {
		t.Errorf("embedding = %v", got)
	}
	if inv.req.Dimensions != 1024 || !inv.req.Normalize || inv.req.InputText != "image_description: a cat" {
		t.Errorf("request = %+v", inv.req)
	}
	if e.modelID != DefaultTitanModel {
		t.Errorf("modelID = %q", e.modelID)
	}
}

func TestTitanEmbedder_Errors(t *testing.T) {
	tests := []struct {
		name string
		inv  *fakeInvoker
	}{
		{"invoke error", &fakeInvoker{err: errors.New("throttled")}},
		{"bad json", &fakeInvoker{body: `{`}},
		{"empty vector", &fakeInvoker{body: `{"embedding":[]}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTitanEmbedder(tt.inv, "m", 256).Embed(context.Background(), "x"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBuildEmbeddingInput(t *testing.T) {
	desc := "A dog on a beach."
	caption := "  weekend  "
	tests := []struct {
		name string
		item media.Item
		want string
	}{
		{"image", media.Item{MediaType: media.TypeImage, Description: &desc}, "image_description: A dog on a beach."},
		{"album", media.Item{MediaType: media.TypeCarouselAlbum, Description: &desc}, "album_description: A dog on a beach."},
		{"video uses caption", media.Item{MediaType: media.TypeVideo, Caption: &caption, Description: &desc}, "video_caption: weekend"},
		{"image without description", media.Item{MediaType: media.TypeImage, Caption: &caption}, ""},
		{"video without caption", media.Item{MediaType: media.TypeVideo}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildEmbeddingInput(tt.item); got != tt.want {
				t.Errorf("BuildEmbeddingInput() = %q, want %q", got, tt.want)
			}
		})
	}
}

type fakePutter struct {
	in  *eventbridge.PutEventsInput
	out *eventbridge.PutEventsOutput
}

func (f *fakePutter) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.in = in
	if f.out != nil {
		return f.out, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func TestEmitMediaIngested(t *testing.T) {
	putter := &fakePutter{}
	p := NewEventPublisher(putter, "media-bus")
	event := MediaIngested{UserID: "u1", RunID: "r1", Status: "done", Saved: 3, FinishedAt: time.Unix(0, 0).UTC()}

	if err := p.EmitMediaIngested(context.Background(), event); err != nil {
		t.Fatalf("EmitMediaIngested: %v", err)
	}
	entry := putter.in.Entries[0]
	if aws.ToString(entry.EventBusName) != "media-bus" || aws.ToString(entry.DetailType) != "MediaIngested" {
		t.Errorf("entry = %+v", entry)
	}
	var got MediaIngested
	if err := json.Unmarshal([]byte(aws.ToString(entry.Detail)), &got); err != nil {
		t.Fatal(err)
	}
	if got.UserID != "u1" || got.Saved != 3 {
		t.Errorf("detail = %+v", got)
	}
}

func TestEmitMediaIngested_FailedEntry(t *testing.T) {
	putter := &fakePutter{out: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries:          []eventbridgetypes.PutEventsResultEntry{{ErrorCode: aws.String("InternalFailure")}},
	}}
	err := NewEventPublisher(putter, "").EmitMediaIngested(context.Background(), MediaIngested{UserID: "u1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if putter.in.Entries[0].EventBusName != nil {
		t.Error("default bus should leave EventBusName unset")
	}
}

func TestEmbedFunc(t *testing.T) {
	var e Embedder = EmbedFunc(func(_ context.Context, text string) ([]float32, error) {
		return []float32{float32(len(text))}, nil
	})
	got, _ := e.Embed(context.Background(), "abcd")
	if got[0] != 4 {
		t.Errorf("Embed = %v", got)
	}
	if NewOpenAIEmbedder("key", "") == nil {
		t.Error("NewOpenAIEmbedder returned nil")
	}
}
