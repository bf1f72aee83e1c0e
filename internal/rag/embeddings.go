// Package rag turns stored media into vector embeddings and announces
// completed ingestion runs to downstream consumers.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/media"
)

// DefaultTitanModel is the Bedrock embedding model used when none is configured.
const DefaultTitanModel = "amazon.titan-embed-text-v2:0"

// DefaultOpenAIModel matches the 1536-dimension vectors of text-embedding-3-small.
const DefaultOpenAIModel = "text-embedding-3-small"

// Embedder turns one text payload into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedFunc adapts a plain function (such as a chromem.EmbeddingFunc) to Embedder.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// NewOpenAIEmbedder returns an Embedder backed by the OpenAI embeddings API.
func NewOpenAIEmbedder(apiKey, model string) Embedder {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return EmbedFunc(chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model)))
}

// invoker is the subset of the Bedrock runtime client used by TitanEmbedder.
type invoker interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions"`
	Normalize  bool   `json:"normalize"`
}

type titanEmbedResponse struct {
	Embedding           []float64 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// TitanEmbedder embeds text with Amazon Titan on Bedrock.
type TitanEmbedder struct {
	client     invoker
	modelID    string
	dimensions int
}

// NewTitanEmbedder creates a Titan embedder. Zero dimensions means 1024.
func NewTitanEmbedder(client invoker, modelID string, dimensions int) *TitanEmbedder {
	if modelID == "" {
		modelID = DefaultTitanModel
	}
	if dimensions <= 0 {
		dimensions = 1024
	}
	return &TitanEmbedder{client: client, modelID: modelID, dimensions: dimensions}
}

// Embed implements Embedder.
func (t *TitanEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text, Dimensions: t.dimensions, Normalize: true})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	result, err := t.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(t.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		log.Error().Err(err).Str("modelId", t.modelID).Msg("Bedrock InvokeModel failed")
		return nil, fmt.Errorf("InvokeModel: %w", err)
	}

	var resp titanEmbedResponse
	if err := json.NewDecoder(bytes.NewReader(result.Body)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding from %s", t.modelID)
	}

	embedding := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// BuildEmbeddingInput renders the text payload embedded for an item: its
// description keyed by kind (image_description, album_description), or the
// caption for videos, which are never described. Returns "" when the item
// has nothing to embed.
func BuildEmbeddingInput(item media.Item) string {
	var key, text string
	switch item.MediaType {
	case media.TypeImage:
		key, text = "image_description", media.Deref(item.Description)
	case media.TypeCarouselAlbum:
		key, text = "album_description", media.Deref(item.Description)
	case media.TypeVideo:
		key, text = "video_caption", media.Deref(item.Caption)
	}
	text = strings.TrimSpace(text)
	if key == "" || text == "" {
		return ""
	}
	return key + ": " + text
}
