package chat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// maxImageBytes caps a single downloaded image.
const maxImageBytes = 20 << 20

// contentGenerator is the subset of *genai.Models used by GeminiDescriber.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGeminiClient creates a Gemini API client for the given key.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

// GeminiDescriber describes images with a Gemini model. Instagram CDN URLs
// are not fetchable by the Gemini API, so images are downloaded and sent
// inline.
type GeminiDescriber struct {
	models     contentGenerator
	model      string
	httpClient *http.Client
}

// NewGeminiDescriber creates a describer backed by client.Models.
func NewGeminiDescriber(client *genai.Client, model string) *GeminiDescriber {
	return newGeminiDescriber(client.Models, model, &http.Client{Timeout: 30 * time.Second})
}

func newGeminiDescriber(models contentGenerator, model string, httpClient *http.Client) *GeminiDescriber {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiDescriber{models: models, model: model, httpClient: httpClient}
}

// Describe implements Describer.
func (g *GeminiDescriber) Describe(ctx context.Context, images []ImageRef, dctx DescribeContext) (string, error) {
	if len(images) == 0 {
		return "", fmt.Errorf("describe: no images")
	}

	parts := make([]*genai.Part, 0, len(images)+2)
	highDetail := false
	for _, img := range images {
		blob, err := g.download(ctx, img.URL)
		if err != nil {
			return "", err
		}
		parts = append(parts, &genai.Part{InlineData: blob})
		if img.Detail == DetailHigh {
			highDetail = true
		}
	}
	for _, line := range contextLines(dctx) {
		parts = append(parts, &genai.Part{Text: line})
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: dctx.Prompt}},
		},
	}
	if highDetail {
		config.MediaResolution = genai.MediaResolutionHigh
	}

	log.Debug().
		Str("model", g.model).
		Int("imageCount", len(images)).
		Bool("album", dctx.Album).
		Msg("Starting Gemini API call for media description")

	callStart := time.Now()
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	duration := time.Since(callStart)
	if err != nil {
		log.Debug().Err(err).Dur("duration", duration).Msg("Gemini description call failed")
		return "", fmt.Errorf("generate description: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyDescription
	}

	text, err := cleanDescription(resp.Text())
	if err != nil {
		return "", err
	}
	log.Debug().
		Int("responseLength", len(text)).
		Dur("duration", duration).
		Str("preview", truncateString(text, 80)).
		Msg("Gemini description received")
	return text, nil
}

// download fetches an image and returns it as an inline blob.
func (g *GeminiDescriber) download(ctx context.Context, url string) (*genai.Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return &genai.Blob{MIMEType: mimeType, Data: data}, nil
}
