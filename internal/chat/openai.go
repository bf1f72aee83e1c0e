package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog/log"
)

// chatCompleter is the subset of the OpenAI chat completions service used here.
type chatCompleter interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIDescriber describes images with an OpenAI vision-capable chat model.
// Image URLs are passed through; the API fetches them itself.
type OpenAIDescriber struct {
	completions chatCompleter
	model       string
}

// NewOpenAIDescriber creates a describer using apiKey.
func NewOpenAIDescriber(apiKey, model string) *OpenAIDescriber {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return newOpenAIDescriber(&client.Chat.Completions, model)
}

func newOpenAIDescriber(completions chatCompleter, model string) *OpenAIDescriber {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIDescriber{completions: completions, model: model}
}

// Describe implements Describer.
func (o *OpenAIDescriber) Describe(ctx context.Context, images []ImageRef, dctx DescribeContext) (string, error) {
	if len(images) == 0 {
		return "", fmt.Errorf("describe: no images")
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(images)+2)
	for _, img := range images {
		detail := img.Detail
		if detail == "" {
			detail = DetailAuto
		}
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    img.URL,
			Detail: detail,
		}))
	}
	for _, line := range contextLines(dctx) {
		parts = append(parts, openai.TextContentPart(line))
	}

	log.Debug().
		Str("model", o.model).
		Int("imageCount", len(images)).
		Bool("album", dctx.Album).
		Msg("Starting OpenAI call for media description")

	callStart := time.Now()
	resp, err := o.completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(dctx.Prompt),
			openai.UserMessage(parts),
		},
	})
	duration := time.Since(callStart)
	if err != nil {
		log.Debug().Err(err).Dur("duration", duration).Msg("OpenAI description call failed")
		return "", fmt.Errorf("generate description: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyDescription
	}

	text, err := cleanDescription(resp.Choices[0].Message.Content)
	if err != nil {
		return "", err
	}
	log.Debug().
		Int("responseLength", len(text)).
		Dur("duration", duration).
		Str("preview", truncateString(text, 80)).
		Msg("OpenAI description received")
	return text, nil
}
