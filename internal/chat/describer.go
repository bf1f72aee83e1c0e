// Package chat generates natural-language descriptions of Instagram media
// with a multimodal model.
//
// Two providers are supported: Gemini (google.golang.org/genai) and OpenAI
// chat completions. Both take the same input, a list of image URLs plus the
// post caption and publish timestamp, and return plain text. GuardedDescriber
// wraps either one with a per-call timeout, a rate limit and a circuit breaker.
package chat

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyDescription is returned when the model answered with no text.
var ErrEmptyDescription = errors.New("model returned an empty description")

// Image detail levels.
const (
	DetailHigh = "high"
	DetailLow  = "low"
	DetailAuto = "auto"
)

// ImageRef is one image sent to the model.
type ImageRef struct {
	URL    string
	Detail string
}

// DescribeContext carries the text that accompanies the images.
// Prompt is the system prompt; Album selects the "Album ..." labels for the
// caption and timestamp lines instead of "Image ...".
type DescribeContext struct {
	Caption   string
	Timestamp string
	Prompt    string
	Album     bool
}

// Describer turns images plus context into a description.
type Describer interface {
	Describe(ctx context.Context, images []ImageRef, dctx DescribeContext) (string, error)
}

// contextLines returns the user-turn text lines that follow the images.
// Empty values are omitted.
func contextLines(dctx DescribeContext) []string {
	label := "Image"
	if dctx.Album {
		label = "Album"
	}
	var lines []string
	if dctx.Caption != "" {
		lines = append(lines, label+" Caption: "+dctx.Caption)
	}
	if dctx.Timestamp != "" {
		lines = append(lines, label+" Publish Timestamp: "+dctx.Timestamp)
	}
	return lines
}

// cleanDescription trims model output and maps blank text to ErrEmptyDescription.
func cleanDescription(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyDescription
	}
	return text, nil
}

// truncateString returns the first n bytes of s, appending "..." if truncated.
func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
