// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at
// compile time. Deployments may override a prompt with a file on disk.
package assets

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

// DescribeImagePrompt is the system prompt for describing a single image,
// used for IMAGE posts and IMAGE children of an album.
//
//go:embed prompts/describe-image.txt
var DescribeImagePrompt string

// DescribeAlbumPrompt is the system prompt for describing a carousel album
// from all of its image children at once.
//
//go:embed prompts/describe-album.txt
var DescribeAlbumPrompt string

// LoadPrompt returns the contents of path, or fallback when path is empty.
// A path that is set but unreadable or empty is an error.
func LoadPrompt(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt %s: %w", path, err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return prompt, nil
}
