package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LoadPosts reads a vendor export file and returns its posts in archive
// order, with reposts filtered out. The export wraps the JSON array in a
// JavaScript assignment, which is stripped before decoding.
func LoadPosts(path string, logger zerolog.Logger) ([]Post, error) {
	logger.Info().Str("path", path).Msg("Loading posts from archive")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", path, err)
	}

	jsonContent, err := stripJavaScriptWrapper(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse archive %s: %w", path, err)
	}

	var wrappers []postWrapper
	if err := json.Unmarshal([]byte(jsonContent), &wrappers); err != nil {
		return nil, fmt.Errorf("decode archive %s: %w", path, err)
	}

	posts := make([]Post, 0, len(wrappers))
	for _, w := range wrappers {
		if w.Post.IsRepost() {
			continue
		}
		posts = append(posts, w.Post)
	}

	logger.Info().
		Int("posts", len(posts)).
		Int("reposts_removed", len(wrappers)-len(posts)).
		Msg("Archive parsed")

	return posts, nil
}

// stripJavaScriptWrapper drops everything before the JSON array start.
func stripJavaScriptWrapper(content string) (string, error) {
	if content == "" {
		return "", fmt.Errorf("archive file is empty")
	}

	start := strings.IndexByte(content, '[')
	if start == -1 {
		return "", fmt.Errorf("invalid format: JSON array not found")
	}

	return content[start:], nil
}
