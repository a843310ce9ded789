// Package report serializes evaluation results to a CSV listing. Only
// flagged and errored posts are written; clean posts are omitted.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/postaudit/postaudit/pkg/evaluator"
)

// postURLPrefix builds the permalink column from a post id.
const postURLPrefix = "https://x.com/i/status/"

var header = []string{"postUrl", "postId", "status", "matchedCriteria", "reason"}

// Writer renders results to a CSV file.
type Writer struct {
	path   string
	logger zerolog.Logger
}

// NewWriter creates a writer targeting the given path.
func NewWriter(path string, logger zerolog.Logger) *Writer {
	return &Writer{
		path:   path,
		logger: logger,
	}
}

// WriteResults writes the flagged and errored subset of results,
// replacing any previous listing.
func (w *Writer) WriteResults(results []evaluator.Result) error {
	var rows []evaluator.Result
	for _, r := range results {
		if r.ShouldFlag || r.Failed() {
			rows = append(rows, r)
		}
	}

	flagged := 0
	for _, r := range rows {
		if !r.Failed() {
			flagged++
		}
	}

	w.logger.Info().
		Str("path", w.path).
		Int("flagged", flagged).
		Int("errors", len(rows)-flagged).
		Msg("Writing results")

	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("create output %s: %w", w.path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, r := range rows {
		if err := cw.Write(row(r)); err != nil {
			return fmt.Errorf("write row for post %s: %w", r.PostID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	w.logger.Info().Int("rows", len(rows)).Msg("Results written")
	return nil
}

func row(r evaluator.Result) []string {
	if r.Failed() {
		return []string{postURL(r.PostID), r.PostID, "ERROR", "", r.ErrorMessage}
	}
	return []string{
		postURL(r.PostID),
		r.PostID,
		"FLAGGED",
		strings.Join(r.MatchedCriteria, "|"),
		r.Rationale,
	}
}

func postURL(postID string) string {
	if postID == "" {
		return ""
	}
	return postURLPrefix + postID
}
