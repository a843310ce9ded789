// Package checkpoint persists resumable batch progress as a single
// durable record. Every save is a full-state overwrite; the record is
// deleted exactly once, when a run fully completes.
package checkpoint

import "time"

// Checkpoint is the persisted progress record for the current run.
type Checkpoint struct {
	// LastProcessedID is the id of the most recently processed post.
	LastProcessedID string `json:"last_processed_id"`

	// ProcessedIDs holds every post id processed so far, in no
	// particular order.
	ProcessedIDs []string `json:"processed_ids"`

	// Timestamp is when this record was saved.
	Timestamp time.Time `json:"timestamp"`

	// TotalProcessed is the number of posts processed so far.
	TotalProcessed int `json:"total_processed"`

	// TotalPosts is the size of the full input set, for progress reporting.
	TotalPosts int `json:"total_posts"`

	// FlaggedCount is the number of posts flagged so far.
	FlaggedCount int `json:"flagged_count"`

	// ErrorCount is the number of posts that failed evaluation so far.
	ErrorCount int `json:"error_count"`
}

// ProcessedSet returns the processed ids as a set for resume filtering.
func (c *Checkpoint) ProcessedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.ProcessedIDs))
	for _, id := range c.ProcessedIDs {
		set[id] = struct{}{}
	}
	return set
}
