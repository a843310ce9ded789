package evaluator

// Result is the outcome of evaluating a single post. It carries either a
// decision or a failure, never both; a failure means the post could not
// be evaluated, not that it is clean.
type Result struct {
	// PostID identifies the evaluated post.
	PostID string `json:"post_id"`

	// ShouldFlag is the provider's verdict. Meaningless when
	// ErrorMessage is set.
	ShouldFlag bool `json:"should_flag"`

	// Rationale explains the verdict.
	Rationale string `json:"rationale"`

	// MatchedCriteria lists the criteria the post violated, in the
	// order the provider reported them.
	MatchedCriteria []string `json:"matched_criteria,omitempty"`

	// ErrorMessage is set when evaluation failed after all retries.
	ErrorMessage string `json:"error_message,omitempty"`
}

// Failed reports whether this result carries a failure payload.
func (r Result) Failed() bool {
	return r.ErrorMessage != ""
}

// NewFailure builds a failure result for a post that could not be
// evaluated.
func NewFailure(postID, message string) Result {
	return Result{
		PostID:       postID,
		ErrorMessage: message,
	}
}
