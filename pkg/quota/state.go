// Package quota implements the persisted daily call ledger. It stops the
// pipeline short of the provider's hard daily limit by a configurable
// safety margin, anchored to the provider's quota reset timezone.
package quota

// DateLayout is the calendar-date format persisted in the ledger file.
const DateLayout = "2006-01-02"

// State is the persisted daily quota record.
type State struct {
	// AnchorDate is the calendar date in the anchor timezone this count
	// belongs to.
	AnchorDate string `json:"anchor_date"`

	// RequestCount is the number of provider calls billed against AnchorDate.
	RequestCount int `json:"request_count"`
}

// warningFraction of the safety threshold at which a warning is logged.
const warningFraction = 0.9
