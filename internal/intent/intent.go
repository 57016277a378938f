// Package intent classifies inbound customer communications.
//
// Classification combines keyword matching and regex patterns per category,
// blended 60/40, with boosts for urgency and authority-impersonation cues.
// Scores range from 0.0 to 1.0. The Adapter wraps any Classifier and
// guarantees a total result: every input yields an Intent, never an error.
package intent

import "context"

// Category is the classified purpose of a communication.
type Category string

const (
	CategoryFraudReport    Category = "FRAUD_REPORT"
	CategoryInfoRequest    Category = "INFO_REQUEST"
	CategoryServiceRequest Category = "SERVICE_REQUEST"
	CategoryUnknown        Category = "UNKNOWN"
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{CategoryFraudReport, CategoryInfoRequest, CategoryServiceRequest, CategoryUnknown}
}

// Intent is a classification outcome.
type Intent struct {
	Category   Category          `json:"category"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities,omitempty"`
}

// Classifier produces a raw classification for free text.
// Implementations may fail; the Adapter absorbs those failures.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Intent, error)
}
