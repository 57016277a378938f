package intent

import (
	"context"
	"log/slog"
)

// DefaultThreshold is the minimum confidence for a category to stand.
const DefaultThreshold = 0.4

// Adapter wraps a Classifier and makes it total: every input, including
// empty text, yields an Intent. Classifier errors degrade to UNKNOWN with
// confidence 0 rather than failing the case pipeline. Low-confidence
// results are forced to UNKNOWN but keep the raw confidence for audit.
type Adapter struct {
	classifier Classifier
	threshold  float64
	logger     *slog.Logger
}

// NewAdapter wraps the classifier with threshold fallback.
func NewAdapter(classifier Classifier, threshold float64, logger *slog.Logger) *Adapter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Adapter{classifier: classifier, threshold: threshold, logger: logger}
}

// Classify never fails. The returned Intent is always non-nil.
func (a *Adapter) Classify(ctx context.Context, text string) *Intent {
	result, err := a.classifier.Classify(ctx, text)
	if err != nil {
		a.logger.Warn("classification degraded", "error", err)
		return &Intent{Category: CategoryUnknown, Confidence: 0}
	}
	if result == nil {
		return &Intent{Category: CategoryUnknown, Confidence: 0}
	}

	if result.Confidence < a.threshold && result.Category != CategoryUnknown {
		a.logger.Debug("confidence below threshold, forcing UNKNOWN",
			"category", result.Category, "confidence", result.Confidence, "threshold", a.threshold)
		return &Intent{
			Category:   CategoryUnknown,
			Confidence: result.Confidence,
			Entities:   result.Entities,
		}
	}
	return result
}
