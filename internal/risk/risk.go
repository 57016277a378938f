// Package risk turns a case's provider signals into one score and level.
//
// Aggregation is a pure function: same inputs, same output, regardless of
// signal arrival order. Each SUCCEEDED signal contributes
// severity x confidence x providerWeight; failed and timed-out signals
// contribute a small penalty weight, since missing evidence is itself
// mildly suspicious. The weighted sum is normalized by the total weight of
// every selected provider, so silent providers cannot drag the score down
// to zero. A dominant-signal boost then raises the score toward the
// strongest single verdict: one high-severity, high-confidence signal
// escalates a case even when the remaining providers stayed quiet.
package risk

import (
	"math"
	"sort"

	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/signal"
)

// Level is a discrete risk bucket derived from the continuous score.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Default tuning. All of these are configuration, not hard logic.
const (
	DefaultPenaltyFactor     = 0.1
	DefaultDominantBoost     = 0.5
	DefaultMediumThreshold   = 0.3
	DefaultHighThreshold     = 0.6
	DefaultCriticalThreshold = 0.85
	DefaultWeight            = 1.0
)

// Config tunes the aggregation formula.
type Config struct {
	// Weights maps provider name to its weight; absent providers get
	// DefaultWeight.
	Weights map[string]float64
	// PenaltyFactor is the contribution fraction for FAILED/TIMED_OUT
	// signals, applied to the provider's weight.
	PenaltyFactor float64
	// DominantBoost scales how much the strongest succeeded signal
	// lifts the score beyond the weighted average.
	DominantBoost float64
	// Level boundaries; a score equal to a boundary takes the higher level.
	MediumThreshold   float64
	HighThreshold     float64
	CriticalThreshold float64
}

// DefaultConfig returns the standard tuning. Communication-pattern
// analysis carries extra weight: it looks at the scam itself rather than
// at account-takeover preconditions.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			signal.ProviderScamSignal: 1.5,
		},
		PenaltyFactor:     DefaultPenaltyFactor,
		DominantBoost:     DefaultDominantBoost,
		MediumThreshold:   DefaultMediumThreshold,
		HighThreshold:     DefaultHighThreshold,
		CriticalThreshold: DefaultCriticalThreshold,
	}
}

func (c Config) weight(provider string) float64 {
	if w, ok := c.Weights[provider]; ok && w > 0 {
		return w
	}
	return DefaultWeight
}

// Assessment is the aggregation outcome for one case.
type Assessment struct {
	RiskScore float64 `json:"riskScore"`
	RiskLevel Level   `json:"riskLevel"`
	// IntentConfidence is carried through for audit; it does not enter
	// the score.
	IntentConfidence float64 `json:"intentConfidence"`
	// Contributions records each selected provider's share of the
	// weighted sum, for explainability.
	Contributions map[string]float64 `json:"contributions,omitempty"`
}

// Aggregate computes the risk score and level over whatever signals are
// present for the selected providers. Providers with no signal at all are
// treated like failures. Zero selected providers deterministically yields
// score 0 and LOW.
func Aggregate(cfg Config, intentConfidence float64, selected []string, signals map[string]signal.Result) Assessment {
	out := Assessment{IntentConfidence: intentConfidence, RiskLevel: LevelLow}
	if len(selected) == 0 {
		return out
	}

	providers := append([]string(nil), selected...)
	sort.Strings(providers)

	contributions := make(map[string]float64, len(providers))
	totalWeight := 0.0
	weightedSum := 0.0
	dominant := 0.0

	for _, name := range providers {
		w := cfg.weight(name)
		totalWeight += w

		var contribution float64
		res, ok := signals[name]
		if ok && res.Status == signal.StatusSucceeded {
			contribution = res.Severity * res.Confidence * w
			if sc := res.Severity * res.Confidence; sc > dominant {
				dominant = sc
			}
		} else {
			contribution = cfg.PenaltyFactor * w
		}
		contributions[name] = contribution
		weightedSum += contribution
	}

	score := weightedSum/totalWeight + cfg.DominantBoost*dominant
	score = clamp(score)

	out.RiskScore = math.Round(score*1000) / 1000
	out.RiskLevel = cfg.levelFor(out.RiskScore)
	out.Contributions = contributions
	return out
}

func (c Config) levelFor(score float64) Level {
	switch {
	case score >= c.CriticalThreshold:
		return LevelCritical
	case score >= c.HighThreshold:
		return LevelHigh
	case score >= c.MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
