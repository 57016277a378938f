package intent

import (
	"context"
	"regexp"
	"strings"
)

const (
	keywordWeight = 0.6
	patternWeight = 0.4

	urgencyBoost   = 0.15
	authorityBoost = 0.15
)

// categoryRules drives scoring for one category.
type categoryRules struct {
	keywords []string
	patterns []*regexp.Regexp
	boost    float64
}

var fraudRules = categoryRules{
	keywords: []string{
		"fraud", "scam", "suspicious", "stolen", "unauthorized",
		"phishing", "ssn", "social security", "claiming to be", "gift card",
	},
	patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)claiming to be`),
		regexp.MustCompile(`(?i)asked.{0,30}for my`),
		regexp.MustCompile(`(?i)(ssn|social security|pin|password|verification code|one.?time code)`),
		regexp.MustCompile(`(?i)\d+[- ]?minute`),
		regexp.MustCompile(`(?i)(didn'?t|never) (make|authorize|recognize)`),
	},
	boost: 0.1,
}

var infoRules = categoryRules{
	keywords: []string{
		"hours", "business hours", "location", "address", "price",
		"how much", "information", "what are", "when do",
	},
	patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)^what (are|is)`),
		regexp.MustCompile(`(?i)(business|opening|office) hours`),
		regexp.MustCompile(`(?i)(where|when) (is|are|do|can)`),
		regexp.MustCompile(`\?\s*$`),
	},
}

var serviceRules = categoryRules{
	keywords: []string{
		"block my card", "cancel", "activate", "reset", "update my",
		"change my", "transfer", "upgrade", "new sim", "replace",
	},
	patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)(please|can you|i (want|need|would like)) .{0,40}(block|cancel|activate|reset|update|change|transfer)`),
		regexp.MustCompile(`(?i)(block|freeze|close) my (card|account|line)`),
		regexp.MustCompile(`(?i)(reset|change) my (password|pin)`),
	},
}

var urgencyPattern = regexp.MustCompile(`(?i)(urgent|immediately|right now|asap|deadline|expires?|within \d+)`)

var authorityPattern = regexp.MustCompile(`(?i)(bank|irs|police|government|tax office|telecom) (security|support|fraud|agent|official|department)`)

// Entity extraction patterns. First match per type wins.
var entityPatterns = map[string]*regexp.Regexp{
	"phone":  regexp.MustCompile(`\+?\d[\d\s().-]{6,14}\d`),
	"amount": regexp.MustCompile(`\$[\d,]+(?:\.\d{2})?`),
	"email":  regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"url":    regexp.MustCompile(`https?://[^\s]+`),
}

// PatternClassifier scores text against per-category keyword and regex rules.
// It is stateless and safe for concurrent use.
type PatternClassifier struct {
	rules map[Category]categoryRules
}

var _ Classifier = (*PatternClassifier)(nil)

// NewPatternClassifier returns a classifier with the built-in rule set.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{
		rules: map[Category]categoryRules{
			CategoryFraudReport:    fraudRules,
			CategoryInfoRequest:    infoRules,
			CategoryServiceRequest: serviceRules,
		},
	}
}

// Classify scores the text against every category and returns the best match.
// Text that matches nothing yields UNKNOWN with confidence 0.
func (c *PatternClassifier) Classify(_ context.Context, text string) (*Intent, error) {
	lower := strings.ToLower(text)

	best := CategoryUnknown
	bestScore := 0.0
	for _, cat := range Categories() {
		rules, ok := c.rules[cat]
		if !ok {
			continue
		}
		score := c.score(lower, rules)
		if score > bestScore {
			best = cat
			bestScore = score
		}
	}

	// Fraud cues sharpen the score regardless of which rule set won:
	// impersonating an authority under time pressure is the classic pattern.
	if best == CategoryFraudReport {
		if urgencyPattern.MatchString(lower) {
			bestScore += urgencyBoost
		}
		if authorityPattern.MatchString(lower) {
			bestScore += authorityBoost
		}
		if bestScore > 1.0 {
			bestScore = 1.0
		}
	}

	return &Intent{
		Category:   best,
		Confidence: bestScore,
		Entities:   extractEntities(text),
	}, nil
}

func (c *PatternClassifier) score(lower string, rules categoryRules) float64 {
	keywordHits := 0
	for _, kw := range rules.keywords {
		if strings.Contains(lower, kw) {
			keywordHits++
		}
	}
	keywordScore := 0.0
	if len(rules.keywords) > 0 {
		keywordScore = float64(keywordHits) / float64(len(rules.keywords))
	}

	patternHits := 0
	for _, p := range rules.patterns {
		if p.MatchString(lower) {
			patternHits++
		}
	}
	patternScore := 0.0
	if len(rules.patterns) > 0 {
		patternScore = float64(patternHits) / float64(len(rules.patterns))
	}

	if keywordHits == 0 && patternHits == 0 {
		return 0
	}

	score := keywordScore*keywordWeight + patternScore*patternWeight + rules.boost
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// ExtractEntities pulls phone numbers, amounts, emails, and URLs out of
// free text. First match per type wins. Returns nil when nothing matches.
func ExtractEntities(text string) map[string]string {
	return extractEntities(text)
}

func extractEntities(text string) map[string]string {
	entities := make(map[string]string)
	for name, p := range entityPatterns {
		if m := p.FindString(text); m != "" {
			entities[name] = strings.TrimSpace(m)
		}
	}
	if len(entities) == 0 {
		return nil
	}
	return entities
}
