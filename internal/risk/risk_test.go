package risk

import (
	"testing"

	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/signal"
)

func succeeded(provider string, severity, confidence float64) signal.Result {
	return signal.Result{
		Provider:   provider,
		Status:     signal.StatusSucceeded,
		Severity:   severity,
		Confidence: confidence,
		Attempt:    1,
	}
}

func TestAggregate_ZeroProviders(t *testing.T) {
	got := Aggregate(DefaultConfig(), 0.2, nil, nil)
	if got.RiskScore != 0 {
		t.Errorf("score = %.3f, want 0", got.RiskScore)
	}
	if got.RiskLevel != LevelLow {
		t.Errorf("level = %s, want LOW", got.RiskLevel)
	}
}

func TestAggregate_FraudScenarioEscalates(t *testing.T) {
	// One strong SIM-swap verdict, one timeout, three mild signals.
	selected := signal.AllProviders()
	signals := map[string]signal.Result{
		signal.ProviderSimSwap:        succeeded(signal.ProviderSimSwap, 0.8, 0.9),
		signal.ProviderDeviceLocation: {Provider: signal.ProviderDeviceLocation, Status: signal.StatusTimedOut, Attempt: 1},
		signal.ProviderKYCMatch:       succeeded(signal.ProviderKYCMatch, 0.3, 1.0),
		signal.ProviderScamSignal:     succeeded(signal.ProviderScamSignal, 0.3, 1.0),
		signal.ProviderDeviceSwap:     succeeded(signal.ProviderDeviceSwap, 0.3, 1.0),
	}

	got := Aggregate(DefaultConfig(), 0.9, selected, signals)
	if got.RiskLevel != LevelHigh && got.RiskLevel != LevelCritical {
		t.Errorf("level = %s (score %.3f), want HIGH or CRITICAL", got.RiskLevel, got.RiskScore)
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	signals := map[string]signal.Result{
		signal.ProviderSimSwap:    succeeded(signal.ProviderSimSwap, 0.7, 0.8),
		signal.ProviderKYCMatch:   {Provider: signal.ProviderKYCMatch, Status: signal.StatusFailed, Attempt: 1},
		signal.ProviderScamSignal: succeeded(signal.ProviderScamSignal, 0.4, 0.9),
	}

	// Selection order must not matter.
	forward := []string{signal.ProviderSimSwap, signal.ProviderKYCMatch, signal.ProviderScamSignal}
	reversed := []string{signal.ProviderScamSignal, signal.ProviderKYCMatch, signal.ProviderSimSwap}

	a := Aggregate(DefaultConfig(), 0.5, forward, signals)
	for i := 0; i < 20; i++ {
		b := Aggregate(DefaultConfig(), 0.5, reversed, signals)
		if a.RiskScore != b.RiskScore || a.RiskLevel != b.RiskLevel {
			t.Fatalf("run %d: (%.3f, %s) != (%.3f, %s)",
				i, b.RiskScore, b.RiskLevel, a.RiskScore, a.RiskLevel)
		}
	}
}

func TestAggregate_MissingSignalTreatedAsPenalty(t *testing.T) {
	cfg := DefaultConfig()
	selected := []string{signal.ProviderSimSwap, signal.ProviderKYCMatch}
	signals := map[string]signal.Result{
		signal.ProviderSimSwap: succeeded(signal.ProviderSimSwap, 0.5, 1.0),
	}

	got := Aggregate(cfg, 0.5, selected, signals)
	if got.Contributions[signal.ProviderKYCMatch] != cfg.PenaltyFactor {
		t.Errorf("missing provider contribution = %.3f, want penalty %.3f",
			got.Contributions[signal.ProviderKYCMatch], cfg.PenaltyFactor)
	}
}

func TestAggregate_AllTimedOutStaysNonZero(t *testing.T) {
	selected := signal.AllProviders()
	signals := make(map[string]signal.Result, len(selected))
	for _, name := range selected {
		signals[name] = signal.Result{Provider: name, Status: signal.StatusTimedOut, Attempt: 1}
	}

	got := Aggregate(DefaultConfig(), 0.9, selected, signals)
	if got.RiskScore <= 0 {
		t.Errorf("score = %.3f, want > 0: missing evidence is suspicious", got.RiskScore)
	}
	if got.RiskLevel != LevelLow {
		t.Errorf("level = %s, want LOW for pure penalties", got.RiskLevel)
	}
}

func TestAggregate_ThresholdTiesRoundUp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DominantBoost = 0
	cfg.Weights = nil

	tests := []struct {
		severity, confidence float64
		want                 Level
	}{
		{0.29, 1.0, LevelLow},
		{0.3, 1.0, LevelMedium},
		{0.6, 1.0, LevelHigh},
		{0.85, 1.0, LevelCritical},
	}
	for _, tt := range tests {
		signals := map[string]signal.Result{
			signal.ProviderSimSwap: succeeded(signal.ProviderSimSwap, tt.severity, tt.confidence),
		}
		got := Aggregate(cfg, 1.0, []string{signal.ProviderSimSwap}, signals)
		if got.RiskLevel != tt.want {
			t.Errorf("severity %.2f: level = %s (score %.3f), want %s",
				tt.severity, got.RiskLevel, got.RiskScore, tt.want)
		}
	}
}

func TestAggregate_ScoreClamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DominantBoost = 2.0

	signals := map[string]signal.Result{
		signal.ProviderSimSwap: succeeded(signal.ProviderSimSwap, 1.0, 1.0),
	}
	got := Aggregate(cfg, 1.0, []string{signal.ProviderSimSwap}, signals)
	if got.RiskScore != 1.0 {
		t.Errorf("score = %.3f, want clamped to 1.0", got.RiskScore)
	}
	if got.RiskLevel != LevelCritical {
		t.Errorf("level = %s, want CRITICAL", got.RiskLevel)
	}
}

func TestAggregate_IntentConfidenceCarried(t *testing.T) {
	got := Aggregate(DefaultConfig(), 0.42, nil, nil)
	if got.IntentConfidence != 0.42 {
		t.Errorf("intentConfidence = %.2f, want 0.42", got.IntentConfidence)
	}
}
