package intent

import (
	"context"
	"testing"
)

func TestClassify_FraudReport(t *testing.T) {
	c := NewPatternClassifier()
	got, err := c.Classify(context.Background(), "Someone claiming to be bank security asked for my SSN with a 10-minute deadline")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Category != CategoryFraudReport {
		t.Errorf("category = %s, want %s", got.Category, CategoryFraudReport)
	}
	if got.Confidence < DefaultThreshold {
		t.Errorf("confidence = %.2f, want >= %.2f", got.Confidence, DefaultThreshold)
	}
}

func TestClassify_InfoRequest(t *testing.T) {
	c := NewPatternClassifier()
	got, err := c.Classify(context.Background(), "What are your business hours?")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Category != CategoryInfoRequest {
		t.Errorf("category = %s, want %s", got.Category, CategoryInfoRequest)
	}
	if got.Confidence < DefaultThreshold {
		t.Errorf("confidence = %.2f, want >= %.2f", got.Confidence, DefaultThreshold)
	}
}

func TestClassify_ServiceRequest(t *testing.T) {
	c := NewPatternClassifier()
	got, err := c.Classify(context.Background(), "Please block my card, I lost it yesterday")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Category != CategoryServiceRequest {
		t.Errorf("category = %s, want %s", got.Category, CategoryServiceRequest)
	}
}

func TestClassify_EmptyText(t *testing.T) {
	c := NewPatternClassifier()
	got, err := c.Classify(context.Background(), "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Category != CategoryUnknown {
		t.Errorf("category = %s, want %s", got.Category, CategoryUnknown)
	}
	if got.Confidence != 0 {
		t.Errorf("confidence = %.2f, want 0", got.Confidence)
	}
}

func TestClassify_Gibberish(t *testing.T) {
	c := NewPatternClassifier()
	got, _ := c.Classify(context.Background(), "zxqv plombترks 9911")
	if got.Category != CategoryUnknown {
		t.Errorf("category = %s, want %s", got.Category, CategoryUnknown)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := NewPatternClassifier()
	text := "I got a suspicious call about a $500.00 charge I didn't make, call +15551234567"
	first, _ := c.Classify(context.Background(), text)
	for i := 0; i < 10; i++ {
		got, _ := c.Classify(context.Background(), text)
		if got.Category != first.Category || got.Confidence != first.Confidence {
			t.Fatalf("run %d: got (%s, %.4f), want (%s, %.4f)",
				i, got.Category, got.Confidence, first.Category, first.Confidence)
		}
	}
}

func TestExtractEntities(t *testing.T) {
	c := NewPatternClassifier()
	got, _ := c.Classify(context.Background(),
		"They asked me to wire $1,250.00 and verify at http://fake-bank.example.com, sender was +14155550123")

	if got.Entities["amount"] != "$1,250.00" {
		t.Errorf("amount = %q, want %q", got.Entities["amount"], "$1,250.00")
	}
	if got.Entities["phone"] == "" {
		t.Error("expected a phone entity")
	}
	if got.Entities["url"] == "" {
		t.Error("expected a url entity")
	}
}
