package signal

import (
	"context"
	"testing"
)

func TestSimulatedProviders_Deterministic(t *testing.T) {
	for _, p := range NewSimulatedProviders() {
		req := Request{SubjectPhone: "+15551234567"}
		first, err := p.Check(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: %v", p.Name(), err)
		}
		for i := 0; i < 5; i++ {
			got, err := p.Check(context.Background(), req)
			if err != nil {
				t.Fatalf("%s: %v", p.Name(), err)
			}
			if got.Confidence != first.Confidence || got.Severity != first.Severity {
				t.Errorf("%s: run %d differs: (%.4f, %.4f) vs (%.4f, %.4f)",
					p.Name(), i, got.Confidence, got.Severity, first.Confidence, first.Severity)
			}
		}
	}
}

func TestSimulatedProviders_InRange(t *testing.T) {
	phones := []string{"+15551234567", "+442071234567", "+2348012345678", "+4915112345678"}
	for _, p := range NewSimulatedProviders() {
		for _, phone := range phones {
			v, err := p.Check(context.Background(), Request{SubjectPhone: phone})
			if err != nil {
				t.Fatalf("%s(%s): %v", p.Name(), phone, err)
			}
			if v.Confidence < 0 || v.Confidence > 1 {
				t.Errorf("%s(%s): confidence %.4f out of range", p.Name(), phone, v.Confidence)
			}
			if v.Severity < 0 || v.Severity > 1 {
				t.Errorf("%s(%s): severity %.4f out of range", p.Name(), phone, v.Severity)
			}
			if len(v.Evidence) == 0 {
				t.Errorf("%s(%s): no evidence payload", p.Name(), phone)
			}
		}
	}
}

func TestSimulatedProviders_CoverAllNames(t *testing.T) {
	seen := make(map[string]bool)
	for _, p := range NewSimulatedProviders() {
		seen[p.Name()] = true
	}
	for _, name := range AllProviders() {
		if !seen[name] {
			t.Errorf("no simulated provider for %s", name)
		}
	}
}

func TestSimulatedProviders_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, p := range NewSimulatedProviders() {
		if _, err := p.Check(ctx, Request{SubjectPhone: "+15551234567"}); err == nil {
			t.Errorf("%s: expected error on cancelled context", p.Name())
		}
	}
}
