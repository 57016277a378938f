package signal

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/circuitbreaker"
)

type stubProvider struct {
	name string
	fn   func(ctx context.Context, req Request) (*Verdict, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Check(ctx context.Context, req Request) (*Verdict, error) {
	return s.fn(ctx, req)
}

func okProvider(name string, severity float64) *stubProvider {
	return &stubProvider{name: name, fn: func(context.Context, Request) (*Verdict, error) {
		return &Verdict{Confidence: 0.9, Severity: severity}, nil
	}}
}

func TestInvoke_Success(t *testing.T) {
	g := NewGateway([]Provider{okProvider(ProviderSimSwap, 0.8)})

	res := g.Invoke(context.Background(), ProviderSimSwap, Request{SubjectPhone: "+15551234567"}, 1)
	if res.Status != StatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", res.Status)
	}
	if res.Severity != 0.8 || res.Confidence != 0.9 {
		t.Errorf("verdict not carried through: %+v", res)
	}
	if res.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", res.Attempt)
	}
	if res.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestInvoke_Timeout(t *testing.T) {
	slow := &stubProvider{name: ProviderKYCMatch, fn: func(ctx context.Context, _ Request) (*Verdict, error) {
		select {
		case <-time.After(500 * time.Millisecond):
			return &Verdict{Confidence: 1, Severity: 0}, nil
		case <-ctx.Done():
			return nil, ConnectionError(ctx.Err())
		}
	}}
	g := NewGateway([]Provider{slow}, WithTimeout(30*time.Millisecond))

	res := g.Invoke(context.Background(), ProviderKYCMatch, Request{}, 1)
	if res.Status != StatusTimedOut {
		t.Fatalf("status = %s, want TIMED_OUT", res.Status)
	}
	if res.Cause != string(FailureTimeout) {
		t.Errorf("cause = %q, want %q", res.Cause, FailureTimeout)
	}
}

func TestInvoke_LateResultDelivered(t *testing.T) {
	slow := &stubProvider{name: ProviderScamSignal, fn: func(context.Context, Request) (*Verdict, error) {
		time.Sleep(80 * time.Millisecond)
		return &Verdict{Confidence: 0.9, Severity: 0.5}, nil
	}}

	late := make(chan Result, 1)
	g := NewGateway([]Provider{slow},
		WithTimeout(20*time.Millisecond),
		WithLateResultHook(func(_ Request, r Result) { late <- r }),
	)

	res := g.Invoke(context.Background(), ProviderScamSignal, Request{}, 1)
	if res.Status != StatusTimedOut {
		t.Fatalf("status = %s, want TIMED_OUT", res.Status)
	}

	select {
	case r := <-late:
		if r.Status != StatusSucceeded {
			t.Errorf("late status = %s, want SUCCEEDED", r.Status)
		}
		if r.Attempt != 2 {
			t.Errorf("late attempt = %d, want 2", r.Attempt)
		}
	case <-time.After(time.Second):
		t.Fatal("late result never delivered")
	}
}

func TestInvoke_TransientRetriedOnce(t *testing.T) {
	var calls atomic.Int32
	flappy := &stubProvider{name: ProviderDeviceSwap, fn: func(context.Context, Request) (*Verdict, error) {
		if calls.Add(1) == 1 {
			return nil, ConnectionError(errors.New("connection reset"))
		}
		return &Verdict{Confidence: 0.8, Severity: 0.2}, nil
	}}
	g := NewGateway([]Provider{flappy}, WithRetryBackoff(5*time.Millisecond))

	res := g.Invoke(context.Background(), ProviderDeviceSwap, Request{}, 1)
	if res.Status != StatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED after retry", res.Status)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestInvoke_ExplicitErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	broken := &stubProvider{name: ProviderSimSwap, fn: func(context.Context, Request) (*Verdict, error) {
		calls.Add(1)
		return nil, ExplicitError("SUBJECT_NOT_FOUND", errors.New("no such subscriber"))
	}}
	g := NewGateway([]Provider{broken}, WithRetryBackoff(5*time.Millisecond))

	res := g.Invoke(context.Background(), ProviderSimSwap, Request{}, 1)
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", res.Status)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", got)
	}
	if !strings.Contains(res.Cause, "SUBJECT_NOT_FOUND") {
		t.Errorf("cause = %q, want failure code preserved", res.Cause)
	}
}

func TestInvoke_MalformedResponse(t *testing.T) {
	bad := &stubProvider{name: ProviderKYCMatch, fn: func(context.Context, Request) (*Verdict, error) {
		return &Verdict{Confidence: 1.5, Severity: 0.2}, nil
	}}
	g := NewGateway([]Provider{bad})

	res := g.Invoke(context.Background(), ProviderKYCMatch, Request{}, 1)
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", res.Status)
	}
	if !strings.Contains(res.Cause, string(FailureMalformed)) {
		t.Errorf("cause = %q, want malformed-response", res.Cause)
	}
}

func TestInvoke_UnknownProvider(t *testing.T) {
	g := NewGateway(nil)
	res := g.Invoke(context.Background(), "palm_reader", Request{}, 1)
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", res.Status)
	}
}

func TestInvoke_CircuitOpen(t *testing.T) {
	b := circuitbreaker.New(1, time.Minute)
	b.Observe(ProviderScamSignal, false)

	g := NewGateway([]Provider{okProvider(ProviderScamSignal, 0.5)}, WithBreaker(b))
	res := g.Invoke(context.Background(), ProviderScamSignal, Request{}, 1)
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED when circuit open", res.Status)
	}
	if res.Cause != "circuit open" {
		t.Errorf("cause = %q", res.Cause)
	}
}

func TestGateway_Providers(t *testing.T) {
	g := NewGateway(NewSimulatedProviders())
	got := g.Providers()
	if len(got) != 5 {
		t.Fatalf("providers = %v, want all five", got)
	}
}
