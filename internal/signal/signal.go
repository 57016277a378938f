// Package signal defines the risk-signal provider boundary and the gateway
// that invokes providers with uniform timeout, retry, and failure semantics.
package signal

import (
	"context"
	"fmt"
	"time"
)

// Provider names. The set is closed: selection maps intent categories onto
// subsets of these names, never onto arbitrary strings.
const (
	ProviderSimSwap        = "sim_swap"
	ProviderDeviceLocation = "device_location"
	ProviderKYCMatch       = "kyc_match"
	ProviderScamSignal     = "scam_signal"
	ProviderDeviceSwap     = "device_swap"
)

// AllProviders returns every provider name in a stable order.
func AllProviders() []string {
	return []string{
		ProviderSimSwap,
		ProviderDeviceLocation,
		ProviderKYCMatch,
		ProviderScamSignal,
		ProviderDeviceSwap,
	}
}

// Status is the terminal outcome of one provider call.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}

// Request is the normalized input every provider receives.
type Request struct {
	SubjectPhone string         `json:"subjectPhone"`
	Context      map[string]any `json:"context,omitempty"`
}

// Verdict is a provider's raw response before gateway normalization.
type Verdict struct {
	Confidence float64        `json:"confidence"`
	Severity   float64        `json:"severity"`
	Evidence   map[string]any `json:"evidence,omitempty"`
}

// Result is one provider's normalized verdict for one case. All gateway
// outcomes, including timeouts and failures, are represented here; the
// gateway never returns an error past its boundary.
type Result struct {
	Provider    string         `json:"provider"`
	Status      Status         `json:"status"`
	Confidence  float64        `json:"confidence"`
	Severity    float64        `json:"severity"`
	Evidence    map[string]any `json:"evidence,omitempty"`
	Attempt     int            `json:"attempt"`
	Cause       string         `json:"cause,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// Provider is one external risk-analysis capability.
// Implementations must honor ctx cancellation and are called concurrently.
type Provider interface {
	Name() string
	Check(ctx context.Context, req Request) (*Verdict, error)
}

// FailureKind classifies provider failures into a common taxonomy.
type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureConnection FailureKind = "connection-error"
	FailureMalformed  FailureKind = "malformed-response"
	FailureExplicit   FailureKind = "explicit-error"
)

// ProviderError is a normalized provider failure.
type ProviderError struct {
	Kind FailureKind
	Code string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("signal: %s (%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("signal: %s: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying within the same
// dispatch window. Only connection failures qualify.
func (e *ProviderError) Transient() bool { return e.Kind == FailureConnection }

// ConnectionError wraps a network-level failure (retryable).
func ConnectionError(err error) *ProviderError {
	return &ProviderError{Kind: FailureConnection, Err: err}
}

// MalformedResponse wraps an unparseable or out-of-range response.
func MalformedResponse(err error) *ProviderError {
	return &ProviderError{Kind: FailureMalformed, Err: err}
}

// ExplicitError wraps a provider-reported error with its code.
func ExplicitError(code string, err error) *ProviderError {
	return &ProviderError{Kind: FailureExplicit, Code: code, Err: err}
}
