// Package audit is the append-only event log behind every case.
//
// The log is the single source of truth: a Case is a materialized
// projection over its events, and replaying a case's events from empty
// state reconstructs the same snapshot deterministically. Sequences are
// assigned by the log, gapless and strictly increasing per case. Writers
// follow log-then-apply ordering: no state change is committed unless its
// audit event persisted first.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/cases"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/intent"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/risk"
)

var (
	ErrEmptyLog    = errors.New("audit: no events for case")
	ErrSequenceGap = errors.New("audit: event sequence has a gap")
	ErrBadEvent    = errors.New("audit: malformed event")
)

// Kind classifies an audit event.
type Kind string

const (
	KindStateTransition Kind = "STATE_TRANSITION"
	KindSignalReceived  Kind = "SIGNAL_RECEIVED"
	KindSignalFailed    Kind = "SIGNAL_FAILED"
	KindAggregated      Kind = "AGGREGATED"
)

// Event is one immutable audit record, keyed by (caseId, sequence).
type Event struct {
	CaseID    string          `json:"caseId"`
	Sequence  int64           `json:"sequence"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// TransitionPayload describes a state transition. The initial RECEIVED
// event carries the case's identity fields; the CLASSIFIED event carries
// the intent.
type TransitionPayload struct {
	From         cases.State    `json:"from,omitempty"`
	To           cases.State    `json:"to"`
	SubjectPhone string         `json:"subjectPhone,omitempty"`
	RawText      string         `json:"rawText,omitempty"`
	Intent       *intent.Intent `json:"intent,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

// AggregatedPayload carries the risk outcome for the AGGREGATED event.
type AggregatedPayload struct {
	risk.Assessment
	Selected []string `json:"selected,omitempty"`
}

// Log appends and reads audit events. Append assigns the next sequence
// for the case; concurrent appends across cases are safe, per-case
// ordering is the caller's single-writer discipline.
type Log interface {
	Append(ctx context.Context, caseID string, kind Kind, payload any) (*Event, error)
	List(ctx context.Context, caseID string, fromSeq int64) ([]*Event, error)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal payload: %w", err)
	}
	return raw, nil
}
