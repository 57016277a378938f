// Package cases owns the lifecycle of one fraud-investigation case.
//
// A case moves RECEIVED → CLASSIFIED → DISPATCHED → AGGREGATING →
// AGGREGATED → {RESOLVED, ESCALATED}, with CANCELLED reachable from the
// first three states only. Transitions are guarded; an attempt from a
// terminal state or against a guard fails without mutating the case.
// The orchestrator is the single writer per case; stores enforce
// optimistic concurrency through the version column.
package cases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/intent"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/pagination"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/risk"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/signal"
)

var (
	ErrCaseNotFound           = errors.New("cases: case not found")
	ErrInvalidTransition      = errors.New("cases: invalid state transition")
	ErrConcurrentModification = errors.New("cases: case modified concurrently")
)

// State is a case lifecycle state.
type State string

const (
	StateReceived    State = "RECEIVED"
	StateClassified  State = "CLASSIFIED"
	StateDispatched  State = "DISPATCHED"
	StateAggregating State = "AGGREGATING"
	StateAggregated  State = "AGGREGATED"
	StateResolved    State = "RESOLVED"
	StateEscalated   State = "ESCALATED"
	StateCancelled   State = "CANCELLED"
)

// transitions maps each state to its permitted successors.
var transitions = map[State][]State{
	StateReceived:    {StateClassified, StateCancelled},
	StateClassified:  {StateDispatched, StateCancelled},
	StateDispatched:  {StateAggregating, StateCancelled},
	StateAggregating: {StateAggregated},
	StateAggregated:  {StateResolved, StateEscalated},
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateEscalated || s == StateCancelled
}

// CanTransitionTo reports whether s → to is a permitted transition.
func (s State) CanTransitionTo(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Case is one fraud investigation, materialized from its audit log.
type Case struct {
	ID           string                   `json:"id"`
	SubjectPhone string                   `json:"subjectPhone"`
	RawText      string                   `json:"rawText,omitempty"`
	Intent       *intent.Intent           `json:"intent,omitempty"`
	State        State                    `json:"state"`
	Signals      map[string]signal.Result `json:"signals,omitempty"`
	RiskScore    *float64                 `json:"riskScore,omitempty"`
	RiskLevel    *risk.Level              `json:"riskLevel,omitempty"`
	CreatedAt    time.Time                `json:"createdAt"`
	UpdatedAt    time.Time                `json:"updatedAt"`
	Version      int64                    `json:"version"`
}

// New creates a case in the RECEIVED state.
func New(id, subjectPhone, rawText string) *Case {
	now := time.Now().UTC()
	return &Case{
		ID:           id,
		SubjectPhone: subjectPhone,
		RawText:      rawText,
		State:        StateReceived,
		Signals:      make(map[string]signal.Result),
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
}

// TransitionTo applies a guarded state transition. On a guard violation
// the case is left untouched.
func (c *Case) TransitionTo(to State) error {
	if !c.State.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, to)
	}
	c.State = to
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ApplySignal records a provider result. An existing result for the same
// provider is only superseded by a strictly higher attempt; signals are
// never removed. Returns false when the result was stale.
func (c *Case) ApplySignal(res signal.Result) bool {
	if existing, ok := c.Signals[res.Provider]; ok && existing.Attempt >= res.Attempt {
		return false
	}
	if c.Signals == nil {
		c.Signals = make(map[string]signal.Result)
	}
	c.Signals[res.Provider] = res
	c.UpdatedAt = time.Now().UTC()
	return true
}

// SetAssessment transitions the case to AGGREGATED and attaches the risk
// outcome. Score and level only ever appear together with this transition.
func (c *Case) SetAssessment(score float64, level risk.Level) error {
	if err := c.TransitionTo(StateAggregated); err != nil {
		return err
	}
	c.RiskScore = &score
	c.RiskLevel = &level
	return nil
}

// Clone returns a deep copy safe to hand across goroutines.
func (c *Case) Clone() *Case {
	cp := *c
	if c.Signals != nil {
		cp.Signals = make(map[string]signal.Result, len(c.Signals))
		for k, v := range c.Signals {
			cp.Signals[k] = v
		}
	}
	if c.RiskScore != nil {
		score := *c.RiskScore
		cp.RiskScore = &score
	}
	if c.RiskLevel != nil {
		level := *c.RiskLevel
		cp.RiskLevel = &level
	}
	if c.Intent != nil {
		in := *c.Intent
		if c.Intent.Entities != nil {
			in.Entities = make(map[string]string, len(c.Intent.Entities))
			for k, v := range c.Intent.Entities {
				in.Entities[k] = v
			}
		}
		cp.Intent = &in
	}
	return &cp
}

// ListOption configures optional parameters for list queries.
type ListOption func(*listOpts)

type listOpts struct {
	cursor *pagination.Cursor
}

func applyListOpts(opts []ListOption) listOpts {
	var o listOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithCursor filters results to cases after the given cursor position.
// Invalid cursors are ignored.
func WithCursor(cursor string) ListOption {
	return func(o *listOpts) {
		c, err := pagination.Decode(cursor)
		if err == nil {
			o.cursor = c
		}
	}
}

// afterCursor reports whether a case sorts after the cursor position in
// newest-first order with ascending ID tiebreak.
func (o listOpts) afterCursor(createdAt time.Time, id string) bool {
	if o.cursor == nil {
		return true
	}
	if createdAt.Equal(o.cursor.CreatedAt) {
		return id > o.cursor.ID
	}
	return createdAt.Before(o.cursor.CreatedAt)
}

// Store persists cases. Update enforces optimistic concurrency: the
// write only lands if the stored version equals the caller's version,
// and the version is incremented on success (mirrored into the passed
// Case). A mismatch returns ErrConcurrentModification.
type Store interface {
	Create(ctx context.Context, c *Case) error
	Get(ctx context.Context, id string) (*Case, error)
	Update(ctx context.Context, c *Case) error
	List(ctx context.Context, state State, limit int, opts ...ListOption) ([]*Case, error)
}
