package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/cases"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/signal"
)

// Rebuild reconstructs a case snapshot from its ordered event list.
// Events must start at sequence 1 and be gapless; the first event must be
// the RECEIVED transition that created the case. The rebuilt version
// equals the event count, matching one persisted write per event.
func Rebuild(events []*Event) (*cases.Case, error) {
	if len(events) == 0 {
		return nil, ErrEmptyLog
	}

	var c *cases.Case
	for i, ev := range events {
		if ev.Sequence != int64(i)+1 {
			return nil, fmt.Errorf("%w: want %d, got %d", ErrSequenceGap, i+1, ev.Sequence)
		}

		switch ev.Kind {
		case KindStateTransition:
			var p TransitionPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				return nil, fmt.Errorf("%w: seq %d: %v", ErrBadEvent, ev.Sequence, err)
			}
			if i == 0 {
				if p.To != cases.StateReceived {
					return nil, fmt.Errorf("%w: first event transitions to %s", ErrBadEvent, p.To)
				}
				c = &cases.Case{
					ID:           ev.CaseID,
					SubjectPhone: p.SubjectPhone,
					RawText:      p.RawText,
					State:        cases.StateReceived,
					Signals:      make(map[string]signal.Result),
					CreatedAt:    ev.Timestamp,
				}
				break
			}
			c.State = p.To
			if p.Intent != nil {
				c.Intent = p.Intent
			}

		case KindSignalReceived, KindSignalFailed:
			if c == nil {
				return nil, fmt.Errorf("%w: signal before case creation", ErrBadEvent)
			}
			var res signal.Result
			if err := json.Unmarshal(ev.Payload, &res); err != nil {
				return nil, fmt.Errorf("%w: seq %d: %v", ErrBadEvent, ev.Sequence, err)
			}
			if existing, ok := c.Signals[res.Provider]; !ok || res.Attempt > existing.Attempt {
				c.Signals[res.Provider] = res
			}

		case KindAggregated:
			if c == nil {
				return nil, fmt.Errorf("%w: aggregation before case creation", ErrBadEvent)
			}
			var p AggregatedPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				return nil, fmt.Errorf("%w: seq %d: %v", ErrBadEvent, ev.Sequence, err)
			}
			c.State = cases.StateAggregated
			score := p.RiskScore
			level := p.RiskLevel
			c.RiskScore = &score
			c.RiskLevel = &level

		default:
			return nil, fmt.Errorf("%w: unknown kind %q at seq %d", ErrBadEvent, ev.Kind, ev.Sequence)
		}

		c.UpdatedAt = ev.Timestamp
		c.Version = ev.Sequence
	}
	return c, nil
}

// Replay loads a case's full event stream and rebuilds its snapshot.
func Replay(ctx context.Context, log Log, caseID string) (*cases.Case, error) {
	events, err := log.List(ctx, caseID, 1)
	if err != nil {
		return nil, err
	}
	return Rebuild(events)
}
