package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryLog is an in-memory audit log for demo/development mode.
type MemoryLog struct {
	events map[string][]*Event
	mu     sync.RWMutex
}

var _ Log = (*MemoryLog)(nil)

// NewMemoryLog creates a new in-memory audit log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{events: make(map[string][]*Event)}
}

func (m *MemoryLog) Append(ctx context.Context, caseID string, kind Kind, payload any) (*Event, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ev := &Event{
		CaseID:    caseID,
		Sequence:  int64(len(m.events[caseID])) + 1,
		Kind:      kind,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}
	m.events[caseID] = append(m.events[caseID], ev)
	return ev, nil
}

func (m *MemoryLog) List(ctx context.Context, caseID string, fromSeq int64) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Event
	for _, ev := range m.events[caseID] {
		if ev.Sequence >= fromSeq {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}
