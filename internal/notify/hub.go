// Package notify delivers case events to observers.
//
// The hub is a thin fan-out over the audit log: orchestration appends an
// event, the hub pushes it to whoever watches that case. Delivery is
// best-effort and never blocks the pipeline; the log remains the
// authority, and a subscriber that falls behind is dropped rather than
// slowing anyone down.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/audit"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/cases"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/metrics"
)

// subscriberBuffer is the per-subscriber event buffer. A subscriber whose
// buffer overflows is disconnected.
const subscriberBuffer = 64

// Subscription is one observer's live feed for a single case. Events
// closes when the case reaches a terminal state, on unsubscribe, or when
// the subscriber falls too far behind.
type Subscription struct {
	CaseID string
	Events chan *audit.Event

	hub    *Hub
	closed bool
}

// Close detaches the subscription. Safe to call once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub fans audit events out to per-case subscribers.
type Hub struct {
	log    audit.Log
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[*Subscription]bool

	totalEvents      atomic.Int64
	totalSubscribers atomic.Int64
}

// NewHub creates a hub that backfills subscribers from the given log.
func NewHub(log audit.Log, logger *slog.Logger) *Hub {
	return &Hub{
		log:    log,
		logger: logger,
		subs:   make(map[string]map[*Subscription]bool),
	}
}

// Subscribe registers a live feed for one case. The caller is expected to
// backfill from the audit log itself and deduplicate by sequence number.
func (h *Hub) Subscribe(caseID string) *Subscription {
	sub := &Subscription{
		CaseID: caseID,
		Events: make(chan *audit.Event, subscriberBuffer),
		hub:    h,
	}

	h.mu.Lock()
	if h.subs[caseID] == nil {
		h.subs[caseID] = make(map[*Subscription]bool)
	}
	h.subs[caseID][sub] = true
	h.mu.Unlock()

	h.totalSubscribers.Add(1)
	metrics.ActiveStreamClients.Inc()
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub)
}

// remove detaches and closes a subscription. Caller holds h.mu.
func (h *Hub) remove(sub *Subscription) {
	set, ok := h.subs[sub.CaseID]
	if !ok || !set[sub] {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.CaseID)
	}
	close(sub.Events)
	sub.closed = true
	metrics.ActiveStreamClients.Dec()
}

// Publish delivers one committed audit event to the case's subscribers.
// When the event carries a terminal transition, the streams close after
// delivery. Implements the orchestrator's notifier boundary.
func (h *Hub) Publish(ev *audit.Event, c *cases.Case) {
	h.totalEvents.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[ev.CaseID]
	if len(set) == 0 {
		return
	}

	final := c != nil && c.State.Terminal()
	for sub := range set {
		select {
		case sub.Events <- ev:
		default:
			h.logger.Warn("subscriber too slow, dropping", "case_id", ev.CaseID)
			h.remove(sub)
			continue
		}
		if final {
			h.remove(sub)
		}
	}
}

// Stats reports hub counters for the dashboard and tests.
func (h *Hub) Stats() map[string]any {
	h.mu.Lock()
	active := 0
	for _, set := range h.subs {
		active += len(set)
	}
	h.mu.Unlock()

	return map[string]any{
		"activeSubscribers": active,
		"totalSubscribers":  h.totalSubscribers.Load(),
		"totalEvents":       h.totalEvents.Load(),
	}
}

// IsTerminalEvent reports whether an event carries a transition into a
// terminal state.
func IsTerminalEvent(ev *audit.Event) bool {
	if ev.Kind != audit.KindStateTransition {
		return false
	}
	var p audit.TransitionPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return false
	}
	return p.To.Terminal()
}
