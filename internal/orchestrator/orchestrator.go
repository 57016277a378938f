// Package orchestrator drives a case from submission to a terminal state.
//
// One engine serves all cases. Each submitted case runs its own pipeline:
// classify, select providers, fan out concurrent gateway calls under a
// dispatch-wide deadline, collect results as they arrive, aggregate, and
// resolve or escalate. The engine is the only component that transitions
// case state; providers and the classifier just submit results. Per-case
// writes are serialized through a sharded mutex, and an engine-wide
// admission semaphore bounds concurrent provider calls across all cases.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/audit"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/cases"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/idgen"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/intent"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/logging"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/metrics"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/risk"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/signal"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/syncutil"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/traces"
)

// ErrAuditAppend wraps audit log failures; the triggering operation must
// not proceed past one.
var ErrAuditAppend = errors.New("orchestrator: audit append failed")

const (
	// DefaultDispatchDeadline bounds the whole provider fan-out per case.
	DefaultDispatchDeadline = 5 * time.Second
	// DefaultMaxInFlight is the engine-wide admission limit on
	// concurrent provider calls.
	DefaultMaxInFlight = 32

	caseIDContextKey = "case_id"
)

// Selection maps an intent category to the providers relevant to it.
type Selection map[intent.Category][]string

// DefaultSelection dispatches everything for fraud reports, identity
// checks for service requests, and nothing for informational or unknown
// intents.
func DefaultSelection() Selection {
	return Selection{
		intent.CategoryFraudReport: signal.AllProviders(),
		intent.CategoryServiceRequest: {
			signal.ProviderSimSwap,
			signal.ProviderDeviceSwap,
			signal.ProviderKYCMatch,
		},
		intent.CategoryInfoRequest: {},
		intent.CategoryUnknown:     {},
	}
}

// Notifier receives every committed audit event together with the case
// snapshot that resulted from it. Implementations must not block.
type Notifier interface {
	Publish(ev *audit.Event, c *cases.Case)
}

// Engine orchestrates case pipelines.
type Engine struct {
	store     cases.Store
	log       audit.Log
	gateway   *signal.Gateway
	adapter   *intent.Adapter
	riskCfg   risk.Config
	selection Selection
	notifier  Notifier

	locks     *syncutil.ContextShardedMutex
	admission *semaphore.Weighted
	deadline  time.Duration
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSelection overrides the intent-to-provider mapping.
func WithSelection(s Selection) EngineOption {
	return func(e *Engine) { e.selection = s }
}

// WithRiskConfig overrides the aggregation tuning.
func WithRiskConfig(cfg risk.Config) EngineOption {
	return func(e *Engine) { e.riskCfg = cfg }
}

// WithDispatchDeadline overrides the dispatch-wide deadline.
func WithDispatchDeadline(d time.Duration) EngineOption {
	return func(e *Engine) { e.deadline = d }
}

// WithMaxInFlight overrides the admission limit on concurrent provider calls.
func WithMaxInFlight(n int64) EngineOption {
	return func(e *Engine) { e.admission = semaphore.NewWeighted(n) }
}

// WithNotifier attaches an event notifier.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds an engine over the given store, log, gateway, and
// classifier adapter.
func NewEngine(store cases.Store, log audit.Log, gateway *signal.Gateway, adapter *intent.Adapter, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		log:       log,
		gateway:   gateway,
		adapter:   adapter,
		riskCfg:   risk.DefaultConfig(),
		selection: DefaultSelection(),
		locks:     syncutil.NewContextShardedMutex(),
		admission: semaphore.NewWeighted(DefaultMaxInFlight),
		deadline:  DefaultDispatchDeadline,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LateResultHook adapts the engine for signal.WithLateResultHook, so
// verdicts arriving after a per-call timeout still land in the audit log.
func (e *Engine) LateResultHook() func(signal.Request, signal.Result) {
	return func(req signal.Request, res signal.Result) {
		caseID, _ := req.Context[caseIDContextKey].(string)
		if caseID == "" {
			return
		}
		e.RecordLateSignal(context.Background(), caseID, res)
	}
}

// Submit creates a case in RECEIVED and starts its pipeline. The returned
// snapshot reflects the case before classification.
func (e *Engine) Submit(ctx context.Context, subjectPhone, rawText string) (*cases.Case, error) {
	c := cases.New(idgen.WithPrefix("case_"), subjectPhone, rawText)

	err := e.locks.Do(ctx, c.ID, func() error {
		ev, err := e.log.Append(ctx, c.ID, audit.KindStateTransition, audit.TransitionPayload{
			To:           cases.StateReceived,
			SubjectPhone: subjectPhone,
			RawText:      rawText,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAuditAppend, err)
		}
		// The event timestamp is the case clock: replaying the log must
		// reproduce the stored row exactly, timestamps included.
		c.CreatedAt = ev.Timestamp
		c.UpdatedAt = ev.Timestamp
		if err := e.store.Create(ctx, c); err != nil {
			return err
		}
		e.publish(ev, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	go e.runPipeline(c.ID)
	return c.Clone(), nil
}

// Cancel aborts a case on operator request. Only cases that have not yet
// begun aggregating can be cancelled.
func (e *Engine) Cancel(ctx context.Context, caseID, reason string) (*cases.Case, error) {
	var out *cases.Case
	err := e.locks.Do(ctx, caseID, func() error {
		c, err := e.store.Get(ctx, caseID)
		if err != nil {
			return err
		}
		if err := e.transition(ctx, c, cases.StateCancelled, audit.TransitionPayload{Reason: reason}); err != nil {
			return err
		}
		metrics.CasesTotal.WithLabelValues(string(cases.StateCancelled)).Inc()
		out = c.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordLateSignal appends a provider result that arrived after the
// dispatch window closed. The result is stored as a higher attempt for
// audit purposes; a finalized case's risk assessment is not reopened.
func (e *Engine) RecordLateSignal(ctx context.Context, caseID string, res signal.Result) {
	err := e.locks.Do(ctx, caseID, func() error {
		c, err := e.store.Get(ctx, caseID)
		if err != nil {
			return err
		}
		if existing, ok := c.Signals[res.Provider]; ok && res.Attempt <= existing.Attempt {
			res.Attempt = existing.Attempt + 1
		}
		return e.recordSignal(ctx, c, res)
	})
	if err != nil {
		e.logger.Warn("late signal dropped", "case_id", caseID, "provider", res.Provider, "error", err)
	}
}

// ---- pipeline ----

func (e *Engine) runPipeline(caseID string) {
	ctx := logging.WithCaseID(context.Background(), caseID)
	ctx, span := traces.StartSpan(ctx, "case.pipeline", traces.CaseID(caseID))
	defer span.End()
	logger := e.logger.With("case_id", caseID)

	in, err := e.classify(ctx, caseID)
	if err != nil {
		e.abort(logger, "classify", err)
		return
	}

	selected := e.selectProviders(in.Category)
	span.SetAttributes(traces.IntentCategory(string(in.Category)))

	subjectPhone, err := e.dispatch(ctx, caseID, selected)
	if err != nil {
		e.abort(logger, "dispatch", err)
		return
	}

	dispatchStart := time.Now()
	e.collect(ctx, caseID, subjectPhone, selected)

	if err := e.beginAggregation(ctx, caseID); err != nil {
		e.abort(logger, "aggregating", err)
		return
	}
	metrics.DispatchDuration.Observe(time.Since(dispatchStart).Seconds())

	level, err := e.aggregate(ctx, caseID, in.Confidence, selected)
	if err != nil {
		e.abort(logger, "aggregate", err)
		return
	}

	if err := e.finalize(ctx, caseID, level); err != nil {
		e.abort(logger, "finalize", err)
		return
	}
}

// abort ends a pipeline early. A cancelled case surfaces here as an
// invalid transition; that is an expected outcome, not a failure.
func (e *Engine) abort(logger *slog.Logger, stage string, err error) {
	if errors.Is(err, cases.ErrInvalidTransition) {
		logger.Debug("pipeline stopped", "stage", stage, "reason", err)
		return
	}
	logger.Error("pipeline aborted", "stage", stage, "error", err)
}

func (e *Engine) classify(ctx context.Context, caseID string) (*intent.Intent, error) {
	ctx, span := traces.StartSpan(ctx, "case.classify", traces.CaseID(caseID))
	defer span.End()

	var in *intent.Intent
	err := e.locks.Do(ctx, caseID, func() error {
		c, err := e.store.Get(ctx, caseID)
		if err != nil {
			return err
		}
		in = e.adapter.Classify(ctx, c.RawText)
		metrics.IntentClassifications.WithLabelValues(string(in.Category)).Inc()

		return e.transition(ctx, c, cases.StateClassified, audit.TransitionPayload{Intent: in})
	})
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (e *Engine) selectProviders(category intent.Category) []string {
	selected := append([]string(nil), e.selection[category]...)
	sort.Strings(selected)
	return selected
}

func (e *Engine) dispatch(ctx context.Context, caseID string, selected []string) (string, error) {
	var subjectPhone string
	err := e.locks.Do(ctx, caseID, func() error {
		c, err := e.store.Get(ctx, caseID)
		if err != nil {
			return err
		}
		subjectPhone = c.SubjectPhone
		return e.transition(ctx, c, cases.StateDispatched, audit.TransitionPayload{})
	})
	return subjectPhone, err
}

// collect fans out one gateway call per selected provider and records
// results until all landed or the dispatch deadline elapsed. Providers
// still pending at the deadline are recorded as TIMED_OUT; their calls
// keep running and late results are stored as higher attempts.
func (e *Engine) collect(ctx context.Context, caseID, subjectPhone string, selected []string) {
	if len(selected) == 0 {
		return
	}

	req := signal.Request{
		SubjectPhone: subjectPhone,
		Context:      map[string]any{caseIDContextKey: caseID},
	}
	results := make(chan signal.Result, len(selected))
	for _, name := range selected {
		go e.invokeOne(ctx, name, req, results)
	}

	pending := make(map[string]bool, len(selected))
	for _, name := range selected {
		pending[name] = true
	}

	timer := time.NewTimer(e.deadline)
	defer timer.Stop()

	for len(pending) > 0 {
		select {
		case res := <-results:
			delete(pending, res.Provider)
			e.recordLocked(ctx, caseID, res)
		case <-timer.C:
			e.expirePending(ctx, caseID, pending, results)
			return
		}
	}
}

func (e *Engine) invokeOne(ctx context.Context, name string, req signal.Request, results chan<- signal.Result) {
	ctx, span := traces.StartSpan(ctx, "provider.invoke", traces.Provider(name))
	defer span.End()

	metrics.AdmissionWaiting.Inc()
	err := e.admission.Acquire(ctx, 1)
	metrics.AdmissionWaiting.Dec()
	if err != nil {
		now := time.Now().UTC()
		results <- signal.Result{
			Provider:    name,
			Status:      signal.StatusFailed,
			Attempt:     1,
			Cause:       "admission cancelled",
			CompletedAt: &now,
		}
		return
	}
	defer e.admission.Release(1)

	results <- e.gateway.Invoke(ctx, name, req, 1)
}

// expirePending records TIMED_OUT for providers the deadline caught, then
// drains their real results in the background as late attempts.
func (e *Engine) expirePending(ctx context.Context, caseID string, pending map[string]bool, results <-chan signal.Result) {
	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now().UTC()
	for _, name := range names {
		e.recordLocked(ctx, caseID, signal.Result{
			Provider:    name,
			Status:      signal.StatusTimedOut,
			Attempt:     1,
			Cause:       "dispatch deadline elapsed",
			CompletedAt: &now,
		})
	}

	go func() {
		for i := 0; i < len(names); i++ {
			res := <-results
			e.RecordLateSignal(context.Background(), caseID, res)
		}
	}()
}

func (e *Engine) recordLocked(ctx context.Context, caseID string, res signal.Result) {
	err := e.locks.Do(ctx, caseID, func() error {
		c, err := e.store.Get(ctx, caseID)
		if err != nil {
			return err
		}
		return e.recordSignal(ctx, c, res)
	})
	if err != nil {
		e.logger.Warn("signal not recorded", "case_id", caseID, "provider", res.Provider, "error", err)
	}
}

// recordSignal appends the audit event and applies the result to the
// case. A result at or below the recorded attempt is dropped before
// anything is appended: every event in the log corresponds to exactly
// one case write. Caller holds the case lock.
func (e *Engine) recordSignal(ctx context.Context, c *cases.Case, res signal.Result) error {
	if existing, ok := c.Signals[res.Provider]; ok && existing.Attempt >= res.Attempt {
		e.logger.Debug("stale signal dropped",
			"case_id", c.ID, "provider", res.Provider, "attempt", res.Attempt)
		return nil
	}
	kind := audit.KindSignalReceived
	if res.Status != signal.StatusSucceeded {
		kind = audit.KindSignalFailed
	}
	ev, err := e.log.Append(ctx, c.ID, kind, res)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuditAppend, err)
	}
	c.ApplySignal(res)
	c.UpdatedAt = ev.Timestamp
	if err := e.store.Update(ctx, c); err != nil {
		return err
	}
	e.publish(ev, c)
	return nil
}

func (e *Engine) beginAggregation(ctx context.Context, caseID string) error {
	return e.locks.Do(ctx, caseID, func() error {
		c, err := e.store.Get(ctx, caseID)
		if err != nil {
			return err
		}
		return e.transition(ctx, c, cases.StateAggregating, audit.TransitionPayload{})
	})
}

func (e *Engine) aggregate(ctx context.Context, caseID string, intentConfidence float64, selected []string) (risk.Level, error) {
	var level risk.Level
	err := e.locks.Do(ctx, caseID, func() error {
		c, err := e.store.Get(ctx, caseID)
		if err != nil {
			return err
		}

		assessment := risk.Aggregate(e.riskCfg, intentConfidence, selected, c.Signals)
		level = assessment.RiskLevel

		ev, err := e.log.Append(ctx, c.ID, audit.KindAggregated, audit.AggregatedPayload{
			Assessment: assessment,
			Selected:   selected,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAuditAppend, err)
		}
		if err := c.SetAssessment(assessment.RiskScore, assessment.RiskLevel); err != nil {
			return err
		}
		c.UpdatedAt = ev.Timestamp
		if err := e.store.Update(ctx, c); err != nil {
			return err
		}
		metrics.CaseRiskLevels.WithLabelValues(string(assessment.RiskLevel)).Inc()
		e.publish(ev, c)
		return nil
	})
	return level, err
}

func (e *Engine) finalize(ctx context.Context, caseID string, level risk.Level) error {
	to := cases.StateResolved
	if level == risk.LevelHigh || level == risk.LevelCritical {
		to = cases.StateEscalated
	}
	return e.locks.Do(ctx, caseID, func() error {
		c, err := e.store.Get(ctx, caseID)
		if err != nil {
			return err
		}
		if err := e.transition(ctx, c, to, audit.TransitionPayload{}); err != nil {
			return err
		}
		metrics.CasesTotal.WithLabelValues(string(to)).Inc()
		return nil
	})
}

// transition applies a guarded transition with log-then-apply ordering:
// the audit event persists before the case row changes. Caller holds the
// case lock.
func (e *Engine) transition(ctx context.Context, c *cases.Case, to cases.State, payload audit.TransitionPayload) error {
	if !c.State.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", cases.ErrInvalidTransition, c.State, to)
	}
	payload.From = c.State
	payload.To = to

	ev, err := e.log.Append(ctx, c.ID, audit.KindStateTransition, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuditAppend, err)
	}
	if err := c.TransitionTo(to); err != nil {
		return err
	}
	c.UpdatedAt = ev.Timestamp
	if payload.Intent != nil {
		c.Intent = payload.Intent
	}
	if err := e.store.Update(ctx, c); err != nil {
		return err
	}
	e.publish(ev, c)
	return nil
}

func (e *Engine) publish(ev *audit.Event, c *cases.Case) {
	if e.notifier == nil {
		return
	}
	e.notifier.Publish(ev, c.Clone())
}
