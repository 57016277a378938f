package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/circuitbreaker"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/metrics"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/retry"
)

const (
	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 2 * time.Second
	// DefaultRetryBackoff is the pause before retrying a transient failure.
	DefaultRetryBackoff = 200 * time.Millisecond
)

var errCallTimedOut = errors.New("signal: provider call timed out")

// Gateway invokes providers with a per-call timeout, retries transient
// failures once, and normalizes every outcome into a Result. It is
// stateless per call and safe for concurrent use across cases.
type Gateway struct {
	providers    map[string]Provider
	timeout      time.Duration
	retryBackoff time.Duration
	breaker      *circuitbreaker.Breaker
	onLate       func(Request, Result)
	logger       *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithRetryBackoff sets the backoff before the single transient retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(g *Gateway) { g.retryBackoff = d }
}

// WithBreaker short-circuits calls to providers that keep failing.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(g *Gateway) { g.breaker = b }
}

// WithLateResultHook receives verdicts that arrive after the per-call
// timeout already produced a TIMED_OUT result, along with the request
// that produced them. The hook runs on the call's goroutine and must not
// block.
func WithLateResultHook(fn func(Request, Result)) Option {
	return func(g *Gateway) { g.onLate = fn }
}

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway builds a gateway over the given providers.
func NewGateway(providers []Provider, opts ...Option) *Gateway {
	g := &Gateway{
		providers:    make(map[string]Provider, len(providers)),
		timeout:      DefaultTimeout,
		retryBackoff: DefaultRetryBackoff,
		logger:       slog.Default(),
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Providers returns the names of all registered providers in registration order.
func (g *Gateway) Providers() []string {
	names := make([]string, 0, len(g.providers))
	for _, n := range AllProviders() {
		if _, ok := g.providers[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

// Invoke calls one provider and always returns a terminal Result; it never
// returns an error. Timeouts yield TIMED_OUT, every other failure yields
// FAILED with a structured cause. attempt is stamped into the Result so
// callers can distinguish retries across dispatch windows.
func (g *Gateway) Invoke(ctx context.Context, name string, req Request, attempt int) Result {
	provider, ok := g.providers[name]
	if !ok {
		return g.failed(name, attempt, fmt.Sprintf("unknown provider %q", name))
	}

	if g.breaker != nil && !g.breaker.Allow(name) {
		metrics.ProviderCallsTotal.WithLabelValues(name, "circuit_open").Inc()
		return g.failed(name, attempt, "circuit open")
	}

	start := time.Now()
	var verdict *Verdict
	var timedOut bool

	err := retry.Do(ctx, 2, g.retryBackoff, func() error {
		v, callErr := g.callOnce(ctx, provider, req, attempt)
		if callErr != nil {
			if errors.Is(callErr, errCallTimedOut) {
				timedOut = true
				return retry.Permanent(callErr)
			}
			var pe *ProviderError
			if errors.As(callErr, &pe) && pe.Transient() {
				return callErr
			}
			return retry.Permanent(callErr)
		}
		verdict = v
		return nil
	})

	metrics.ProviderCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		if g.breaker != nil {
			g.breaker.Observe(name, true)
		}
		metrics.ProviderCallsTotal.WithLabelValues(name, string(StatusSucceeded)).Inc()
		return g.succeeded(name, attempt, verdict)
	case timedOut:
		if g.breaker != nil {
			g.breaker.Observe(name, false)
		}
		metrics.ProviderCallsTotal.WithLabelValues(name, string(StatusTimedOut)).Inc()
		now := time.Now().UTC()
		return Result{
			Provider:    name,
			Status:      StatusTimedOut,
			Attempt:     attempt,
			Cause:       string(FailureTimeout),
			CompletedAt: &now,
		}
	default:
		if g.breaker != nil {
			g.breaker.Observe(name, false)
		}
		metrics.ProviderCallsTotal.WithLabelValues(name, string(StatusFailed)).Inc()
		g.logger.Warn("provider call failed", "provider", name, "attempt", attempt, "error", err)
		return g.failed(name, attempt, causeOf(err))
	}
}

// callOnce runs one provider call under the per-call timeout. The call is
// not cancelled when the timeout fires: the current goroutine returns
// errCallTimedOut while the call keeps running under a 10x grace cap, and
// a watcher delivers the eventual verdict, if any, to the late-result
// hook.
func (g *Gateway) callOnce(ctx context.Context, p Provider, req Request, attempt int) (*Verdict, error) {
	type outcome struct {
		v   *Verdict
		err error
	}
	ch := make(chan outcome, 1)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*g.timeout)
	go func() {
		defer cancel()
		v, err := p.Check(callCtx, req)
		ch <- outcome{v, err}
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, o.err
		}
		return o.v, validateVerdict(o.v)
	case <-timer.C:
		if g.onLate != nil {
			go func() {
				o := <-ch
				if o.err != nil || validateVerdict(o.v) != nil {
					return
				}
				metrics.LateSignalsTotal.WithLabelValues(p.Name()).Inc()
				g.onLate(req, g.succeeded(p.Name(), attempt+1, o.v))
			}()
		}
		return nil, errCallTimedOut
	}
}

func (g *Gateway) succeeded(name string, attempt int, v *Verdict) Result {
	now := time.Now().UTC()
	return Result{
		Provider:    name,
		Status:      StatusSucceeded,
		Confidence:  v.Confidence,
		Severity:    v.Severity,
		Evidence:    v.Evidence,
		Attempt:     attempt,
		CompletedAt: &now,
	}
}

func (g *Gateway) failed(name string, attempt int, cause string) Result {
	now := time.Now().UTC()
	return Result{
		Provider:    name,
		Status:      StatusFailed,
		Attempt:     attempt,
		Cause:       cause,
		CompletedAt: &now,
	}
}

func validateVerdict(v *Verdict) error {
	if v == nil {
		return MalformedResponse(errors.New("nil verdict"))
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return MalformedResponse(fmt.Errorf("confidence %.3f out of range", v.Confidence))
	}
	if v.Severity < 0 || v.Severity > 1 {
		return MalformedResponse(fmt.Errorf("severity %.3f out of range", v.Severity))
	}
	return nil
}

func causeOf(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Code != "" {
			return fmt.Sprintf("%s(%s)", pe.Kind, pe.Code)
		}
		return string(pe.Kind)
	}
	return err.Error()
}
