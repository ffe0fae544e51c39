package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardenhq/throttlegate/services/gateway/observability"
)

// LimitExceededResult is the non-error outcome of evaluating a request
// against an exceeded rule: how long the caller should wait before
// retrying.
type LimitExceededResult struct {
	RuleIndex  int
	Algorithm  Algorithm
	RetryAfter time.Duration
}

// Engine evaluates requests against a ConfigLoader's current Config,
// enforcing counters in a CounterStore. One Engine is normally shared
// across every request a host handles; it holds no per-request state.
type Engine struct {
	loader  *ConfigLoader
	store   CounterStore
	logger  zerolog.Logger
	clock   func() time.Time
	metrics *observability.Metrics
}

// NewEngine builds an Engine over the given ConfigLoader and
// CounterStore, reporting every admission/rejection/store-error/delay
// decision into metrics. metrics must not be nil; callers that don't
// want to export anything can still pass observability.NewMetrics() —
// an unscraped registry costs nothing at runtime.
func NewEngine(loader *ConfigLoader, store CounterStore, logger zerolog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		loader:  loader,
		store:   store,
		logger:  logger.With().Str("component", "ratelimit.engine").Logger(),
		clock:   time.Now,
		metrics: metrics,
	}
}

// Evaluate runs the rule-evaluation protocol of spec.md §4.4 once,
// without the wait loop: snapshot config, skip if whitelisted,
// evaluate every matching rule (accumulating cleanups and counting
// against ALL matching rules even once one is exceeded, for
// shared-budget fairness), and return the exceeded result with the
// largest RetryAfter, if any.
//
// The caller is responsible for invoking every Cleanup in the returned
// slice, exactly once, regardless of outcome (spec.md §3 "Cleanup
// routine", P4).
func (e *Engine) Evaluate(ctx context.Context, fp Fingerprint) (*LimitExceededResult, []Cleanup) {
	cfg := e.loader.Snapshot()

	if cfg.whitelisted(fp) {
		return nil, nil
	}

	var (
		cleanups []Cleanup
		worst    *LimitExceededResult
	)

	for _, rule := range cfg.Rules {
		if !rule.Match(fp) {
			continue
		}

		key := rule.key(cfg.UniqueName, rule.identityFor(fp))
		now := e.clock()

		ruleLabel := strconv.Itoa(rule.index)

		decision, err := rule.Method.isExceeded(ctx, key, e.store, now)
		if err != nil {
			// Fail-open: a store error means this rule is treated as
			// not exceeded, not as a rejection (spec.md §4.1, §4.4, P7).
			e.logger.Warn().Err(err).Int("rule", rule.index).Msg("counter store error — failing open for this rule")
			e.metrics.StoreErrors.WithLabelValues(ruleLabel).Inc()
			continue
		}

		if decision.Cleanup != nil {
			cleanups = append(cleanups, decision.Cleanup)
		}

		algoLabel := string(rule.Method.Algorithm())
		if decision.Exceeded {
			e.metrics.Rejected.WithLabelValues(ruleLabel, algoLabel).Inc()
			result := &LimitExceededResult{
				RuleIndex:  rule.index,
				Algorithm:  rule.Method.Algorithm(),
				RetryAfter: decision.RetryAfter,
			}
			if worst == nil || result.RetryAfter > worst.RetryAfter {
				worst = result
			}
		} else {
			e.metrics.Admitted.WithLabelValues(ruleLabel, algoLabel).Inc()
		}
	}

	return worst, cleanups
}

// RunCleanups invokes every cleanup concurrently and waits for all of
// them to finish before returning, per spec.md §4.4 step 5 / §9's
// "cleanups run concurrently, all awaited" note. ctx should carry a
// fresh deadline rather than the (possibly already-cancelled) request
// context, so a cancelled request still gets its slots released.
func (e *Engine) RunCleanups(ctx context.Context, cleanups []Cleanup) {
	if len(cleanups) == 0 {
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(cleanups))
	for _, c := range cleanups {
		c := c
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error().Interface("panic", r).Msg("cleanup panicked — swallowed")
				}
			}()
			c(ctx)
		}()
	}
	wg.Wait()
}

// EvaluateWithWait runs Evaluate, and if the worst exceeded rule has a
// positive MaxDelaySec, enters the wait loop of spec.md §4.6: sleep in
// steps no larger than 1 second, re-evaluate (discarding the previous
// attempt's cleanups — for Semaphore, those are exactly the
// decrement-on-reject cleanups), until either admitted or the overall
// deadline passes. Cancellation of ctx aborts the wait loop
// immediately; the caller still receives whatever cleanups were
// registered by the last attempt.
func (e *Engine) EvaluateWithWait(ctx context.Context, fp Fingerprint) (*LimitExceededResult, []Cleanup) {
	result, cleanups := e.Evaluate(ctx, fp)
	if result == nil {
		return nil, cleanups
	}

	maxDelaySec := e.maxDelayFor(fp, result.RuleIndex)
	if maxDelaySec <= 0 {
		return result, cleanups
	}

	ruleLabel := strconv.Itoa(result.RuleIndex)
	e.metrics.Delayed.WithLabelValues(ruleLabel, string(result.Algorithm)).Inc()
	started := e.clock()
	defer func() {
		e.metrics.DelaySeconds.WithLabelValues(ruleLabel).Observe(e.clock().Sub(started).Seconds())
	}()

	deadline := started.Add(time.Duration(maxDelaySec) * time.Second)

	for {
		step := result.RetryAfter
		if step > time.Second {
			step = time.Second
		}

		select {
		case <-ctx.Done():
			return result, cleanups
		case <-time.After(step):
		}

		if !e.clock().Before(deadline) {
			return result, cleanups
		}

		// Run the previous attempt's cleanups before re-evaluating: a
		// failed Semaphore attempt's cleanup is the decrement-on-reject
		// compensation for its over-increment. Each runs exactly once,
		// here; the re-evaluation below registers its own fresh set.
		e.RunCleanups(ctx, cleanups)

		result, cleanups = e.Evaluate(ctx, fp)
		if result == nil {
			return nil, cleanups
		}
	}
}

// maxDelayFor looks up the MaxDelaySec of the rule that produced
// result, re-snapshotting the config (a rule's MaxDelaySec does not
// change within one Evaluate call, but the wait loop re-snapshots on
// every attempt, matching how Evaluate itself always reads the latest
// snapshot per spec.md §5's "a request... completes on v1" note applying
// only within a single Evaluate call, not across the whole wait loop).
func (e *Engine) maxDelayFor(fp Fingerprint, ruleIndex int) int {
	cfg := e.loader.Snapshot()
	for _, rule := range cfg.Rules {
		if rule.index == ruleIndex && rule.Match(fp) {
			return rule.MaxDelaySec
		}
	}
	return 0
}

// Stop releases the Engine's ConfigLoader resources (its background
// refresh goroutine, if any).
func (e *Engine) Stop() {
	e.loader.Stop()
}
