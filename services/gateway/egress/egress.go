// Package egress wraps ratelimit.Engine around outbound HTTP calls,
// per spec.md §4.8. It implements http.RoundTripper so it can wrap any
// *http.Client's Transport, generalizing the outbound-call shape of
// the teacher's handler.ProxyHandler.handleNonStreamingChat (call
// upstream, inspect status, propagate headers) into something
// reusable across any egress call the service makes.
package egress

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardenhq/throttlegate/services/gateway/ingress"
	"github.com/wardenhq/throttlegate/services/gateway/ratelimit"
)

// ResponseBuilder is called after every attempt (local rejection or a
// 429 response from upstream). Setting ShouldRetry on the passed
// *RetryDecision causes the Adapter to sleep RetryAfter and try again;
// retryCount reports how many retries have already been made (0 after
// the first attempt).
type ResponseBuilder func(ctx context.Context, result *ratelimit.LimitExceededResult, resp *http.Response, retryCount int, decision *RetryDecision)

// RetryDecision carries the ResponseBuilder's decision back to the
// Adapter. There is no built-in upper bound on retries (spec.md
// §4.8.1); bounding is the builder's responsibility.
type RetryDecision struct {
	ShouldRetry bool
}

// Adapter is an http.RoundTripper that enforces a ratelimit.Engine
// before every outbound call.
type Adapter struct {
	engine           *ratelimit.Engine
	next             http.RoundTripper
	logger           zerolog.Logger
	propagateIngress bool
	builder          ResponseBuilder
}

// New wraps next (http.DefaultTransport if nil) with rate limiting.
// If propagateToIngress is true, a local rejection or an upstream 429
// raises a ratelimit.Propagated signal into the ingress request this
// call is part of (spec.md §4.8 step 2, P8).
func New(engine *ratelimit.Engine, next http.RoundTripper, logger zerolog.Logger, propagateToIngress bool) *Adapter {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Adapter{
		engine:           engine,
		next:             next,
		logger:           logger.With().Str("component", "egress").Logger(),
		propagateIngress: propagateToIngress,
	}
}

// WithResponseBuilder installs a custom retry-decision builder.
func (a *Adapter) WithResponseBuilder(b ResponseBuilder) *Adapter {
	a.builder = b
	return a
}

// RoundTrip implements http.RoundTripper, running spec.md §4.8's
// evaluate → issue-or-reject → optional-retry → optional-propagate
// protocol.
func (a *Adapter) RoundTrip(req *http.Request) (*http.Response, error) {
	attemptID := uuid.NewString()
	retryCount := 0

	for {
		fp := ratelimit.NewFingerprint(req)
		result, cleanups := a.engine.Evaluate(req.Context(), fp)

		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		runCleanups := func() {
			a.engine.RunCleanups(cleanupCtx, cleanups)
			cancel()
		}

		if result != nil {
			runCleanups()
			a.logger.Warn().
				Str("attempt", attemptID).
				Int("retry_count", retryCount).
				Dur("retry_after", result.RetryAfter).
				Msg("egress call rejected locally")

			decision := a.decide(req.Context(), result, nil, retryCount)
			if decision.ShouldRetry {
				if !sleep(req.Context(), result.RetryAfter) {
					return nil, req.Context().Err()
				}
				retryCount++
				continue
			}
			if !a.propagateIngress {
				return nil, fmt.Errorf("egress: call rejected by local rate limit, retry after %s", result.RetryAfter)
			}
			a.propagate(req, result.RetryAfter)
			return nil, &ratelimit.Propagated{RetryAfter: result.RetryAfter}
		}

		resp, err := a.next.RoundTrip(req)
		runCleanups()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		upstreamResult := &ratelimit.LimitExceededResult{RetryAfter: retryAfter}

		decision := a.decide(req.Context(), upstreamResult, resp, retryCount)
		if decision.ShouldRetry {
			if !sleep(req.Context(), retryAfter) {
				return resp, nil
			}
			retryCount++
			continue
		}

		a.propagate(req, retryAfter)
		return resp, nil
	}
}

func (a *Adapter) decide(ctx context.Context, result *ratelimit.LimitExceededResult, resp *http.Response, retryCount int) RetryDecision {
	if a.builder == nil {
		return RetryDecision{}
	}
	d := &RetryDecision{}
	a.builder(ctx, result, resp, retryCount, d)
	return *d
}

func (a *Adapter) propagate(req *http.Request, retryAfter time.Duration) {
	if !a.propagateIngress {
		return
	}
	ingress.ContextWithPropagation(req.Context(), &ratelimit.Propagated{RetryAfter: retryAfter})
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := time.ParseDuration(header + "s"); err == nil {
		return secs
	}
	return time.Second
}
