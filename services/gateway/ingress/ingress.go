// Package ingress wraps ratelimit.Engine as HTTP middleware for
// inbound requests, per spec.md §4.7. It follows the same
// func(http.Handler) http.Handler shape as every teacher middleware
// (middleware.RateLimiter.Handler, middleware.ConcurrencyGuard.
// Middleware, ...), so it composes with chi's r.Use(...) without a
// chi-specific adapter type.
package ingress

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardenhq/throttlegate/services/gateway/ratelimit"
)

// ResponseBuilder lets a caller fully control the 429 response, per
// spec.md §6's response-builder contract. Setting ShouldContinueAsNormal
// on the passed *Outcome tells the adapter to invoke the downstream
// handler after Build returns, as if the request had been admitted.
type ResponseBuilder func(ctx context.Context, result *ratelimit.LimitExceededResult, r *http.Request, w http.ResponseWriter, outcome *Outcome)

// Outcome carries the ResponseBuilder's decision back to the adapter.
type Outcome struct {
	ShouldContinueAsNormal bool
}

// Adapter wraps a ratelimit.Engine as ingress middleware.
type Adapter struct {
	engine   *ratelimit.Engine
	logger   zerolog.Logger
	cleanupT time.Duration
	builder  ResponseBuilder
}

// New builds an Adapter. cleanupTimeout bounds how long cleanups are
// given to finish after the ambient request context is already gone
// (e.g. client disconnect); it defaults to 5s when <= 0.
func New(engine *ratelimit.Engine, logger zerolog.Logger, cleanupTimeout time.Duration) *Adapter {
	if cleanupTimeout <= 0 {
		cleanupTimeout = 5 * time.Second
	}
	return &Adapter{
		engine:   engine,
		logger:   logger.With().Str("component", "ingress").Logger(),
		cleanupT: cleanupTimeout,
	}
}

// WithResponseBuilder installs a custom 429 response builder.
func (a *Adapter) WithResponseBuilder(b ResponseBuilder) *Adapter {
	a.builder = b
	return a
}

// Stop releases the Adapter's underlying Engine resources (its
// ConfigLoader's background refresh goroutine, if any).
func (a *Adapter) Stop() {
	a.engine.Stop()
}

// Middleware returns the http.Handler wrapper implementing spec.md
// §4.7 steps 1-5.
func (a *Adapter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fp := ratelimit.NewFingerprint(r)

		result, cleanups := a.engine.EvaluateWithWait(r.Context(), fp)

		defer func() {
			// Cleanups get a fresh, short-lived context: the request's
			// own context may already be cancelled (client gone), but
			// Semaphore slots must still be released (spec.md §5).
			cleanupCtx, cancel := context.WithTimeout(context.Background(), a.cleanupT)
			defer cancel()
			a.engine.RunCleanups(cleanupCtx, cleanups)
		}()

		if result == nil {
			a.serveDownstreamCatchingPropagation(w, r, next)
			return
		}

		if a.builder != nil {
			outcome := &Outcome{}
			a.builder(r.Context(), result, r, w, outcome)
			if outcome.ShouldContinueAsNormal {
				a.serveDownstreamCatchingPropagation(w, r, next)
			}
			return
		}

		writeDefaultRejection(w, result)
	})
}

// serveDownstreamCatchingPropagation invokes next, and if the
// downstream call reports a ratelimit.Propagated signal raised by an
// egress.Adapter further down
// the call chain, converts it into the same 429 response a locally
// exceeded rule would have produced — spec.md §4.7 step 2 / §4.8 / P8.
//
// The propagation channel in this codebase is carried via context
// (see egress.Adapter), not a panic/recover, since Go HTTP handlers
// have no return-value channel for "the downstream call hit a
// rate limit upstream" other than what they write to w themselves;
// egress.Adapter stores the signal on a pointer threaded through the
// request context, and ingress checks it after next.ServeHTTP returns.
func (a *Adapter) serveDownstreamCatchingPropagation(w http.ResponseWriter, r *http.Request, next http.Handler) {
	holder := &propagationHolder{}
	ctx := context.WithValue(r.Context(), propagationHolderKey{}, holder)
	next.ServeHTTP(w, r.WithContext(ctx))

	if holder.err == nil {
		return
	}
	p := ratelimit.Flatten(holder.err)
	if p == nil {
		return
	}
	synthesized := &ratelimit.LimitExceededResult{RetryAfter: p.RetryAfter}
	writeDefaultRejection(w, synthesized)
}

func writeDefaultRejection(w http.ResponseWriter, result *ratelimit.LimitExceededResult) {
	seconds := int(result.RetryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, "Retry after %d seconds", seconds)
}

type propagationHolderKey struct{}

type propagationHolder struct {
	err error
}

// ContextWithPropagation is used by egress.Adapter to report a
// propagation signal into the ingress request's context, if one is
// present. It is a no-op when ctx was not produced by an
// ingress.Adapter (e.g. a background job making an egress call outside
// any inbound request).
func ContextWithPropagation(ctx context.Context, err error) {
	if holder, ok := ctx.Value(propagationHolderKey{}).(*propagationHolder); ok {
		holder.err = err
	}
}
