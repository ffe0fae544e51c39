package ratelimit

import (
	"errors"
	"time"
)

// Propagated is the egress→ingress control-flow signal of spec.md
// §4.8/§6/§9: when an egress call is itself rate-limited (locally, or
// by the upstream responding 429) and PropagateToIngress is set, the
// EgressAdapter raises this error. It is caught by the IngressAdapter
// wrapping the same logical request and turned into a synthesized
// LimitExceededResult.
//
// Propagated must survive being wrapped inside an aggregate/composite
// error — Flatten below walks errors.Join trees (and anything
// implementing Unwrap() []error or Unwrap() error) looking for one.
type Propagated struct {
	RetryAfter time.Duration
}

func (p *Propagated) Error() string {
	return "ratelimit: propagated 429, retry after " + p.RetryAfter.String()
}

// Flatten walks err looking for a *Propagated, including inside
// errors.Join aggregates and single-wrapped chains. Returns nil if
// none is found.
func Flatten(err error) *Propagated {
	if err == nil {
		return nil
	}
	var p *Propagated
	if errors.As(err, &p) {
		return p
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if p := Flatten(e); p != nil {
				return p
			}
		}
	}
	return nil
}
