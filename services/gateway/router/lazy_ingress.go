package router

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/wardenhq/throttlegate/services/gateway/ingress"
)

// LazyIngress defers building the ingress.Adapter — and the
// ratelimit.Engine it wraps — until the first request actually
// arrives, per spec.md §5/§9: "construct exactly one Engine the first
// time a request arrives, using services only then available." The
// fast path reads an atomic.Pointer without ever taking mu; only the
// goroutines that find it nil (the first requests) pay for the lock, and the
// second check under that lock is what keeps two concurrent first
// requests from racing each other into building two Engines.
type LazyIngress struct {
	mu    sync.Mutex
	ptr   atomic.Pointer[ingress.Adapter]
	build func() *ingress.Adapter
}

// NewLazyIngress wraps build, which constructs the Adapter using
// whatever services (ConfigLoader, CounterStore, metrics) are
// available at the time it is finally called.
func NewLazyIngress(build func() *ingress.Adapter) *LazyIngress {
	return &LazyIngress{build: build}
}

func (l *LazyIngress) adapter() *ingress.Adapter {
	if a := l.ptr.Load(); a != nil {
		return a
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if a := l.ptr.Load(); a != nil {
		return a
	}
	a := l.build()
	l.ptr.Store(a)
	return a
}

// Middleware resolves the (lazily built) Adapter's own Middleware on
// every call, so the first inbound request is the one paying the
// one-time construction cost.
func (l *LazyIngress) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.adapter().Middleware(next).ServeHTTP(w, r)
	})
}

// Stop releases the underlying Engine's resources, if a request ever
// triggered construction. A process that shuts down having never
// received one has nothing to release.
func (l *LazyIngress) Stop() {
	if a := l.ptr.Load(); a != nil {
		a.Stop()
	}
}
