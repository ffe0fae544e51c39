package router

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wardenhq/throttlegate/services/gateway/ingress"
	"github.com/wardenhq/throttlegate/services/gateway/observability"
	"github.com/wardenhq/throttlegate/services/gateway/ratelimit"
	"github.com/wardenhq/throttlegate/services/gateway/ratelimit/store/memorystore"
)

func TestLazyIngressBuildsExactlyOnceUnderConcurrentFirstRequests(t *testing.T) {
	log := zerolog.New(io.Discard)

	var builds int32
	build := func() *ingress.Adapter {
		atomic.AddInt32(&builds, 1)
		producer := func(ctx context.Context) (ratelimit.Config, error) {
			return ratelimit.NewConfig("test", nil, nil)
		}
		loader := ratelimit.NewConfigLoader(context.Background(), log, producer, 0)
		t.Cleanup(loader.Stop)
		engine := ratelimit.NewEngine(loader, memorystore.New(), log, observability.NewMetrics())
		return ingress.New(engine, log, 0)
	}

	lazy := NewLazyIngress(build)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mw := lazy.Middleware(next)

	const concurrency = 32
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			rw := httptest.NewRecorder()
			mw.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("expected the Adapter to be built exactly once, got %d builds", got)
	}
}

func TestLazyIngressNeverBuildsWithoutARequest(t *testing.T) {
	var built bool
	lazy := NewLazyIngress(func() *ingress.Adapter {
		built = true
		return nil
	})
	lazy.Stop()
	if built {
		t.Fatal("expected Stop on an untouched LazyIngress not to trigger construction")
	}
}
