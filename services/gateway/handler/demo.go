// Package handler holds the gateway's HTTP handlers. DemoHandler is the
// minimal downstream/upstream pair the router wires up so ingress.Adapter
// and egress.Adapter both see real traffic: it is not a product
// handler, just enough surface to exercise the rate-limit engine.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/wardenhq/throttlegate/services/gateway/ratelimit"
)

// DemoHandler serves the requests admitted by ingress.Adapter and
// issues the outbound call egress.Adapter wraps.
type DemoHandler struct {
	logger   zerolog.Logger
	upstream *http.Client
}

// NewDemoHandler builds a DemoHandler. upstream is an *http.Client
// whose Transport has already been wrapped by egress.New, so any call
// it makes is itself rate limited.
func NewDemoHandler(logger zerolog.Logger, upstream *http.Client) *DemoHandler {
	return &DemoHandler{
		logger:   logger.With().Str("component", "demo-handler").Logger(),
		upstream: upstream,
	}
}

// Echo reports the request as admitted. It is the handler wrapped by
// ingress.Adapter.Middleware in the router.
func (h *DemoHandler) Echo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "admitted",
		"path":   r.URL.Path,
	})
}

// Proxy issues an outbound GET to the URL named by the "to" query
// parameter through h.upstream, surfacing whatever
// egress.Adapter / ratelimit.Propagated does with it (spec.md §8
// scenario 6: an egress rejection propagating back into this ingress
// response).
func (h *DemoHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("to")
	if target == "" {
		http.Error(w, `{"error":"missing 'to' query parameter"}`, http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		http.Error(w, `{"error":"invalid target"}`, http.StatusBadRequest)
		return
	}

	resp, err := h.upstream.Do(req)
	if err != nil {
		if p := ratelimit.Flatten(err); p != nil {
			// The egress call was rejected and, since PropagateToIngress
			// was configured, has already stashed the signal into this
			// request's context; ingress.Adapter will pick it up once
			// this handler returns. Nothing further to write here.
			h.logger.Warn().Dur("retry_after", p.RetryAfter).Msg("egress call propagated to ingress")
			return
		}
		http.Error(w, `{"error":"upstream call failed"}`, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_ = json.NewEncoder(w).Encode(map[string]int{"upstream_status": resp.StatusCode})
}
