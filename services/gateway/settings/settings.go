// Package settings decodes the JSON configuration schema of spec.md
// §6 (top-level Ingress/Egress sections, each with Rules/WhiteList/
// UniqueName, Egress additionally carrying PropagateToIngress) into
// ratelimit.Config values. It is the spec's "JSON/settings loader"
// external collaborator — the core ratelimit package never parses
// configuration itself.
package settings

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/wardenhq/throttlegate/services/gateway/ratelimit"
)

// Document is the top-level JSON shape: {"Ingress": {...}, "Egress": {...}}.
type Document struct {
	Ingress Section `json:"Ingress"`
	Egress  Section `json:"Egress"`
}

// Section is one of Ingress or Egress.
type Section struct {
	Rules              []RuleSpec      `json:"Rules"`
	WhiteList          []PredicateSpec `json:"WhiteList"`
	UniqueName         string          `json:"UniqueName"`
	PropagateToIngress bool            `json:"PropagateToIngress"`
}

// PredicateSpec is the match-only portion shared by rules and
// whitelist entries.
type PredicateSpec struct {
	UriPattern  string `json:"UriPattern,omitempty"`
	Method      string `json:"Method,omitempty"`
	HeaderName  string `json:"HeaderName,omitempty"`
	HeaderValue string `json:"HeaderValue,omitempty"`
	IdentityId  string `json:"IdentityId,omitempty"`
}

// RuleSpec is PredicateSpec plus the algorithm and delay options.
type RuleSpec struct {
	PredicateSpec
	RateLimit         RateLimitSpec `json:"RateLimit"`
	MaxDelayInSeconds int           `json:"MaxDelayInSeconds,omitempty"`
}

// RateLimitSpec mirrors spec.md §6's {Algorithm, PermitLimit,
// IntervalInSeconds?, NumOfBuckets?, TimeoutInSeconds?}.
type RateLimitSpec struct {
	Algorithm         string `json:"Algorithm"`
	PermitLimit       int    `json:"PermitLimit"`
	IntervalInSeconds int    `json:"IntervalInSeconds,omitempty"`
	NumOfBuckets      int    `json:"NumOfBuckets,omitempty"`
	TimeoutInSeconds  int    `json:"TimeoutInSeconds,omitempty"`
}

// IdentityExtractors resolves a rule's configured IdentityId into a
// live ratelimit.IdentityExtractor by name. Callers register the
// extractors their deployment supports (e.g. identity.QueryParam("api-key"))
// keyed by whatever convention they choose; this loader does not
// invent one, since identity derivation is a Non-goal of the core.
type IdentityExtractors map[string]ratelimit.IdentityExtractor

// Decode parses r into a Document.
func Decode(r io.Reader) (Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("settings: decode: %w", err)
	}
	return doc, nil
}

// BuildConfig converts a Section into a ratelimit.Config. extractors
// maps an IdentityId value to the IdentityExtractor that should be
// used for rules naming it; a rule with IdentityId set but no matching
// entry is an error, matching spec.md §3's invariant that an
// identity-id rule must have an extractor.
func BuildConfig(s Section, extractors IdentityExtractors) (ratelimit.Config, error) {
	rules := make([]ratelimit.Rule, 0, len(s.Rules))
	for i, rs := range s.Rules {
		rule, err := buildRule(rs, extractors)
		if err != nil {
			return ratelimit.Config{}, fmt.Errorf("settings: rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}

	whitelist := make([]ratelimit.Rule, 0, len(s.WhiteList))
	for i, ps := range s.WhiteList {
		// Whitelist entries ignore RateLimit (spec.md §3); a
		// placeholder method fills the Rule's Method field, which
		// Config.whitelisted never consults.
		method, _ := ratelimit.NewFixedWindow(1, 1)
		extractor, err := extractorFor(ps.IdentityId, extractors)
		if err != nil {
			return ratelimit.Config{}, fmt.Errorf("settings: whitelist entry %d: %w", i, err)
		}
		rule, err := ratelimit.NewRule(predicateFrom(ps), method, extractor, 0)
		if err != nil {
			return ratelimit.Config{}, fmt.Errorf("settings: whitelist entry %d: %w", i, err)
		}
		whitelist = append(whitelist, rule)
	}

	return ratelimit.NewConfig(s.UniqueName, rules, whitelist)
}

func buildRule(rs RuleSpec, extractors IdentityExtractors) (ratelimit.Rule, error) {
	method, err := buildMethod(rs.RateLimit)
	if err != nil {
		return ratelimit.Rule{}, err
	}
	extractor, err := extractorFor(rs.IdentityId, extractors)
	if err != nil {
		return ratelimit.Rule{}, err
	}
	return ratelimit.NewRule(predicateFrom(rs.PredicateSpec), method, extractor, rs.MaxDelayInSeconds)
}

func extractorFor(identityID string, extractors IdentityExtractors) (ratelimit.IdentityExtractor, error) {
	if identityID == "" {
		return nil, nil
	}
	extractor, ok := extractors[identityID]
	if !ok {
		return nil, fmt.Errorf("no identity extractor registered for IdentityId %q", identityID)
	}
	return extractor, nil
}

func predicateFrom(ps PredicateSpec) ratelimit.Predicate {
	p := ratelimit.Predicate{
		URIPattern:  ps.UriPattern,
		HeaderName:  ps.HeaderName,
		HeaderValue: ps.HeaderValue,
		IdentityID:  ps.IdentityId,
	}
	if ps.Method != "" {
		p.Methods = []string{ps.Method}
	}
	return p
}

func buildMethod(spec RateLimitSpec) (ratelimit.RateLimitMethod, error) {
	switch spec.Algorithm {
	case "FixedWindow":
		return ratelimit.NewFixedWindow(spec.PermitLimit, spec.IntervalInSeconds)
	case "SlidingWindow":
		return ratelimit.NewSlidingWindow(spec.PermitLimit, spec.IntervalInSeconds, spec.NumOfBuckets)
	case "Semaphore":
		return ratelimit.NewSemaphore(spec.PermitLimit, spec.TimeoutInSeconds)
	default:
		return ratelimit.RateLimitMethod{}, fmt.Errorf("settings: unknown Algorithm %q", spec.Algorithm)
	}
}
