package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func mustFixedWindow(t *testing.T, permit, intervalSec int) RateLimitMethod {
	t.Helper()
	m, err := NewFixedWindow(permit, intervalSec)
	if err != nil {
		t.Fatalf("NewFixedWindow: %v", err)
	}
	return m
}

func TestRuleMatchesURIMethodAndHeader(t *testing.T) {
	p := Predicate{
		URIPattern:  "^/v1/chat",
		Methods:     []string{"POST"},
		HeaderName:  "X-Org",
		HeaderValue: "acme",
	}
	rule, err := NewRule(p, mustFixedWindow(t, 1, 60), nil, 0)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("X-Org", "acme")
	if !rule.Match(NewFingerprint(req)) {
		t.Fatal("expected rule to match")
	}

	wrongOrg := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	wrongOrg.Header.Set("X-Org", "other")
	if rule.Match(NewFingerprint(wrongOrg)) {
		t.Fatal("expected rule not to match a different header value")
	}

	wrongMethod := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	wrongMethod.Header.Set("X-Org", "acme")
	if rule.Match(NewFingerprint(wrongMethod)) {
		t.Fatal("expected rule not to match a different method")
	}
}

func TestNewRuleRejectsIdentityIDWithoutExtractor(t *testing.T) {
	p := Predicate{IdentityID: "premium"}
	if _, err := NewRule(p, mustFixedWindow(t, 1, 60), nil, 0); err == nil {
		t.Fatal("expected an error when IdentityID is set without an extractor")
	}
}

func TestRuleIdentityIsolation(t *testing.T) {
	p := Predicate{IdentityID: "alice"}
	extractor := func(r *http.Request) string { return r.Header.Get("X-User") }

	rule, err := NewRule(p, mustFixedWindow(t, 1, 60), extractor, 0)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}

	alice := httptest.NewRequest(http.MethodGet, "/", nil)
	alice.Header.Set("X-User", "alice")
	if !rule.Match(NewFingerprint(alice)) {
		t.Fatal("expected rule to match the configured identity")
	}

	bob := httptest.NewRequest(http.MethodGet, "/", nil)
	bob.Header.Set("X-User", "bob")
	if rule.Match(NewFingerprint(bob)) {
		t.Fatal("expected rule not to match a different identity")
	}
}

func TestHashRuleIsStableAndDistinguishesRules(t *testing.T) {
	a := hashRule(Predicate{URIPattern: "^/a"}, AlgorithmFixedWindow)
	b := hashRule(Predicate{URIPattern: "^/a"}, AlgorithmFixedWindow)
	if a != b {
		t.Fatal("expected identical predicates/algorithm to hash identically")
	}

	c := hashRule(Predicate{URIPattern: "^/b"}, AlgorithmFixedWindow)
	if a == c {
		t.Fatal("expected different predicates to hash differently")
	}
}

func TestConfigWhitelistSkipsMatchingRequests(t *testing.T) {
	whitelistRule, err := NewRule(Predicate{URIPattern: "^/healthz"}, mustFixedWindow(t, 1, 60), nil, 0)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}
	cfg, err := NewConfig("svc", nil, []Rule{whitelistRule})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	if !cfg.whitelisted(NewFingerprint(req)) {
		t.Fatal("expected /healthz to be whitelisted")
	}

	other := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	if cfg.whitelisted(NewFingerprint(other)) {
		t.Fatal("expected /v1/chat not to be whitelisted")
	}
}
