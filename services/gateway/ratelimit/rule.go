package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"
)

// Fingerprint is the read-only, per-request view a Rule matches
// against: the URI, method, selected header values, and the raw
// request. The raw request is kept only so a Rule's own
// IdentityExtract, if set, can be invoked against it during
// evaluation — spec.md §3 ties an identity extractor to a specific
// rule, not to the request as a whole, so identity is resolved lazily
// per matching rule rather than once up front. Derived once per
// request and never mutated.
type Fingerprint struct {
	URI     string
	Method  string
	Header  http.Header
	Request *http.Request
}

// NewFingerprint derives a Fingerprint from an inbound or outbound
// *http.Request.
func NewFingerprint(r *http.Request) Fingerprint {
	return Fingerprint{
		URI:     r.URL.String(),
		Method:  strings.ToUpper(r.Method),
		Header:  r.Header,
		Request: r,
	}
}

// IdentityExtractor derives a caller identity from a request. Per
// spec.md §6, it must be pure and must not suspend or throw; an empty
// string means "no identity".
type IdentityExtractor func(r *http.Request) string

// Predicate is the match portion shared by Rule and whitelist entries:
// URI pattern, method set, header name/value, and identity-id literal.
// Matching the IdentityID literal requires an extractor, which lives on
// the owning Rule, not on Predicate itself — see Rule.Match.
type Predicate struct {
	// URIPattern, if non-empty, is a regular expression matched
	// anywhere against the fingerprint's URI.
	URIPattern string
	uriRegexp  *regexp.Regexp

	// Methods, if non-empty, restricts the match to this set of
	// uppercased HTTP methods.
	Methods []string

	// HeaderName/HeaderValue: if HeaderName is set, the request must
	// carry that header; if HeaderValue is also set, the header's
	// value must equal it exactly.
	HeaderName  string
	HeaderValue string

	// IdentityID, if set, requires the identity extracted by the
	// owning Rule's IdentityExtract to equal this literal.
	IdentityID string
}

// Compile resolves the URIPattern regexp once, so Match never pays
// regexp compilation cost per request. Called by Rule/Config
// constructors; calling it twice is harmless.
func (p *Predicate) Compile() error {
	if p.URIPattern == "" {
		p.uriRegexp = nil
		return nil
	}
	re, err := regexp.Compile(p.URIPattern)
	if err != nil {
		return err
	}
	p.uriRegexp = re
	return nil
}

// matchWithoutIdentity reports whether fp satisfies every part of the
// predicate except the identity-id check, per spec.md §4.3(a-c).
func (p Predicate) matchWithoutIdentity(fp Fingerprint) bool {
	if p.uriRegexp != nil && !p.uriRegexp.MatchString(fp.URI) {
		return false
	}
	if len(p.Methods) > 0 && !containsFold(p.Methods, fp.Method) {
		return false
	}
	if p.HeaderName != "" {
		v, ok := headerLookup(fp.Header, p.HeaderName)
		if !ok {
			return false
		}
		if p.HeaderValue != "" && v != p.HeaderValue {
			return false
		}
	}
	return true
}

func containsFold(methods []string, method string) bool {
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func headerLookup(h http.Header, name string) (string, bool) {
	if h == nil {
		return "", false
	}
	vs, ok := h[http.CanonicalHeaderKey(name)]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Rule is one immutable-after-load entry of a Config: a Predicate plus
// the algorithm enforcing it, an optional identity extractor, and an
// optional max-delay. Construct with NewRule so the
// identity-id-requires-extractor invariant (spec.md §3) is checked
// once, at load time. Whitelist entries are also Rules (spec.md §3:
// "rule-shaped predicates"); Config.whitelisted ignores their Method.
type Rule struct {
	Predicate
	Method          RateLimitMethod
	IdentityExtract IdentityExtractor
	MaxDelaySec     int

	// index and hash are filled in by Config construction, not by the
	// caller; they feed counter-key derivation (spec.md §4.3).
	index int
	hash  string
}

// NewRule validates and returns a Rule. Returns an error if IdentityID
// is set without an IdentityExtract, per spec.md §3's invariant.
func NewRule(p Predicate, method RateLimitMethod, identityExtract IdentityExtractor, maxDelaySec int) (Rule, error) {
	if p.IdentityID != "" && identityExtract == nil {
		return Rule{}, errInvalid("Rule: IdentityID set without an identity extractor")
	}
	if maxDelaySec < 0 {
		return Rule{}, errInvalid("Rule: MaxDelaySec must be >= 0")
	}
	if err := p.Compile(); err != nil {
		return Rule{}, err
	}
	return Rule{Predicate: p, Method: method, IdentityExtract: identityExtract, MaxDelaySec: maxDelaySec}, nil
}

// Match reports whether fp satisfies the rule's predicate, including
// the identity-id check (spec.md §4.3(d)): if IdentityID is set, the
// rule's own IdentityExtract must be applied to fp.Request and equal
// it.
func (r Rule) Match(fp Fingerprint) bool {
	if !r.Predicate.matchWithoutIdentity(fp) {
		return false
	}
	if r.Predicate.IdentityID == "" {
		return true
	}
	return r.identityFor(fp) == r.Predicate.IdentityID
}

// identityFor resolves the identity this rule keys its counters by:
// its own extractor, applied to the fingerprint's request, or "" if
// the rule has none.
func (r Rule) identityFor(fp Fingerprint) string {
	if r.IdentityExtract == nil || fp.Request == nil {
		return ""
	}
	return r.IdentityExtract(fp.Request)
}

// hashRule derives a stable, content-addressed hash for a rule so that
// two Config generations that declare the "same" rule (same predicate
// and algorithm) produce the same counter keys across a hot reload.
// Field order below is fixed; changing it changes every existing
// counter's key, which is the intended behavior when a rule's meaning
// actually changes.
func hashRule(p Predicate, alg Algorithm) string {
	h := sha256.New()
	_, _ = h.Write([]byte(p.URIPattern))
	_, _ = h.Write([]byte{0})
	for _, m := range p.Methods {
		_, _ = h.Write([]byte(strings.ToUpper(m)))
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(p.HeaderName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(p.HeaderValue))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(p.IdentityID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(alg))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// key derives the counter key prefix for this rule's evaluation
// against a given identity, per spec.md §4.3: uniqueName, rule hash,
// identity id (empty if absent). The algorithm's own suffix is
// appended downstream, in method.go.
func (r Rule) key(uniqueName, identityID string) string {
	var b strings.Builder
	b.WriteString(uniqueName)
	b.WriteByte(':')
	b.WriteString(r.hash)
	b.WriteByte(':')
	b.WriteString(identityID)
	return b.String()
}
