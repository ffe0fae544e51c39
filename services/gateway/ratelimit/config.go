package ratelimit

// Config is an immutable, atomically-swappable set of rules. Replace
// it wholesale via ConfigLoader; never mutate a Config in place once
// built — requests hold a reference to the snapshot they started on
// (spec.md §5).
type Config struct {
	Rules      []Rule
	Whitelist  []Rule
	UniqueName string
}

// NewConfig builds a Config, assigning each rule its index and
// content hash (used for counter-key derivation) and compiling every
// whitelist entry's URI pattern. Whitelist entries are Rules whose
// RateLimitMethod is never consulted (spec.md §3: "only the predicate
// part is used").
func NewConfig(uniqueName string, rules []Rule, whitelist []Rule) (Config, error) {
	built := make([]Rule, len(rules))
	for i, r := range rules {
		r.index = i
		r.hash = hashRule(r.Predicate, r.Method.Algorithm())
		built[i] = r
	}
	wl := make([]Rule, len(whitelist))
	for i, r := range whitelist {
		if err := r.Predicate.Compile(); err != nil {
			return Config{}, err
		}
		wl[i] = r
	}
	return Config{Rules: built, Whitelist: wl, UniqueName: uniqueName}, nil
}

// whitelisted reports whether fp matches any whitelist entry. Per
// spec.md §4.3/P5, a whitelist match skips every rule unconditionally
// and increments no counter.
func (c Config) whitelisted(fp Fingerprint) bool {
	for _, r := range c.Whitelist {
		if r.Match(fp) {
			return true
		}
	}
	return false
}
