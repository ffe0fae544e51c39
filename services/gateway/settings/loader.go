package settings

import (
	"context"
	"fmt"
	"os"

	"github.com/wardenhq/throttlegate/services/gateway/ratelimit"
)

// FileProducer returns a ratelimit.Producer that re-reads path on every
// call and builds the named section (Ingress or Egress) into a
// ratelimit.Config, satisfying ConfigLoader's contract that calling
// Producer again picks up a file edited on disk since the last call.
func FileProducer(path string, section func(Document) Section, extractors IdentityExtractors) ratelimit.Producer {
	return func(ctx context.Context) (ratelimit.Config, error) {
		f, err := os.Open(path)
		if err != nil {
			return ratelimit.Config{}, fmt.Errorf("settings: open %s: %w", path, err)
		}
		defer f.Close()

		doc, err := Decode(f)
		if err != nil {
			return ratelimit.Config{}, err
		}

		return BuildConfig(section(doc), extractors)
	}
}

// IngressSection selects the Ingress half of a Document.
func IngressSection(d Document) Section { return d.Ingress }

// EgressSection selects the Egress half of a Document.
func EgressSection(d Document) Section { return d.Egress }
