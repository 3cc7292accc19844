// Package verifier re-checks sampled data entities against their source of
// truth. A verifier answers one question per entity: does the content the
// miner indexed still match what the platform serves for that URI?
package verifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/gather-network/gatherx/pkg/data"
)

// Verifier IDs key the provider. Which verifier is preferred per source is a
// deployment choice; NewProvider installs these as the defaults.
const (
	RedditLiteVerifierID = "reddit-lite"
	XApifyVerifierID     = "x-apify"
)

// SuccessReason is attached to every passing verification.
const SuccessReason = "Good job, you honest miner!"

// ValidationResult is the outcome of verifying a single data entity. Reason
// is human-readable and travels into logs and evaluation events as-is.
// ContentSizeBytesValidated carries the entity's claimed size on failures as
// well as successes, so scoring can weigh outcomes by bytes.
type ValidationResult struct {
	IsValid                   bool   `json:"is_valid"`
	Reason                    string `json:"reason"`
	ContentSizeBytesValidated int64  `json:"content_size_bytes_validated"`
}

// Verifier re-verifies entities against their external source. Verify returns
// one result per input entity, in input order. A per-entity verdict, pass or
// fail, is a result; the error return is reserved for the verifier itself
// being unable to run (source API down, auth rejected).
type Verifier interface {
	ID() string
	Verify(ctx context.Context, entities []data.DataEntity) ([]ValidationResult, error)
}

// Provider hands out verifiers by ID and knows which verifier is preferred
// for each data source.
type Provider struct {
	verifiers map[string]Verifier
	preferred map[data.DataSource]string
}

// NewProvider registers the given verifiers under their own IDs.
func NewProvider(verifiers ...Verifier) *Provider {
	p := &Provider{
		verifiers: make(map[string]Verifier, len(verifiers)),
		preferred: map[data.DataSource]string{
			data.DataSourceReddit: RedditLiteVerifierID,
			data.DataSourceX:      XApifyVerifierID,
		},
	}
	for _, v := range verifiers {
		p.verifiers[v.ID()] = v
	}
	return p
}

// Get returns the verifier registered under id.
func (p *Provider) Get(id string) (Verifier, error) {
	v, ok := p.verifiers[id]
	if !ok {
		return nil, fmt.Errorf("no verifier registered for id %q", id)
	}
	return v, nil
}

// ForSource returns the preferred verifier for a data source.
func (p *Provider) ForSource(source data.DataSource) (Verifier, error) {
	id, ok := p.preferred[source]
	if !ok {
		return nil, fmt.Errorf("no verifier preference for source %s", source)
	}
	return p.Get(id)
}

// entityFieldsMatch compares the claimed entity against the entity rebuilt
// from source-of-truth content. The content bytes are deliberately excluded:
// miners may serialize the same content differently, so only the addressing
// fields have to line up.
func entityFieldsMatch(actual, claimed data.DataEntity) bool {
	if strings.TrimSuffix(actual.URI, "/") != strings.TrimSuffix(claimed.URI, "/") {
		return false
	}
	if !actual.Datetime.Equal(claimed.Datetime) {
		return false
	}
	if actual.Source != claimed.Source {
		return false
	}
	return actual.Label.Equal(claimed.Label)
}
