// ABOUTME: Capability matcher selecting and scoring providers for a query.
// ABOUTME: Deterministic weighted tag overlap with degraded-health penalty.

package matcher

import (
	"log/slog"
	"sort"

	"github.com/nlweb/nlweb-gateway/internal/registry"
)

// Match is a scored association between a query and a candidate provider.
// Produced fresh per Who/Ask invocation, never persisted.
type Match struct {
	Provider            registry.Provider
	Score               float64
	MatchedCapabilities []string
}

// Config holds matcher tuning knobs.
type Config struct {
	// MaxResults bounds the returned match count. Zero means unbounded.
	MaxResults int
	// DegradedPenalty multiplies the score of DEGRADED providers. Must be
	// in (0, 1].
	DegradedPenalty float64
}

// Matcher ranks registry snapshots against query text.
type Matcher struct {
	classify Classifier
	cfg      Config
	logger   *slog.Logger
}

// New creates a Matcher. A nil classifier falls back to DefaultClassifier.
func New(classify Classifier, cfg Config, logger *slog.Logger) *Matcher {
	if classify == nil {
		classify = DefaultClassifier
	}
	if cfg.DegradedPenalty <= 0 || cfg.DegradedPenalty > 1 {
		cfg.DegradedPenalty = 0.5
	}
	return &Matcher{classify: classify, cfg: cfg, logger: logger}
}

// Match scores every provider in the snapshot against the query's inferred
// topic tags. UNREACHABLE providers are excluded; DEGRADED providers are
// penalized. The result is ordered by score descending, ties broken by
// provider id ascending, and bounded by MaxResults. An empty result is a
// valid outcome, not an error.
func (m *Matcher) Match(query string, snapshot []registry.Provider) []Match {
	tags := m.classify(query)
	if len(tags) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(snapshot))
	for _, p := range snapshot {
		if p.Health == registry.HealthUnreachable {
			continue
		}

		matched := overlap(tags, p.Capabilities)
		if len(matched) == 0 {
			continue
		}

		score := float64(len(matched)) / float64(len(tags))
		if p.Health == registry.HealthDegraded {
			score *= m.cfg.DegradedPenalty
		}

		matches = append(matches, Match{
			Provider:            p,
			Score:               score,
			MatchedCapabilities: matched,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Provider.ID < matches[j].Provider.ID
	})

	if m.cfg.MaxResults > 0 && len(matches) > m.cfg.MaxResults {
		matches = matches[:m.cfg.MaxResults]
	}

	m.logger.Debug("capability match",
		"query_tags", tags,
		"candidates", len(snapshot),
		"matches", len(matches),
	)
	return matches
}

// overlap returns the tags declared by the provider, preserving the
// query-tag order (which the classifier already sorted).
func overlap(queryTags, capabilities []string) []string {
	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}

	var matched []string
	for _, t := range queryTags {
		if caps[t] {
			matched = append(matched, t)
		}
	}
	return matched
}
