// ABOUTME: Merges per-provider sub-results into one ranked, deduplicated response.
// ABOUTME: Deterministic composite ordering and per-provider chunking for streams.

package aggregate

import (
	"sort"

	"github.com/nlweb/nlweb-gateway/internal/dispatch"
	"github.com/nlweb/nlweb-gateway/internal/matcher"
	"github.com/nlweb/nlweb-gateway/internal/schema"
)

// rankedItem pairs an item with the keys its final position depends on.
type rankedItem struct {
	item          schema.ResultItem
	providerScore float64
	insertion     int
}

// Build merges the collected sub-results into an Aggregated Response.
//
// Sub-results are first normalized to provider-id order, so completion
// order never leaks into the output. Items from OK and PARTIAL providers
// are then concatenated, deduplicated by (source provider, item identity),
// and sorted by confidence descending, provider relevance descending,
// insertion order ascending. Because insertion order derives from the
// normalized sequence, the ordering is a strict total order over the same
// inputs regardless of which provider answered first.
//
// Overall status: ERROR when every selected provider failed or timed out
// (an empty answer is a reportable outcome, not a fault), PARTIAL when
// some did or a provider answered with a truncated set, OK otherwise.
func Build(correlationID string, selected []matcher.Match, results []dispatch.SubResult) *schema.AskResponse {
	scoreByProvider := make(map[string]float64, len(selected))
	consulted := make([]string, 0, len(selected))
	for _, m := range selected {
		scoreByProvider[m.Provider.ID] = m.Score
		consulted = append(consulted, m.Provider.ID)
	}
	sort.Strings(consulted)

	ordered := make([]dispatch.SubResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ProviderID < ordered[j].ProviderID
	})

	var (
		ranked    []rankedItem
		failed    []string
		anyOK     bool
		truncated bool
		seen      = make(map[string]bool)
	)

	for _, res := range ordered {
		switch res.Status {
		case dispatch.StatusOK, dispatch.StatusPartial:
			anyOK = true
			if res.Status == dispatch.StatusPartial {
				truncated = true
			}
			for _, it := range res.Items {
				key := it.SourceProvider + "\x00" + it.Identity()
				if seen[key] {
					continue
				}
				seen[key] = true
				ranked = append(ranked, rankedItem{
					item:          it,
					providerScore: scoreByProvider[it.SourceProvider],
					insertion:     len(ranked),
				})
			}
		case dispatch.StatusTimeout, dispatch.StatusError:
			failed = append(failed, res.ProviderID)
		}
	}
	sort.Strings(failed)

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.item.Confidence != b.item.Confidence {
			return a.item.Confidence > b.item.Confidence
		}
		if a.providerScore != b.providerScore {
			return a.providerScore > b.providerScore
		}
		return a.insertion < b.insertion
	})

	items := make([]schema.ResultItem, len(ranked))
	for i, r := range ranked {
		items[i] = r.item
	}

	status := schema.StatusOK
	switch {
	case len(selected) > 0 && !anyOK:
		status = schema.StatusError
	case len(failed) > 0 || truncated:
		status = schema.StatusPartial
	}

	return &schema.AskResponse{
		Version:            schema.ProtocolVersion,
		CorrelationID:      correlationID,
		Items:              items,
		ProvidersConsulted: consulted,
		ProvidersFailed:    failed,
		Status:             status,
	}
}

// Chunks splits the final ranked item sequence into stream chunks, one per
// run of consecutive items from the same source provider. Concatenating
// the chunks reproduces the non-streamed item sequence exactly, in the
// same relative order.
func Chunks(items []schema.ResultItem) []schema.StreamChunk {
	if len(items) == 0 {
		return nil
	}

	var chunks []schema.StreamChunk
	start := 0
	for i := 1; i <= len(items); i++ {
		if i == len(items) || items[i].SourceProvider != items[start].SourceProvider {
			chunks = append(chunks, schema.StreamChunk{Items: items[start:i]})
			start = i
		}
	}
	return chunks
}
