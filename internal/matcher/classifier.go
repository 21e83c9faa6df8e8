// ABOUTME: Pluggable topic classifier turning query text into capability tags.
// ABOUTME: Default implementation tokenizes the query and applies a synonym table.

package matcher

import (
	"sort"
	"strings"
	"unicode"
)

// Classifier infers topic tags from natural-language query text. The
// gateway treats it as an external collaborator; implementations must be
// deterministic for the same input.
type Classifier func(query string) []string

// synonyms maps common query words onto the canonical capability tags
// providers tend to declare.
var synonyms = map[string]string{
	"forecast":    "weather",
	"temperature": "weather",
	"rain":        "weather",
	"headlines":   "news",
	"headline":    "news",
	"articles":    "news",
	"stocks":      "finance",
	"stock":       "finance",
	"shares":      "finance",
	"recipes":     "cooking",
	"recipe":      "cooking",
	"flights":     "travel",
	"flight":      "travel",
	"hotels":      "travel",
	"hotel":       "travel",
}

// stopwords are dropped before tag inference.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"what": true, "when": true, "where": true, "who": true, "how": true,
	"i": true, "me": true, "my": true, "in": true, "on": true, "for": true,
	"of": true, "to": true, "and": true, "or": true, "today": true,
	"tomorrow": true, "please": true, "tell": true, "about": true,
	"near": true, "do": true, "does": true, "will": true, "it": true,
}

// DefaultClassifier tokenizes the query, lowercases, strips punctuation
// and stopwords, folds synonyms, and returns the resulting tag set in
// sorted order. Deterministic given the same query text.
func DefaultClassifier(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		if canonical, ok := synonyms[f]; ok {
			f = canonical
		}
		seen[f] = true
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
