package substrate

import (
	"sort"
	"strings"
)

// defaultKeywordLimit caps derived keyword sets per fragment.
const defaultKeywordLimit = 5

// stopwords excludes common function words from keyword extraction.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "from": {}, "as": {}, "is": {}, "was": {},
	"are": {}, "were": {}, "been": {}, "be": {}, "have": {}, "has": {},
	"had": {}, "do": {}, "does": {}, "did": {}, "will": {}, "would": {},
	"could": {}, "should": {}, "may": {}, "might": {}, "can": {},
	"this": {}, "that": {}, "these": {}, "those": {},
	"i": {}, "you": {}, "he": {}, "she": {}, "it": {}, "we": {}, "they": {},
}

// extractKeywords derives up to limit keywords from free text.
//
// Tokens are lowercased, stripped of surrounding punctuation, and kept when
// longer than three characters and not a stopword. The most frequent tokens
// win; frequency ties resolve lexicographically so extraction is
// deterministic.
func extractKeywords(text string, limit int) []string {
	if limit <= 0 {
		limit = defaultKeywordLimit
	}

	counts := make(map[string]int)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?;:\"'()[]")
		if len(token) <= 3 {
			continue
		}
		if _, stop := stopwords[token]; stop {
			continue
		}
		counts[token]++
	}
	if len(counts) == 0 {
		return nil
	}

	keywords := make([]string, 0, len(counts))
	for token := range counts {
		keywords = append(keywords, token)
	}
	sort.Slice(keywords, func(a, b int) bool {
		if counts[keywords[a]] != counts[keywords[b]] {
			return counts[keywords[a]] > counts[keywords[b]]
		}

		return keywords[a] < keywords[b]
	})
	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	sort.Strings(keywords)

	return keywords
}

// normalizeKeywords lowercases, deduplicates, and sorts a caller-supplied
// keyword set. Empty input normalizes to nil.
func normalizeKeywords(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	normalized := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, duplicate := seen[value]; duplicate {
			continue
		}
		seen[value] = struct{}{}
		normalized = append(normalized, value)
	}
	if len(normalized) == 0 {
		return nil
	}
	sort.Strings(normalized)

	return normalized
}
