package citation

import "github.com/user/chatrelay/internal/domain"

// DedupeResult is the canonical source list plus the remapping from
// original retrieval position to canonical position.
type DedupeResult struct {
	// Filtered is the source list with URL duplicates collapsed,
	// ordered by first occurrence.
	Filtered []domain.Source
	// IndexMap maps every original position to its canonical position.
	IndexMap map[int]int
}

// Dedupe collapses sources by URL identity. The first occurrence of a
// URL wins; later duplicates map to the first occurrence's canonical
// index. Pure and idempotent: deduping an already deduplicated list
// returns it unchanged with an identity IndexMap.
func Dedupe(sources []domain.Source) DedupeResult {
	filtered := make([]domain.Source, 0, len(sources))
	urlMap := make(map[string]int, len(sources))
	indexMap := make(map[int]int, len(sources))

	for i, source := range sources {
		first, seen := urlMap[source.URL]
		if !seen {
			urlMap[source.URL] = i
			indexMap[i] = len(filtered)
			filtered = append(filtered, source)
			continue
		}
		indexMap[i] = indexMap[first]
	}

	return DedupeResult{Filtered: filtered, IndexMap: indexMap}
}
