package annoyforest

import "github.com/vecforge/annoyforest/internal/store"

// Tag names one independent index hosted inside a single on-disk
// environment (spec §1, §3 "Index tag").
type Tag = store.Tag

// Item is one vector staged into a Writer's active set.
type Item struct {
	ID     uint32
	Vector []float32
}

// SearchResult is one scored neighbor returned by a query.
type SearchResult struct {
	ID       uint32
	Distance float32
}
