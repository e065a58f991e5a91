// Package history computes windowed, newest-first views of a user's
// generated documents.
package history

import (
	"sort"

	"github.com/ashureev/studiora/internal/domain"
)

// DefaultLimit is the number of documents shown per page.
const DefaultLimit = 5

// Page is one window over a user's artifact list. It is never cached.
type Page struct {
	Items  []string
	Total  int
	Offset int
	Limit  int
}

// Paginate orders artifacts newest first (ties broken by name) and returns
// the window [offset, offset+limit).
func Paginate(artifacts []domain.Artifact, offset, limit int) Page {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}

	sorted := make([]domain.Artifact, len(artifacts))
	copy(sorted, artifacts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].Name < sorted[j].Name
	})

	p := Page{Total: len(sorted), Offset: offset, Limit: limit, Items: []string{}}
	if offset >= len(sorted) {
		return p
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	for _, a := range sorted[offset:end] {
		p.Items = append(p.Items, a.Name)
	}
	return p
}

// Empty reports whether the user has no documents at all.
func (p Page) Empty() bool {
	return p.Total == 0
}

// HasPrev reports whether a previous page exists.
func (p Page) HasPrev() bool {
	return p.Offset > 0
}

// PrevOffset is the offset of the previous page.
func (p Page) PrevOffset() int {
	if p.Offset-p.Limit < 0 {
		return 0
	}
	return p.Offset - p.Limit
}

// HasNext reports whether a next page exists.
func (p Page) HasNext() bool {
	return p.Offset+p.Limit < p.Total
}

// NextOffset is the offset of the next page.
func (p Page) NextOffset() int {
	return p.Offset + p.Limit
}

// CurrentPage is the 1-based page number of this window.
func (p Page) CurrentPage() int {
	return p.Offset/p.Limit + 1
}

// TotalPages is the number of pages, zero when there are no documents.
func (p Page) TotalPages() int {
	return (p.Total + p.Limit - 1) / p.Limit
}

// LastOffset is the offset of the final page, zero when there are no
// documents.
func (p Page) LastOffset() int {
	if p.Total == 0 {
		return 0
	}
	return (p.TotalPages() - 1) * p.Limit
}
