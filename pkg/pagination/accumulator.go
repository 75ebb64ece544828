package pagination

import (
	"github.com/nairobi-verified/marketplace-client/pkg/query"
)

// Accumulator merges fetched pages into one ordered list.
// It is not safe for concurrent use; the owner serializes access.
type Accumulator[T any] struct {
	items   []T
	total   int
	hasMore bool
	pages   int
}

// Apply merges page into the list. With appendPage false the list is replaced,
// otherwise the new items are added after the existing ones. Total always
// comes from the latest page.
func (a *Accumulator[T]) Apply(page query.ResultPage[T], appendPage bool) {
	if appendPage {
		a.items = append(a.items, page.Items...)
		a.pages++
	} else {
		a.items = append(make([]T, 0, len(page.Items)), page.Items...)
		a.pages = 1
	}
	a.total = page.Total
	a.hasMore = page.Full()
}

// Reset empties the list.
func (a *Accumulator[T]) Reset() {
	a.items = nil
	a.total = 0
	a.hasMore = false
	a.pages = 0
}

// Items returns a copy of the accumulated items.
func (a *Accumulator[T]) Items() []T {
	return append([]T(nil), a.items...)
}

// Len returns the number of accumulated items.
func (a *Accumulator[T]) Len() int { return len(a.items) }

// Total returns the total reported by the latest page.
func (a *Accumulator[T]) Total() int { return a.total }

// HasMore reports whether the latest page was full.
func (a *Accumulator[T]) HasMore() bool { return a.hasMore }

// Pages returns how many pages make up the list.
func (a *Accumulator[T]) Pages() int { return a.pages }
