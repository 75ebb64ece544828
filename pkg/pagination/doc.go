// Package pagination accumulates list pages and collects whole result sets.
//
// The backend pages lists with page and limit parameters and reports the
// total number of matches, not the number of pages. A page that comes back
// shorter than the requested limit is the last one.
//
// Accumulator is used by interactive lists: the first page replaces the list,
// "load more" and infinite scroll append to it.
//
//	var acc pagination.Accumulator[query.Product]
//	acc.Apply(first, false)
//	if acc.HasMore() {
//		acc.Apply(next, true)
//	}
//
// Collector is used by exports: it fetches page 1 to learn the total, then
// fetches the remaining pages in parallel with bounded concurrency:
//
//	c := pagination.NewCollector(client.ListProducts, pagination.DefaultConfig())
//	products, err := c.Collect(ctx, query.DefaultFilter())
//
// A failed page does not discard the others: Collect returns the items of the
// contiguous prefix that succeeded together with the error.
package pagination
