// Package query holds the filter state, wire parameters and normalized item
// shapes shared by the marketplace client and the browse controller.
package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Query parameter names understood by the marketplace backend.
const (
	ParamSearch   = "search"
	ParamCategory = "category"
	ParamMinPrice = "minPrice"
	ParamMaxPrice = "maxPrice"
	ParamPage     = "page"
	ParamLimit    = "limit"
)

const (
	// MinSearchLength is the shortest search text that is sent to the backend.
	// Shorter text is dropped from the request.
	MinSearchLength = 3

	// PriceFloor and PriceCeiling bound the price filter (KES).
	// A bound equal to its limit is a no-op and is not sent.
	PriceFloor   int64 = 0
	PriceCeiling int64 = 200000

	// CategoryAll selects every category.
	CategoryAll = "All"

	// ProductGridPageSize is used by category and merchant product grids.
	ProductGridPageSize = 12

	// BrowserPageSize is used by the unified product browser.
	BrowserPageSize = 24
)

// FilterState is the user-controlled part of a list query.
type FilterState struct {
	Search   string `json:"search"`
	Category string `json:"category"`
	MinPrice int64  `json:"minPrice"`
	MaxPrice int64  `json:"maxPrice"`
	Page     int    `json:"page"`
}

// DefaultFilter returns the unfiltered first page.
func DefaultFilter() FilterState {
	return FilterState{
		Category: CategoryAll,
		MinPrice: PriceFloor,
		MaxPrice: PriceCeiling,
		Page:     1,
	}
}

// WithSearch returns a copy with new search text and the page reset to 1.
func (f FilterState) WithSearch(search string) FilterState {
	f.Search = search
	f.Page = 1
	return f
}

// WithCategory returns a copy with a new category and the page reset to 1.
// An empty category means CategoryAll.
func (f FilterState) WithCategory(category string) FilterState {
	if strings.TrimSpace(category) == "" {
		category = CategoryAll
	}
	f.Category = category
	f.Page = 1
	return f
}

// WithPriceRange returns a copy with new price bounds and the page reset to 1.
func (f FilterState) WithPriceRange(minPrice, maxPrice int64) FilterState {
	f.MinPrice = minPrice
	f.MaxPrice = maxPrice
	f.Page = 1
	return f
}

// WithPage returns a copy pointing at page p (at least 1).
func (f FilterState) WithPage(p int) FilterState {
	if p < 1 {
		p = 1
	}
	f.Page = p
	return f
}

// Normalize clamps the price bounds, fills the default category and makes
// sure the page is at least 1.
func (f FilterState) Normalize() FilterState {
	if strings.TrimSpace(f.Category) == "" {
		f.Category = CategoryAll
	}
	f.MinPrice = clamp(f.MinPrice)
	f.MaxPrice = clamp(f.MaxPrice)
	if f.MinPrice > f.MaxPrice {
		f.MinPrice, f.MaxPrice = f.MaxPrice, f.MinPrice
	}
	if f.Page < 1 {
		f.Page = 1
	}
	return f
}

// EffectiveSearch is the search text as it would be sent: trimmed, and empty
// when shorter than MinSearchLength.
func (f FilterState) EffectiveSearch() string {
	s := strings.TrimSpace(f.Search)
	if utf8.RuneCountInString(s) < MinSearchLength {
		return ""
	}
	return s
}

// SameQuery reports whether a and b produce the same request apart from the page.
func SameQuery(a, b FilterState) bool {
	a, b = a.Normalize(), b.Normalize()
	return a.EffectiveSearch() == b.EffectiveSearch() &&
		categoryParam(a.Category) == categoryParam(b.Category) &&
		a.MinPrice == b.MinPrice &&
		a.MaxPrice == b.MaxPrice
}

// SearchTooShort reports whether s is non-empty after trimming but shorter
// than MinSearchLength.
func SearchTooShort(s string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	return n > 0 && n < MinSearchLength
}

// Params builds the query parameters for f. No-op constraints are omitted so
// the default filter sends only page and limit.
func Params(f FilterState, pageSize int) url.Values {
	f = f.Normalize()
	v := url.Values{}

	if s := f.EffectiveSearch(); s != "" {
		v.Set(ParamSearch, s)
	}
	if c := categoryParam(f.Category); c != "" {
		v.Set(ParamCategory, c)
	}
	if f.MinPrice > PriceFloor {
		v.Set(ParamMinPrice, strconv.FormatInt(f.MinPrice, 10))
	}
	if f.MaxPrice < PriceCeiling {
		v.Set(ParamMaxPrice, strconv.FormatInt(f.MaxPrice, 10))
	}
	v.Set(ParamPage, strconv.Itoa(f.Page))
	v.Set(ParamLimit, strconv.Itoa(pageSize))
	return v
}

// ValidPageSize reports whether n is one of the supported page sizes.
func ValidPageSize(n int) bool {
	return n == ProductGridPageSize || n == BrowserPageSize
}

// FromParams is the inverse of Params. A missing limit defaults to
// ProductGridPageSize; an unsupported one is an error.
func FromParams(v url.Values) (FilterState, int, error) {
	f := DefaultFilter()
	f.Search = v.Get(ParamSearch)
	f = f.WithCategory(v.Get(ParamCategory))

	var err error
	if f.MinPrice, err = int64Param(v, ParamMinPrice, PriceFloor); err != nil {
		return FilterState{}, 0, err
	}
	if f.MaxPrice, err = int64Param(v, ParamMaxPrice, PriceCeiling); err != nil {
		return FilterState{}, 0, err
	}
	page, err := int64Param(v, ParamPage, 1)
	if err != nil {
		return FilterState{}, 0, err
	}
	f.Page = int(page)

	limit, err := int64Param(v, ParamLimit, ProductGridPageSize)
	if err != nil {
		return FilterState{}, 0, err
	}
	if !ValidPageSize(int(limit)) {
		return FilterState{}, 0, fmt.Errorf("%s must be %d or %d (got %d)",
			ParamLimit, ProductGridPageSize, BrowserPageSize, limit)
	}

	return f.Normalize(), int(limit), nil
}

func int64Param(v url.Values, name string, def int64) (int64, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}

func categoryParam(c string) string {
	c = strings.TrimSpace(c)
	if strings.EqualFold(c, CategoryAll) {
		return ""
	}
	return c
}

func clamp(p int64) int64 {
	switch {
	case p < PriceFloor:
		return PriceFloor
	case p > PriceCeiling:
		return PriceCeiling
	default:
		return p
	}
}
