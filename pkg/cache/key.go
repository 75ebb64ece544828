package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "nv"

// Key identifies a cached response.
type Key struct {
	// Endpoint is the request path, e.g. "/products"
	Endpoint string

	// Query holds the request's query parameters
	Query url.Values
}

// KeyFor builds the key of a request URL.
func KeyFor(u *url.URL) Key {
	return Key{Endpoint: u.Path, Query: u.Query()}
}

// String returns a deterministic key.
// Format: nv:endpoint:name=value:name=value, parameters sorted by name.
// Names and values are query-escaped so a ':' or '=' inside a value cannot
// collide with the separators.
//
// Example:
//
//	nv:products:category=Electronics:limit=12:page=1
func (k Key) String() string {
	parts := []string{KeyPrefix}

	if endpoint := strings.Trim(k.Endpoint, "/"); endpoint != "" {
		parts = append(parts, endpoint)
	}

	names := make([]string, 0, len(k.Query))
	for name := range k.Query {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		values := append([]string(nil), k.Query[name]...)
		sort.Strings(values)
		for _, v := range values {
			parts = append(parts, url.QueryEscape(name)+"="+url.QueryEscape(v))
		}
	}

	return strings.Join(parts, ":")
}
