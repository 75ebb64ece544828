// Package testutil provides a mock marketplace backend for tests.
package testutil

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Product is a catalog row served by the mock.
type Product struct {
	ID       string `json:"_id"`
	Name     string `json:"name"`
	Price    any    `json:"price"`
	Category string `json:"category"`
	Image    string `json:"image,omitempty"`
	Merchant string `json:"merchant,omitempty"`
}

// Merchant is a directory row served by the mock.
type Merchant struct {
	ID           string `json:"_id"`
	BusinessName string `json:"businessName"`
	Category     string `json:"category"`
	Location     string `json:"location"`
	IsVerified   bool   `json:"isVerified"`
}

// MockBackend is a configurable mock of the marketplace REST backend.
// /products and /merchants filter and paginate the configured data the way
// the real backend does; any path can be overridden with SetHandler.
type MockBackend struct {
	server *httptest.Server

	mu        sync.RWMutex
	handlers  map[string]http.HandlerFunc
	products  []Product
	merchants []Merchant
	failures  map[string][]int
	delay     time.Duration

	requestCount     int
	conditionalCount int
	lastQuery        map[string]string
	lastHeader       http.Header
}

// NewMockBackend starts a mock backend.
func NewMockBackend() *MockBackend {
	m := &MockBackend{
		handlers: make(map[string]http.HandlerFunc),
		failures: make(map[string][]int),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requestCount++
		m.lastHeader = r.Header.Clone()
		m.lastQuery = make(map[string]string)
		for k := range r.URL.Query() {
			m.lastQuery[k] = r.URL.Query().Get(k)
		}
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			m.conditionalCount++
		}
		handler, custom := m.handlers[r.URL.Path]
		status := m.popFailure(r.URL.Path)
		delay := m.delay
		m.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		if status != 0 {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"message":"injected failure %d"}`, status)
			return
		}

		if custom {
			handler(w, r)
			return
		}

		switch r.URL.Path {
		case "/products":
			m.mu.RLock()
			items := filterProducts(m.products, r)
			m.mu.RUnlock()
			writeList(w, r, items)
		case "/merchants":
			m.mu.RLock()
			items := filterMerchants(m.merchants, r)
			m.mu.RUnlock()
			writeList(w, r, items)
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockBackend) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockBackend) Close() {
	m.server.Close()
}

// Reset clears the request counters.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.lastHeader = nil
	m.lastQuery = nil
}

// SetProducts replaces the product catalog.
func (m *MockBackend) SetProducts(products []Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = products
}

// SetMerchants replaces the merchant directory.
func (m *MockBackend) SetMerchants(merchants []Merchant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merchants = merchants
}

// SetDelay delays every response. The delay ends early if the client gives up.
func (m *MockBackend) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// FailNext makes the next requests to path answer with the given statuses,
// one per request, before normal handling resumes.
func (m *MockBackend) FailNext(path string, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = append(m.failures[path], statuses...)
}

func (m *MockBackend) popFailure(path string) int {
	queue := m.failures[path]
	if len(queue) == 0 {
		return 0
	}
	m.failures[path] = queue[1:]
	return queue[0]
}

// SetHandler overrides the handler for a path.
func (m *MockBackend) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockBackend) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests served.
func (m *MockBackend) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// ConditionalCount returns the number of conditional requests served.
func (m *MockBackend) ConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// LastQuery returns the query parameters of the latest request.
func (m *MockBackend) LastQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

// LastHeader returns the headers of the latest request.
func (m *MockBackend) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// GenerateProducts returns n products named "<prefix> 0" .. "<prefix> n-1"
// priced 100, 200, ... in the given category.
func GenerateProducts(n int, prefix, category string) []Product {
	products := make([]Product, n)
	for i := range products {
		products[i] = Product{
			ID:       fmt.Sprintf("%s-%d", strings.ToLower(strings.ReplaceAll(prefix, " ", "-")), i),
			Name:     fmt.Sprintf("%s %d", prefix, i),
			Price:    (i + 1) * 100,
			Category: category,
			Image:    fmt.Sprintf("https://cdn.example.com/%d.jpg", i),
		}
	}
	return products
}

func filterProducts(all []Product, r *http.Request) []Product {
	q := r.URL.Query()
	search := strings.ToLower(q.Get("search"))
	category := q.Get("category")
	minPrice, hasMin := intParam(q.Get("minPrice"))
	maxPrice, hasMax := intParam(q.Get("maxPrice"))

	var out []Product
	for _, p := range all {
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		price, _ := intParam(fmt.Sprint(p.Price))
		if hasMin && price < minPrice {
			continue
		}
		if hasMax && price > maxPrice {
			continue
		}
		out = append(out, p)
	}
	return out
}

func filterMerchants(all []Merchant, r *http.Request) []Merchant {
	q := r.URL.Query()
	search := strings.ToLower(q.Get("search"))
	category := q.Get("category")

	var out []Merchant
	for _, m := range all {
		if search != "" && !strings.Contains(strings.ToLower(m.BusinessName), search) {
			continue
		}
		if category != "" && !strings.EqualFold(m.Category, category) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// writeList pages items and writes the { data, pagination } envelope with an
// ETag, answering 304 when the client already holds the same body.
func writeList[T any](w http.ResponseWriter, r *http.Request, items []T) {
	q := r.URL.Query()
	page, ok := intParam(q.Get("page"))
	if !ok || page < 1 {
		page = 1
	}
	limit, ok := intParam(q.Get("limit"))
	if !ok || limit < 1 {
		limit = 12
	}

	start := (page - 1) * limit
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}

	body, _ := json.Marshal(map[string]any{
		"data": append([]T{}, items[start:end]...),
		"pagination": map[string]int{
			"total": len(items),
			"page":  page,
			"limit": limit,
		},
	})

	sum := sha1.Sum(body)
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "max-age=0")
	w.Header().Set("X-RateLimit-Remaining", "100")
	w.Header().Set("X-RateLimit-Reset", "60")

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func intParam(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// NewHealthyResponse creates a 200 response with cache and rate limit headers.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "100",
			"X-RateLimit-Reset":     "60",
			"ETag":                  `"test-etag-123"`,
			"Expires":               time.Now().Add(5 * time.Minute).Format(http.TimeFormat),
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message":"Too many requests"}`,
		Headers: map[string]string{
			"Retry-After":  strconv.Itoa(retryAfter),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message":"Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewConditionalHandler answers 304 when If-None-Match equals etag.
func NewConditionalHandler(etag string, data string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "max-age=0")

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(data))
	}
}
