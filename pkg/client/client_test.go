package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nairobi-verified/marketplace-client/internal/testutil"
	"github.com/nairobi-verified/marketplace-client/pkg/fetch"
	"github.com/nairobi-verified/marketplace-client/pkg/query"
	"github.com/nairobi-verified/marketplace-client/pkg/ratelimit"
)

// Both list methods plug straight into the browse controller.
var (
	_ fetch.FetchFunc[query.Product]  = (*Client)(nil).ListProducts
	_ fetch.FetchFunc[query.Merchant] = (*Client)(nil).ListMerchants
)

func newTestClient(t *testing.T, backend *testutil.MockBackend) *Client {
	t.Helper()

	cfg := DefaultConfig(backend.URL(), "nvcatalog-test/1.0 (dev@example.com)")
	cfg.InitialBackoff = 10 * time.Millisecond
	cfg.Timeout = 2 * time.Second

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func newBackend(t *testing.T) *testutil.MockBackend {
	t.Helper()
	backend := testutil.NewMockBackend()
	t.Cleanup(backend.Close)
	return backend
}

func TestNew_Validation(t *testing.T) {
	valid := DefaultConfig("https://api.example.com/api", "TestApp/1.0.0")

	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{"valid config", func(*Config) {}, ""},
		{"missing base URL", func(c *Config) { c.BaseURL = "" }, "base URL is required"},
		{"relative base URL", func(c *Config) { c.BaseURL = "/api" }, `invalid base URL "/api"`},
		{"unsupported scheme", func(c *Config) { c.BaseURL = "ftp://example.com" }, `invalid base URL "ftp://example.com"`},
		{"empty user agent", func(c *Config) { c.UserAgent = "" }, "user-agent is required"},
		{"error threshold too low", func(c *Config) { c.ErrorThreshold = 0 }, "error_threshold must be >= 1 (got 0)"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "max_retries must be >= 0 (got -1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			c, err := New(cfg)
			if tt.errorMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if c == nil {
					t.Fatal("New returned nil client")
				}
				return
			}
			if err == nil {
				t.Fatal("expected error but got nil")
			}
			if err.Error() != tt.errorMsg {
				t.Errorf("error = %q, want %q", err.Error(), tt.errorMsg)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("https://api.example.com", "TestApp/1.0.0")

	if cfg.BaseURL != "https://api.example.com" || cfg.UserAgent != "TestApp/1.0.0" {
		t.Errorf("BaseURL/UserAgent not set: %+v", cfg)
	}
	if cfg.Redis != nil {
		t.Error("Redis should be optional and nil by default")
	}
	if cfg.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", cfg.Timeout)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.MaxRetries)
	}
	if cfg.ErrorThreshold != ratelimit.ThresholdCritical {
		t.Errorf("ErrorThreshold = %d, want %d", cfg.ErrorThreshold, ratelimit.ThresholdCritical)
	}
}

func TestDo_HeadersSet(t *testing.T) {
	backend := newBackend(t)
	c := newTestClient(t, backend)

	resp, err := c.Get(context.Background(), "/health", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	h := backend.LastHeader()
	if got := h.Get("User-Agent"); got != "nvcatalog-test/1.0 (dev@example.com)" {
		t.Errorf("User-Agent = %q", got)
	}
	if got := h.Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q", got)
	}
	if _, err := uuid.Parse(h.Get(HeaderRequestID)); err != nil {
		t.Errorf("X-Request-ID %q is not a UUID: %v", h.Get(HeaderRequestID), err)
	}
}

func TestDo_RequestIDPreserved(t *testing.T) {
	backend := newBackend(t)
	c := newTestClient(t, backend)

	req, _ := http.NewRequest(http.MethodGet, c.URL("/health", nil), nil)
	req.Header.Set(HeaderRequestID, "trace-123")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if got := backend.LastHeader().Get(HeaderRequestID); got != "trace-123" {
		t.Errorf("X-Request-ID = %q, want trace-123", got)
	}
}

func TestListProducts_QueryParams(t *testing.T) {
	tests := []struct {
		name   string
		filter query.FilterState
		want   map[string]string
	}{
		{
			name:   "default filter sends only page and limit",
			filter: query.DefaultFilter(),
			want:   map[string]string{"page": "1", "limit": "12"},
		},
		{
			name:   "short search is not sent",
			filter: query.DefaultFilter().WithSearch("so"),
			want:   map[string]string{"page": "1", "limit": "12"},
		},
		{
			name: "all constraints",
			filter: query.DefaultFilter().
				WithSearch(" sofa ").
				WithCategory("Furniture").
				WithPriceRange(500, 20000).
				WithPage(3),
			want: map[string]string{
				"search":   "sofa",
				"category": "Furniture",
				"minPrice": "500",
				"maxPrice": "20000",
				"page":     "3",
				"limit":    "12",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newBackend(t)
			c := newTestClient(t, backend)

			if _, err := c.ListProducts(context.Background(), tt.filter, query.ProductGridPageSize); err != nil {
				t.Fatalf("ListProducts() error = %v", err)
			}

			got := backend.LastQuery()
			if len(got) != len(tt.want) {
				t.Errorf("query = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("query[%s] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestListProducts_Pages(t *testing.T) {
	backend := newBackend(t)
	backend.SetProducts(testutil.GenerateProducts(30, "Chair", "Furniture"))
	c := newTestClient(t, backend)
	ctx := context.Background()

	first, err := c.ListProducts(ctx, query.DefaultFilter(), 12)
	if err != nil {
		t.Fatalf("ListProducts() error = %v", err)
	}
	if len(first.Items) != 12 || first.Total != 30 || !first.Full() {
		t.Errorf("first page: %d items, total %d", len(first.Items), first.Total)
	}
	if first.Items[0].Name != "Chair 0" {
		t.Errorf("first item = %q", first.Items[0].Name)
	}
	if first.Items[0].Price.String() != "100" {
		t.Errorf("price = %s, want 100", first.Items[0].Price)
	}

	last, err := c.ListProducts(ctx, query.DefaultFilter().WithPage(3), 12)
	if err != nil {
		t.Fatalf("ListProducts() error = %v", err)
	}
	if len(last.Items) != 6 || last.Full() {
		t.Errorf("last page: %d items, full %v", len(last.Items), last.Full())
	}
}

func TestListProducts_Normalizes(t *testing.T) {
	backend := newBackend(t)
	backend.SetHandler("/products", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"data": [{
				"_id": "p1",
				"title": "Kiondo basket",
				"price": "1499.50",
				"images": ["https://cdn.example.com/a.jpg"],
				"image": "https://cdn.example.com/b.jpg",
				"merchant": {"_id": "m1", "businessName": "Mama Pima Crafts"}
			}],
			"pagination": {"total": 1}
		}`)
	})
	c := newTestClient(t, backend)

	page, err := c.ListProducts(context.Background(), query.DefaultFilter(), 12)
	if err != nil {
		t.Fatalf("ListProducts() error = %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(page.Items))
	}

	p := page.Items[0]
	if p.Name != "Kiondo basket" {
		t.Errorf("Name = %q", p.Name)
	}
	if p.Price.String() != "1499.5" {
		t.Errorf("Price = %s, want 1499.5", p.Price)
	}
	if p.ImageURL != "https://cdn.example.com/a.jpg" {
		t.Errorf("ImageURL = %q, want images[0]", p.ImageURL)
	}
	if p.MerchantID != "m1" || p.MerchantName != "Mama Pima Crafts" {
		t.Errorf("merchant = %q/%q", p.MerchantID, p.MerchantName)
	}
}

func TestListProducts_MissingPagination(t *testing.T) {
	backend := newBackend(t)
	backend.SetHandler("/products", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[{"_id":"a"},{"_id":"b"}]}`)
	})
	c := newTestClient(t, backend)

	page, err := c.ListProducts(context.Background(), query.DefaultFilter().WithPage(2), 12)
	if err != nil {
		t.Fatalf("ListProducts() error = %v", err)
	}
	if page.Total != 14 {
		t.Errorf("Total = %d, want 14", page.Total)
	}
}

func TestListMerchants(t *testing.T) {
	backend := newBackend(t)
	backend.SetMerchants([]testutil.Merchant{
		{ID: "m1", BusinessName: "Jua Kali Metalworks", Category: "Hardware", Location: "Gikomba", IsVerified: true},
		{ID: "m2", BusinessName: "Mama Mboga Fresh", Category: "Food", Location: "Kawangware"},
	})
	c := newTestClient(t, backend)

	page, err := c.ListMerchants(context.Background(), query.DefaultFilter().WithCategory("Food"), query.BrowserPageSize)
	if err != nil {
		t.Fatalf("ListMerchants() error = %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("page = %+v", page)
	}
	if page.Items[0].BusinessName != "Mama Mboga Fresh" {
		t.Errorf("BusinessName = %q", page.Items[0].BusinessName)
	}
	if backend.LastQuery()["limit"] != "24" {
		t.Errorf("limit = %q, want 24", backend.LastQuery()["limit"])
	}
}

func TestDo_CacheHit(t *testing.T) {
	backend := newBackend(t)
	backend.SetResponse("/products", testutil.NewHealthyResponse(`{"data":[],"pagination":{"total":0}}`))
	c := newTestClient(t, backend)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.ListProducts(ctx, query.DefaultFilter(), 12); err != nil {
			t.Fatalf("ListProducts() #%d error = %v", i, err)
		}
	}

	if got := backend.RequestCount(); got != 1 {
		t.Errorf("backend requests = %d, want 1 (fresh entry served from cache)", got)
	}
}

func TestDo_Handle304NotModified(t *testing.T) {
	backend := newBackend(t)
	body := `{"data":[{"_id":"p1","name":"Sufuria"}],"pagination":{"total":1}}`
	backend.SetHandler("/products", testutil.NewConditionalHandler(`"v1"`, body))
	c := newTestClient(t, backend)
	ctx := context.Background()

	first, err := c.ListProducts(ctx, query.DefaultFilter(), 12)
	if err != nil {
		t.Fatalf("first ListProducts() error = %v", err)
	}

	second, err := c.ListProducts(ctx, query.DefaultFilter(), 12)
	if err != nil {
		t.Fatalf("second ListProducts() error = %v", err)
	}

	if backend.ConditionalCount() != 1 {
		t.Errorf("conditional requests = %d, want 1", backend.ConditionalCount())
	}
	if len(second.Items) != 1 || second.Items[0].Name != first.Items[0].Name {
		t.Errorf("304 was not served from cache: %+v", second)
	}
}

func TestDo_RetryOnServerError(t *testing.T) {
	backend := newBackend(t)
	backend.FailNext("/products", http.StatusInternalServerError, http.StatusBadGateway)
	c := newTestClient(t, backend)

	if _, err := c.ListProducts(context.Background(), query.DefaultFilter(), 12); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := backend.RequestCount(); got != 3 {
		t.Errorf("backend requests = %d, want 3", got)
	}
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	backend := newBackend(t)
	backend.FailNext("/products", http.StatusNotFound)
	c := newTestClient(t, backend)

	_, err := c.ListProducts(context.Background(), query.DefaultFilter(), 12)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Class != ErrorClassClient || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("APIError = %+v", apiErr)
	}
	if apiErr.Message != "injected failure 404" {
		t.Errorf("Message = %q, want the body's message", apiErr.Message)
	}
	if got := backend.RequestCount(); got != 1 {
		t.Errorf("backend requests = %d, want 1", got)
	}
}

func TestDo_RetryOnRateLimit(t *testing.T) {
	backend := newBackend(t)
	backend.FailNext("/products", http.StatusTooManyRequests)
	c := newTestClient(t, backend)

	if _, err := c.ListProducts(context.Background(), query.DefaultFilter(), 12); err != nil {
		t.Fatalf("expected success after 429 retry, got %v", err)
	}
	if got := backend.RequestCount(); got != 2 {
		t.Errorf("backend requests = %d, want 2", got)
	}
}

func TestDo_RetryExhausted(t *testing.T) {
	backend := newBackend(t)
	backend.FailNext("/products", 500, 500, 500)
	c := newTestClient(t, backend)

	_, err := c.ListProducts(context.Background(), query.DefaultFilter(), 12)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
	if ClassOf(err) != ErrorClassServer {
		t.Errorf("ClassOf() = %q, want server", ClassOf(err))
	}
}

func TestDo_PersistentServerError(t *testing.T) {
	backend := newBackend(t)
	backend.SetResponse("/products", testutil.NewServerErrorResponse())
	c := newTestClient(t, backend)
	ctx := context.Background()

	for round := 1; round <= 2; round++ {
		_, err := c.ListProducts(ctx, query.DefaultFilter(), 12)
		if !errors.Is(err, ErrRetryExhausted) {
			t.Fatalf("round %d: expected ErrRetryExhausted, got %v", round, err)
		}
		// Failures are never cached.
		if got := backend.RequestCount(); got != 3 {
			t.Errorf("round %d: backend requests = %d, want 3", round, got)
		}
		backend.Reset()
	}
}

func TestDo_RateLimitResponseBlocksFollowUp(t *testing.T) {
	backend := newBackend(t)
	backend.SetResponse("/products", testutil.NewRateLimitResponse(30))

	cfg := DefaultConfig(backend.URL(), "nvcatalog-test/1.0 (dev@example.com)")
	cfg.MaxRetries = 0
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()

	_, err = c.ListProducts(ctx, query.DefaultFilter(), 12)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError in chain, got %T", err)
	}
	if apiErr.Class != ErrorClassRateLimit {
		t.Errorf("Class = %q, want rate_limit", apiErr.Class)
	}
	if apiErr.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", apiErr.RetryAfter)
	}

	_, err = c.ListProducts(ctx, query.DefaultFilter(), 12)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after 429, got %v", err)
	}
	if got := backend.RequestCount(); got != 1 {
		t.Errorf("backend requests = %d, want 1", got)
	}
}

func TestDo_RateLimitBlock(t *testing.T) {
	backend := newBackend(t)
	c := newTestClient(t, backend)
	ctx := context.Background()

	headers := http.Header{}
	headers.Set(ratelimit.HeaderRetryAfter, "30")
	if err := c.RateLimiter().UpdateFromResponse(ctx, http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	_, err := c.ListProducts(ctx, query.DefaultFilter(), 12)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if backend.RequestCount() != 0 {
		t.Errorf("blocked request reached the backend")
	}
}

func TestDo_CancelledContext(t *testing.T) {
	backend := newBackend(t)
	backend.SetDelay(time.Second)
	c := newTestClient(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.ListProducts(ctx, query.DefaultFilter(), 12)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("expected ErrContextCancelled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("cancellation took %v", elapsed)
	}
}

func TestDo_DecodeError(t *testing.T) {
	backend := newBackend(t)
	backend.SetResponse("/products", testutil.MockResponse{StatusCode: 200, Body: "<html>maintenance</html>"})
	c := newTestClient(t, backend)

	_, err := c.ListProducts(context.Background(), query.DefaultFilter(), 12)
	if ClassOf(err) != ErrorClassDecode {
		t.Fatalf("ClassOf() = %q, want decode (err %v)", ClassOf(err), err)
	}
}

func TestURL(t *testing.T) {
	c, err := New(DefaultConfig("https://api.example.com/api/", "TestApp/1.0"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := c.URL("/products", query.Params(query.DefaultFilter(), 12))
	want := "https://api.example.com/api/products?limit=12&page=1"
	if got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}
