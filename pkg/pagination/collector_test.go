package pagination

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nairobi-verified/marketplace-client/pkg/query"
)

// catalog serves n sequential integers in pages.
func catalog(n int) func(ctx context.Context, f query.FilterState, pageSize int) (query.ResultPage[int], error) {
	return func(ctx context.Context, f query.FilterState, pageSize int) (query.ResultPage[int], error) {
		start := (f.Page - 1) * pageSize
		var items []int
		for i := start; i < start+pageSize && i < n; i++ {
			items = append(items, i)
		}
		return query.ResultPage[int]{Items: items, Total: n, PageSize: pageSize}, nil
	}
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestPageCount(t *testing.T) {
	tests := []struct {
		total, size, want int
	}{
		{0, 12, 0},
		{1, 12, 1},
		{12, 12, 1},
		{13, 12, 2},
		{100, 24, 5},
		{10, 0, 0},
	}
	for _, tt := range tests {
		if got := PageCount(tt.total, tt.size); got != tt.want {
			t.Errorf("PageCount(%d, %d) = %d, want %d", tt.total, tt.size, got, tt.want)
		}
	}
}

func TestCollector_AllPagesInOrder(t *testing.T) {
	c := NewCollector(catalog(53), Config{MaxConcurrency: 3, PageSize: 10})

	items, err := c.Collect(context.Background(), query.DefaultFilter())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if diff := cmp.Diff(seq(53), items); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
}

func TestCollector_SinglePage(t *testing.T) {
	var calls int32
	fn := catalog(5)
	c := NewCollector(func(ctx context.Context, f query.FilterState, pageSize int) (query.ResultPage[int], error) {
		atomic.AddInt32(&calls, 1)
		return fn(ctx, f, pageSize)
	}, Config{PageSize: 10})

	items, err := c.Collect(context.Background(), query.DefaultFilter().WithPage(7))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(items) != 5 {
		t.Errorf("len(items) = %d, want 5", len(items))
	}
	if calls != 1 {
		t.Errorf("expected 1 request, got %d", calls)
	}
}

func TestCollector_RespectsConcurrency(t *testing.T) {
	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	fn := catalog(100)
	c := NewCollector(func(ctx context.Context, f query.FilterState, pageSize int) (query.ResultPage[int], error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return fn(ctx, f, pageSize)
	}, Config{MaxConcurrency: 2, PageSize: 10})

	if _, err := c.Collect(context.Background(), query.DefaultFilter()); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestCollector_PartialFailure(t *testing.T) {
	boom := errors.New("page 3 unavailable")
	fn := catalog(50)
	c := NewCollector(func(ctx context.Context, f query.FilterState, pageSize int) (query.ResultPage[int], error) {
		if f.Page == 3 {
			return query.ResultPage[int]{}, boom
		}
		return fn(ctx, f, pageSize)
	}, Config{MaxConcurrency: 1, PageSize: 10})

	items, err := c.Collect(context.Background(), query.DefaultFilter())
	if !errors.Is(err, boom) {
		t.Fatalf("Collect() error = %v, want %v", err, boom)
	}
	if diff := cmp.Diff(seq(20), items); diff != "" {
		t.Errorf("partial items should be the pages before the failure (-want +got):\n%s", diff)
	}
}

func TestCollector_FirstPageFailure(t *testing.T) {
	c := NewCollector(func(ctx context.Context, f query.FilterState, pageSize int) (query.ResultPage[int], error) {
		return query.ResultPage[int]{}, errors.New("down")
	}, DefaultConfig())

	items, err := c.Collect(context.Background(), query.DefaultFilter())
	if err == nil {
		t.Fatal("expected error")
	}
	if items != nil {
		t.Errorf("expected no items, got %v", items)
	}
}

func TestCollector_MaxPages(t *testing.T) {
	c := NewCollector(catalog(1000), Config{PageSize: 10, MaxPages: 3})

	items, err := c.Collect(context.Background(), query.DefaultFilter())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(items) != 30 {
		t.Errorf("len(items) = %d, want 30", len(items))
	}
}

func TestCollector_EmptyMiddlePageKeepsLaterPages(t *testing.T) {
	full := catalog(30)
	fn := func(ctx context.Context, f query.FilterState, pageSize int) (query.ResultPage[int], error) {
		if f.Page == 2 {
			// Rows removed between requests: a successful page with nil items.
			return query.ResultPage[int]{Total: 30, PageSize: pageSize}, nil
		}
		return full(ctx, f, pageSize)
	}
	c := NewCollector(fn, Config{MaxConcurrency: 2, PageSize: 10})

	items, err := c.Collect(context.Background(), query.DefaultFilter())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	want := append(seq(10), 20, 21, 22, 23, 24, 25, 26, 27, 28, 29)
	if diff := cmp.Diff(want, items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}
