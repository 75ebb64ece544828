package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/nairobi-verified/marketplace-client/pkg/fetch"
	"github.com/nairobi-verified/marketplace-client/pkg/query"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config holds collector configuration.
type Config struct {
	// MaxConcurrency is the maximum number of pages fetched in parallel.
	MaxConcurrency int
	// Timeout per page fetch
	Timeout time.Duration
	// PageSize is the limit sent with every page request.
	PageSize int
	// MaxPages caps how many pages a single Collect may request.
	MaxPages int
}

// DefaultConfig returns a configuration that stays well below the backend's
// rate limit.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
		PageSize:       query.BrowserPageSize,
		MaxPages:       200,
	}
}

// Collector fetches every page of a filtered list.
type Collector[T any] struct {
	fetch  fetch.FetchFunc[T]
	config Config
}

// NewCollector creates a collector around fn.
func NewCollector[T any](fn fetch.FetchFunc[T], config Config) *Collector[T] {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.PageSize <= 0 {
		config.PageSize = query.BrowserPageSize
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 200
	}

	return &Collector[T]{
		fetch:  fn,
		config: config,
	}
}

// PageCount returns how many pages hold total items at pageSize per page.
func PageCount(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// Collect returns all items matching f, in page order. f.Page is ignored.
func (c *Collector[T]) Collect(ctx context.Context, f query.FilterState) ([]T, error) {
	start := time.Now()
	f = f.WithPage(1)

	first, err := c.fetchPage(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}

	totalPages := PageCount(first.Total, c.config.PageSize)
	if totalPages > c.config.MaxPages {
		log.Warn().
			Int("total_pages", totalPages).
			Int("max_pages", c.config.MaxPages).
			Msg("Result set truncated to page limit")
		totalPages = c.config.MaxPages
	}

	log.Info().
		Int("total", first.Total).
		Int("total_pages", totalPages).
		Msg("Starting parallel page collection")

	// Single page, or a short first page that already ended the list.
	if totalPages <= 1 || !first.Full() {
		return first.Items, nil
	}

	pages := make([][]T, totalPages)
	pages[0] = first.Items
	done := make([]bool, totalPages)
	done[0] = true

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrency)

	for p := 2; p <= totalPages; p++ {
		p := p
		g.Go(func() error {
			page, err := c.fetchPage(gctx, f.WithPage(p))
			if err != nil {
				log.Warn().Err(err).Int("page", p).Msg("Page fetch failed")
				return err
			}
			pages[p-1] = page.Items
			done[p-1] = true
			return nil
		})
	}
	groupErr := g.Wait()

	var items []T
	fetched := 0
	// Pages are kept only up to the first one that did not arrive.
	for i, page := range pages {
		if !done[i] {
			break
		}
		items = append(items, page...)
		fetched++
	}

	if groupErr != nil {
		log.Warn().
			Err(groupErr).
			Int("fetched_pages", fetched).
			Int("total_pages", totalPages).
			Msg("Returning partial results")
		return items, fmt.Errorf("collect (partial data: %d/%d pages): %w", fetched, totalPages, groupErr)
	}

	log.Info().
		Int("pages", fetched).
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Collection complete")

	return items, nil
}

func (c *Collector[T]) fetchPage(ctx context.Context, f query.FilterState) (query.ResultPage[T], error) {
	pageCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	page, err := c.fetch(pageCtx, f, c.config.PageSize)
	if err != nil {
		return page, err
	}
	if page.PageSize == 0 {
		page.PageSize = c.config.PageSize
	}
	return page, nil
}
