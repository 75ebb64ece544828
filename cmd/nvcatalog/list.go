package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/nairobi-verified/marketplace-client/pkg/fetch"
	"github.com/nairobi-verified/marketplace-client/pkg/query"
	"github.com/spf13/cobra"
)

// filterFlags are the list filters shared by products, merchants and export.
type filterFlags struct {
	search   string
	category string
	minPrice int64
	maxPrice int64
	page     int
	limit    int
}

func (f *filterFlags) register(cmd *cobra.Command, withPage bool) {
	fs := cmd.Flags()
	fs.StringVarP(&f.search, "search", "s", "", "search text (at least 3 characters)")
	fs.StringVar(&f.category, "category", query.CategoryAll, "category name")
	fs.Int64Var(&f.minPrice, "min-price", query.PriceFloor, "lowest price in KES")
	fs.Int64Var(&f.maxPrice, "max-price", query.PriceCeiling, "highest price in KES")
	fs.IntVar(&f.limit, "limit", 0, "page size, 12 or 24 (default from config)")
	if withPage {
		fs.IntVar(&f.page, "page", 1, "page number")
	}
}

func (f *filterFlags) filter() query.FilterState {
	return query.DefaultFilter().
		WithSearch(f.search).
		WithCategory(f.category).
		WithPriceRange(f.minPrice, f.maxPrice).
		WithPage(f.page).
		Normalize()
}

func (f *filterFlags) pageSize(a *app) (int, error) {
	if f.limit == 0 {
		return a.cfg.Browse.PageSize, nil
	}
	if !query.ValidPageSize(f.limit) {
		return 0, errInvalidLimit(f.limit)
	}
	return f.limit, nil
}

// listResponse is the JSON shape printed by the list commands and served by
// the proxy.
type listResponse[T any] struct {
	Data       []T            `json:"data"`
	Pagination paginationInfo `json:"pagination"`
}

type paginationInfo struct {
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"hasMore"`
}

func newListResponse[T any](page query.ResultPage[T], f query.FilterState, limit int) listResponse[T] {
	items := page.Items
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{
		Data: items,
		Pagination: paginationInfo{
			Total:   page.Total,
			Page:    f.Page,
			Limit:   limit,
			HasMore: page.Full(),
		},
	}
}

func newProductsCmd(a *app) *cobra.Command {
	var flags filterFlags
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Print one page of products as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			return printPage(cmd.Context(), cmd.OutOrStdout(), a, &flags, c.ListProducts)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newMerchantsCmd(a *app) *cobra.Command {
	var flags filterFlags
	cmd := &cobra.Command{
		Use:   "merchants",
		Short: "Print one page of merchants as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			return printPage(cmd.Context(), cmd.OutOrStdout(), a, &flags, c.ListMerchants)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func printPage[T any](ctx context.Context, out io.Writer, a *app, flags *filterFlags, fn fetch.FetchFunc[T]) error {
	limit, err := flags.pageSize(a)
	if err != nil {
		return err
	}
	f := flags.filter()

	page, err := fn(ctx, f, limit)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(newListResponse(page, f, limit))
}

func errInvalidLimit(n int) error {
	return fmt.Errorf("limit must be %d or %d (got %d)", query.ProductGridPageSize, query.BrowserPageSize, n)
}
