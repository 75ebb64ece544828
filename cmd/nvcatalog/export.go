package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/nairobi-verified/marketplace-client/pkg/fetch"
	"github.com/nairobi-verified/marketplace-client/pkg/pagination"
	"github.com/nairobi-verified/marketplace-client/pkg/query"
	"github.com/spf13/cobra"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		flags       filterFlags
		kind        string
		output      string
		concurrency int
		maxPages    int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every matching product or merchant as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, err := flags.pageSize(a)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer file.Close()
				out = file
			}

			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			cfg := pagination.DefaultConfig()
			cfg.PageSize = limit
			cfg.Timeout = a.cfg.Browse.FetchTimeout
			if concurrency > 0 {
				cfg.MaxConcurrency = concurrency
			}
			if maxPages > 0 {
				cfg.MaxPages = maxPages
			}

			f := flags.filter()
			switch kind {
			case "products":
				return exportAll(cmd.Context(), out, c.ListProducts, f, cfg)
			case "merchants":
				return exportAll(cmd.Context(), out, c.ListMerchants, f, cfg)
			default:
				return fmt.Errorf("unknown list %q (want products or merchants)", kind)
			}
		},
	}

	flags.register(cmd, false)
	cmd.Flags().StringVar(&kind, "list", "products", "products or merchants")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "pages fetched in parallel")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many pages")
	return cmd
}

// exportAll writes what was collected even when some pages failed, then
// reports the failure.
func exportAll[T any](ctx context.Context, out io.Writer, fn fetch.FetchFunc[T], f query.FilterState, cfg pagination.Config) error {
	items, collectErr := pagination.NewCollector(fn, cfg).Collect(ctx, f)

	enc := json.NewEncoder(out)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("write item: %w", err)
		}
	}
	return collectErr
}
