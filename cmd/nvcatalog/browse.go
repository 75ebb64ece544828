package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nairobi-verified/marketplace-client/pkg/browse"
	"github.com/nairobi-verified/marketplace-client/pkg/fetch"
	"github.com/nairobi-verified/marketplace-client/pkg/query"
	"github.com/spf13/cobra"
)

const browseHelp = `Type to search. Commands:
  /cat NAME       filter by category (/cat alone clears it)
  /price MIN MAX  filter by price in KES
  /more           load the next page
  /retry          retry after a failure
  /clear          reset every filter
  /quit           exit`

func newBrowseCmd(a *app) *cobra.Command {
	var (
		kind     string
		limit    int
		debounce time.Duration
		syncMode bool
	)

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Search and filter a list interactively",
		Long:  "browse reads one edit per line from stdin and prints the list as it settles.\n\n" + browseHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pageSize := a.cfg.Browse.PageSize
			if limit != 0 {
				if !query.ValidPageSize(limit) {
					return errInvalidLimit(limit)
				}
				pageSize = limit
			}
			if debounce <= 0 {
				debounce = a.cfg.Browse.Debounce
			}

			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			s := browseSession{
				in:        cmd.InOrStdin(),
				out:       cmd.OutOrStdout(),
				pageSize:  pageSize,
				debounce:  debounce,
				timeout:   a.cfg.Browse.FetchTimeout,
				syncEdits: syncMode,
			}
			logger := a.logger

			switch kind {
			case "products":
				return runBrowse(cmd.Context(), s, c.ListProducts, browse.Options[query.Product]{Label: "products", Logger: &logger}, formatProduct)
			case "merchants":
				return runBrowse(cmd.Context(), s, c.ListMerchants, browse.Options[query.Merchant]{Label: "merchants", Logger: &logger}, formatMerchant)
			default:
				return fmt.Errorf("unknown list %q (want products or merchants)", kind)
			}
		},
	}

	cmd.Flags().StringVar(&kind, "list", "products", "products or merchants")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size, 12 or 24 (default from config)")
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before an edit is fetched (default from config)")
	cmd.Flags().BoolVar(&syncMode, "sync", false, "wait for each edit to settle before reading the next line")
	return cmd
}

type browseSession struct {
	in        io.Reader
	out       io.Writer
	pageSize  int
	debounce  time.Duration
	timeout   time.Duration
	syncEdits bool
}

func runBrowse[T any](ctx context.Context, s browseSession, fn fetch.FetchFunc[T], opts browse.Options[T], format func(T) string) error {
	r := &renderer[T]{out: s.out, format: format, label: opts.Label}

	opts.PageSize = s.pageSize
	opts.Debounce = s.debounce
	opts.Timeout = s.timeout
	opts.OnChange = r.render
	opts.Notifier = browse.NotifierFunc(r.notify)

	ctrl := browse.New(fn, opts)
	defer ctrl.Close()

	r.println(browseHelp)
	ctrl.Start(ctx)
	if s.syncEdits {
		waitSettled(ctx, ctrl)
	}

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				waitSettled(ctx, ctrl)
				return nil
			}
			if quit := handleLine(ctrl, r, line); quit {
				return nil
			}
			if s.syncEdits {
				waitSettled(ctx, ctrl)
			}
		}
	}
}

// handleLine applies one line of input and reports whether to exit.
func handleLine[T any](ctrl *browse.Controller[T], r *renderer[T], line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
	case "/quit", "/exit":
		return true
	case "/help":
		r.println(browseHelp)
	case "/cat":
		ctrl.SetCategory(arg)
	case "/price":
		minPrice, maxPrice, err := parsePriceRange(arg)
		if err != nil {
			r.println("  " + err.Error())
			break
		}
		ctrl.SetPriceRange(minPrice, maxPrice)
	case "/more":
		if !ctrl.LoadMore() {
			r.println("  nothing more to load")
		}
	case "/retry":
		ctrl.Retry()
	case "/clear":
		ctrl.SetFilter(query.DefaultFilter())
	default:
		// Anything else is the new search text.
		ctrl.SetSearch(line)
	}
	return false
}

func parsePriceRange(arg string) (int64, int64, error) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("usage: /price MIN MAX")
	}
	minPrice, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minimum price %q", fields[0])
	}
	maxPrice, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid maximum price %q", fields[1])
	}
	return minPrice, maxPrice, nil
}

// waitSettled blocks until the controller is neither debouncing nor fetching.
func waitSettled[T any](ctx context.Context, ctrl *browse.Controller[T]) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch ctrl.Snapshot().Status {
		case browse.StatusDebouncing, browse.StatusFetching:
		default:
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// renderer prints controller states as they arrive. Appended pages print
// only their new rows.
type renderer[T any] struct {
	mu     sync.Mutex
	out    io.Writer
	format func(T) string
	label  string

	shown   int
	filter  *query.FilterState
	hint    string
	loading bool
}

func (r *renderer[T]) println(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, s)
}

func (r *renderer[T]) notify(n browse.Notification) {
	r.println("! " + n.Message)
}

func (r *renderer[T]) render(s browse.State[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Hint != r.hint {
		r.hint = s.Hint
		if s.Hint != "" {
			fmt.Fprintf(r.out, "  (%s)\n", s.Hint)
		}
	}

	loading := s.Loading || s.LoadingMore
	if loading && !r.loading {
		if s.LoadingMore {
			fmt.Fprintln(r.out, "  loading more...")
		} else {
			fmt.Fprintln(r.out, "  loading...")
		}
	}
	r.loading = loading

	switch s.Status {
	case browse.StatusSettled:
		r.settled(s)
	case browse.StatusError:
		if len(s.Items) == 0 {
			r.shown = 0
			r.filter = nil
		}
	}
}

func (r *renderer[T]) settled(s browse.State[T]) {
	same := r.filter != nil && query.SameQuery(*r.filter, s.Filter)
	if same && len(s.Items) == r.shown {
		return
	}

	start := 0
	if same && len(s.Items) > r.shown {
		start = r.shown
	} else {
		fmt.Fprintf(r.out, "== %d %s%s\n", s.Total, r.label, describe(s.Filter))
		if len(s.Items) == 0 {
			fmt.Fprintf(r.out, "  no %s found\n", r.label)
		}
	}

	for i := start; i < len(s.Items); i++ {
		fmt.Fprintf(r.out, "%4d. %s\n", i+1, r.format(s.Items[i]))
	}
	if s.HasMore {
		fmt.Fprintf(r.out, "  showing %d of %d, /more for the next page\n", len(s.Items), s.Total)
	}

	f := s.Filter
	r.filter = &f
	r.shown = len(s.Items)
}

func describe(f query.FilterState) string {
	var parts []string
	if s := f.EffectiveSearch(); s != "" {
		parts = append(parts, fmt.Sprintf("matching %q", s))
	}
	if params := query.Params(f, 0); params.Has(query.ParamCategory) {
		parts = append(parts, "in "+params.Get(query.ParamCategory))
	}
	if f.MinPrice > query.PriceFloor || f.MaxPrice < query.PriceCeiling {
		parts = append(parts, fmt.Sprintf("priced KES %d-%d", f.MinPrice, f.MaxPrice))
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, " ")
}

func formatProduct(p query.Product) string {
	line := fmt.Sprintf("%s  KES %s", p.Name, p.Price.StringFixed(2))
	if p.MerchantName != "" {
		line += "  (" + p.MerchantName + ")"
	}
	return line
}

func formatMerchant(m query.Merchant) string {
	line := m.BusinessName
	if m.Location != "" {
		line += ", " + m.Location
	}
	if m.Verified {
		line += "  [verified]"
	}
	return line
}
