// Package browse turns filter edits into debounced, cancellable, paginated
// list fetches and keeps the resulting list ready for rendering.
package browse

import (
	"context"
	"sync"
	"time"

	"github.com/nairobi-verified/marketplace-client/pkg/debounce"
	"github.com/nairobi-verified/marketplace-client/pkg/fetch"
	"github.com/nairobi-verified/marketplace-client/pkg/pagination"
	"github.com/nairobi-verified/marketplace-client/pkg/query"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is the quiet period applied to filter edits.
const DefaultDebounce = 400 * time.Millisecond

// Options configures a Controller.
type Options[T any] struct {
	// PageSize is the limit sent with every page request.
	PageSize int

	// Debounce is the quiet period before a filter edit is fetched.
	Debounce time.Duration

	// Timeout bounds a single fetch.
	Timeout time.Duration

	// Label names the list in notifications ("products", "merchants").
	Label string

	// Initial is the filter used by the first load. Zero means DefaultFilter.
	Initial *query.FilterState

	// Notifier receives failure notifications. Defaults to logging them.
	Notifier Notifier

	// OnChange receives new states. Calls are serialized and a state older
	// than one already delivered is never delivered. OnChange must not call
	// back into the Controller.
	OnChange func(State[T])

	// Logger defaults to the global logger with a browse component.
	Logger *zerolog.Logger
}

// Controller owns the filter, the live request and the accumulated list of
// one paginated view.
type Controller[T any] struct {
	opts       Options[T]
	logger     zerolog.Logger
	dispatcher *fetch.Dispatcher[T]
	debouncer  *debounce.Debouncer[query.FilterState]

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	acc         pagination.Accumulator[T]
	filter      query.FilterState
	settled     *query.FilterState
	lastReq     *fetch.Request
	liveSeq     uint64
	fetching    bool
	status      Status
	loading     bool
	loadingMore bool
	err         error
	message     string
	hint        string
	version     uint64
	started     bool
	closed      bool
	wg          sync.WaitGroup

	deliverMu sync.Mutex
	delivered uint64
}

// New creates a controller that loads pages with fn.
func New[T any](fn fetch.FetchFunc[T], opts Options[T]) *Controller[T] {
	if opts.PageSize <= 0 {
		opts.PageSize = query.ProductGridPageSize
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Label == "" {
		opts.Label = "items"
	}

	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = log.With().Str("component", "browse").Logger()
	}
	logger = logger.With().Str("list", opts.Label).Logger()

	if opts.Notifier == nil {
		opts.Notifier = logNotifier(logger)
	}

	filter := query.DefaultFilter()
	if opts.Initial != nil {
		filter = opts.Initial.Normalize()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller[T]{
		opts:   opts,
		logger: logger,
		dispatcher: fetch.New(fn, fetch.Options{
			PageSize: opts.PageSize,
			Timeout:  opts.Timeout,
			Label:    opts.Label,
			Logger:   logger,
		}),
		ctx:    ctx,
		cancel: cancel,
		filter: filter,
		status: StatusIdle,
	}
	c.debouncer = debounce.New(opts.Debounce, c.onQuiet)
	return c
}

// Start performs the first load immediately. Fetches are bound to ctx from
// now on. Calling Start again is a no-op.
func (c *Controller[T]) Start(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.debouncer.Cancel()
	c.filter = c.filter.WithPage(1)
	snap := c.startLocked(fetch.Request{Filter: c.filter})
	c.mu.Unlock()

	c.emit(snap)
}

// SetSearch updates the search text.
func (c *Controller[T]) SetSearch(search string) {
	c.update(func(f query.FilterState) query.FilterState { return f.WithSearch(search) })
}

// SetCategory updates the category. Empty means all categories.
func (c *Controller[T]) SetCategory(category string) {
	c.update(func(f query.FilterState) query.FilterState { return f.WithCategory(category) })
}

// SetPriceRange updates the price bounds.
func (c *Controller[T]) SetPriceRange(minPrice, maxPrice int64) {
	c.update(func(f query.FilterState) query.FilterState { return f.WithPriceRange(minPrice, maxPrice) })
}

// SetFilter replaces every filter field at once. The page is reset to 1.
func (c *Controller[T]) SetFilter(f query.FilterState) {
	c.update(func(query.FilterState) query.FilterState { return f.WithPage(1) })
}

// update applies a filter edit: the live fetch is cancelled at once and a new
// quiet period starts.
func (c *Controller[T]) update(edit func(query.FilterState) query.FilterState) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	next := edit(c.filter).Normalize().WithPage(1)
	if next == c.filter.WithPage(1) {
		c.mu.Unlock()
		return
	}
	c.filter = next

	// The fetch counts as live until apply has folded it in, even after the
	// dispatcher has seen it return.
	if c.fetching {
		c.dispatcher.Cancel()
		c.fetching = false
		c.logger.Debug().Msg("Filter changed mid-fetch, request cancelled")
	}
	c.loading = false
	c.loadingMore = false
	c.hint = hintFor(next)
	c.status = StatusDebouncing
	// Set under c.mu so the debouncer always holds the newest filter.
	c.debouncer.Set(next)
	snap := c.touchLocked()
	c.mu.Unlock()

	c.emit(snap)
}

// onQuiet runs when a filter edit has been stable for the debounce period.
func (c *Controller[T]) onQuiet(f query.FilterState) {
	c.mu.Lock()
	if c.closed || f != c.filter {
		c.mu.Unlock()
		return
	}

	// The edit does not change what would be sent, e.g. a search that is
	// still too short. Keep the visible list and issue nothing.
	if c.settled != nil && query.SameQuery(*c.settled, f) {
		c.filter = f.WithPage(c.settled.Page)
		c.status = c.restingStatus()
		snap := c.touchLocked()
		c.mu.Unlock()

		c.logger.Debug().Msg("Effective query unchanged, no request issued")
		c.emit(snap)
		return
	}

	snap := c.startLocked(fetch.Request{Filter: f})
	c.mu.Unlock()
	c.emit(snap)
}

// LoadMore fetches the next page of the visible list and appends it.
// It reports whether a fetch was started.
func (c *Controller[T]) LoadMore() bool {
	c.mu.Lock()
	if c.closed || c.settled == nil || !c.acc.HasMore() ||
		c.status == StatusDebouncing || c.fetching {
		c.mu.Unlock()
		return false
	}

	next := c.settled.WithPage(c.settled.Page + 1)
	snap := c.startLocked(fetch.Request{Filter: next, Append: true})
	c.mu.Unlock()

	c.emit(snap)
	return true
}

// Retry re-issues the last request when it still matches the current
// filter, and otherwise loads the first page of the current filter.
func (c *Controller[T]) Retry() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}

	c.debouncer.Cancel()
	req := fetch.Request{Filter: c.filter.WithPage(1)}
	if c.lastReq != nil && query.SameQuery(c.lastReq.Filter, c.filter) {
		req = *c.lastReq
	}
	snap := c.startLocked(req)
	c.mu.Unlock()

	c.emit(snap)
	return true
}

// Snapshot returns the current state.
func (c *Controller[T]) Snapshot() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close cancels the pending edit and the live fetch, and waits for running
// fetches to return. The controller ignores every later call.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.fetching = false
	c.debouncer.Stop()
	c.dispatcher.Cancel()
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
}

// startLocked issues a fetch for req and runs it in the background.
func (c *Controller[T]) startLocked(req fetch.Request) State[T] {
	reqCopy := req
	c.lastReq = &reqCopy

	c.status = StatusFetching
	c.err = nil
	c.message = ""
	if req.Append {
		c.loadingMore = true
		c.loading = false
	} else {
		c.loading = fetch.ShowLoading(req.Filter)
		c.loadingMore = false
	}

	token := c.dispatcher.Issue(c.ctx, req)
	c.liveSeq = token.Seq
	c.fetching = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.apply(c.dispatcher.Run(token))
	}()

	c.logger.Debug().
		Uint64("seq", token.Seq).
		Int("page", req.Filter.Page).
		Bool("append", req.Append).
		Msg("Fetch issued")

	return c.touchLocked()
}

// apply folds a finished fetch into the visible state.
func (c *Controller[T]) apply(out fetch.Outcome[T]) {
	c.mu.Lock()
	if c.closed || !c.fetching || out.Seq != c.liveSeq {
		c.mu.Unlock()
		return
	}
	c.fetching = false
	c.loading = false
	c.loadingMore = false

	// Cancelled from outside, e.g. the context passed to Start ended.
	if out.Silent() || !c.dispatcher.IsLatest(out.Seq) {
		c.status = c.restingStatus()
		snap := c.touchLocked()
		c.mu.Unlock()
		c.emit(snap)
		return
	}

	req := out.Request

	if out.Usable() {
		c.acc.Apply(out.Page, req.Append)
		settled := req.Filter
		c.settled = &settled
		if query.SameQuery(c.filter, settled) {
			c.filter = c.filter.WithPage(settled.Page)
		}
		c.status = StatusSettled
		c.err = nil
		c.message = ""
		snap := c.touchLocked()
		c.mu.Unlock()

		c.emit(snap)
		return
	}

	// Failed. A failed "load more" keeps the pages already shown.
	if !req.Append {
		c.acc.Reset()
		c.settled = nil
	}
	c.status = StatusError
	c.err = out.Err
	c.message = FailureMessage(c.opts.Label)
	snap := c.touchLocked()
	notifier := c.opts.Notifier
	c.mu.Unlock()

	c.logger.Error().
		Err(out.Err).
		Int("page", req.Filter.Page).
		Bool("append", req.Append).
		Msg("List fetch failed")

	notifier.Notify(Notification{
		Level:   LevelError,
		Label:   c.opts.Label,
		Message: snap.Message,
		Err:     out.Err,
	})
	c.emit(snap)
}

func (c *Controller[T]) restingStatus() Status {
	switch {
	case c.err != nil:
		return StatusError
	case c.settled != nil:
		return StatusSettled
	default:
		return StatusIdle
	}
}

// touchLocked records a change and returns the new state.
func (c *Controller[T]) touchLocked() State[T] {
	c.version++
	return c.snapshotLocked()
}

func (c *Controller[T]) snapshotLocked() State[T] {
	return State[T]{
		Status:      c.status,
		Filter:      c.filter,
		Items:       c.acc.Items(),
		Total:       c.acc.Total(),
		HasMore:     c.acc.HasMore(),
		Loading:     c.loading,
		LoadingMore: c.loadingMore,
		Err:         c.err,
		Message:     c.message,
		Hint:        c.hint,
		Version:     c.version,
	}
}

// emit delivers snap to OnChange unless a newer state was already delivered.
func (c *Controller[T]) emit(snap State[T]) {
	if c.opts.OnChange == nil {
		return
	}

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if snap.Version <= c.delivered {
		return
	}
	c.delivered = snap.Version
	c.opts.OnChange(snap)
}

func hintFor(f query.FilterState) string {
	if query.SearchTooShort(f.Search) {
		return SearchHint
	}
	return ""
}

func logNotifier(logger zerolog.Logger) Notifier {
	return NotifierFunc(func(n Notification) {
		logger.Warn().Err(n.Err).Str("level", string(n.Level)).Msg(n.Message)
	})
}
