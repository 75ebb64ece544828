// Package fetch issues list requests so that at most one is live at a time
// and only the newest result is ever reported as usable.
package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nairobi-verified/marketplace-client/pkg/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	dispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_dispatches_total",
		Help: "List fetches dispatched by outcome",
	}, []string{"label", "outcome"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketplace_dispatch_duration_seconds",
		Help:    "Duration of dispatched list fetches, including cancelled ones",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
	}, []string{"label"})
)

// DefaultTimeout bounds a single fetch when Options.Timeout is not set.
const DefaultTimeout = 15 * time.Second

// FetchFunc loads one page for a filter. Implementations must honour ctx.
type FetchFunc[T any] func(ctx context.Context, f query.FilterState, pageSize int) (query.ResultPage[T], error)

// Kind classifies how a dispatched fetch ended.
type Kind string

const (
	// OutcomeOK means the fetch succeeded and is still the newest one.
	OutcomeOK Kind = "ok"

	// OutcomeCanceled means a newer dispatch or Cancel aborted the fetch.
	OutcomeCanceled Kind = "canceled"

	// OutcomeStale means the fetch finished but a newer one had been issued
	// meanwhile. Its result must be discarded.
	OutcomeStale Kind = "stale"

	// OutcomeFailed means the fetch failed for any other reason.
	OutcomeFailed Kind = "failed"
)

// Request describes one fetch.
type Request struct {
	Filter query.FilterState
	Append bool
}

// Outcome is the result of Dispatch.
type Outcome[T any] struct {
	Seq      uint64
	Kind     Kind
	Request  Request
	Page     query.ResultPage[T]
	Err      error
	Duration time.Duration
}

// Usable reports whether the outcome may be applied to visible state.
func (o Outcome[T]) Usable() bool {
	return o.Kind == OutcomeOK
}

// Silent reports whether the outcome must be dropped without telling the user.
func (o Outcome[T]) Silent() bool {
	return o.Kind == OutcomeCanceled || o.Kind == OutcomeStale
}

// Options configures a Dispatcher.
type Options struct {
	PageSize int
	Timeout  time.Duration
	Label    string
	Logger   zerolog.Logger
}

// Dispatcher runs fetches, cancelling the previous one before each new one.
type Dispatcher[T any] struct {
	fn   FetchFunc[T]
	opts Options

	mu       sync.Mutex
	seq      uint64
	cancel   context.CancelFunc
	liveSeq  uint64
	inFlight bool
}

// New creates a dispatcher for fn.
func New[T any](fn FetchFunc[T], opts Options) *Dispatcher[T] {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = query.ProductGridPageSize
	}
	if opts.Label == "" {
		opts.Label = "items"
	}
	return &Dispatcher[T]{
		fn:   fn,
		opts: opts,
	}
}

// PageSize returns the page size sent with every request.
func (d *Dispatcher[T]) PageSize() int {
	return d.opts.PageSize
}

// Token is the cancellation handle of one issued fetch. Only the newest
// token is live; issuing a new one cancels the previous one.
type Token struct {
	Seq     uint64
	Request Request

	ctx    context.Context
	cancel context.CancelFunc
}

// Issue cancels the live fetch, if any, and reserves a sequence number and a
// context for req. The fetch itself starts when the token is passed to Run.
// Callers that must order fetches by the order of their own events call Issue
// while holding their lock and Run outside it.
func (d *Dispatcher[T]) Issue(parent context.Context, req Request) *Token {
	ctx, cancel := context.WithTimeout(parent, d.opts.Timeout)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		d.opts.Logger.Debug().
			Uint64("superseded_seq", d.liveSeq).
			Msg("Cancelled superseded fetch")
	}
	d.seq++
	d.cancel = cancel
	d.liveSeq = d.seq
	d.inFlight = true

	return &Token{Seq: d.seq, Request: req, ctx: ctx, cancel: cancel}
}

// Dispatch issues and runs a fetch for req, blocking until it completes, is
// cancelled or times out.
func (d *Dispatcher[T]) Dispatch(parent context.Context, req Request) Outcome[T] {
	return d.Run(d.Issue(parent, req))
}

// Run performs the fetch reserved by t and classifies how it ended.
func (d *Dispatcher[T]) Run(t *Token) Outcome[T] {
	ctx, req, seq := t.ctx, t.Request, t.Seq

	start := time.Now()
	page, err := d.fn(ctx, req.Filter, d.opts.PageSize)
	elapsed := time.Since(start)

	// Read the cancellation cause before releasing our own context.
	canceled := errors.Is(ctx.Err(), context.Canceled)
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	d.mu.Lock()
	latest := seq == d.seq
	if latest {
		d.cancel = nil
		d.inFlight = false
	}
	d.mu.Unlock()
	t.cancel()

	out := Outcome[T]{
		Seq:      seq,
		Request:  req,
		Page:     page,
		Err:      err,
		Duration: elapsed,
	}

	switch {
	case !latest && (err != nil || canceled):
		out.Kind = OutcomeCanceled
	case !latest:
		out.Kind = OutcomeStale
	case err != nil && canceled:
		out.Kind = OutcomeCanceled
	case err != nil && errors.Is(err, context.Canceled) && !timedOut:
		out.Kind = OutcomeCanceled
	case err != nil:
		out.Kind = OutcomeFailed
	default:
		out.Kind = OutcomeOK
		if out.Page.PageSize == 0 {
			out.Page.PageSize = d.opts.PageSize
		}
	}

	if out.Kind != OutcomeOK {
		out.Page = query.ResultPage[T]{}
	}

	dispatchesTotal.WithLabelValues(d.opts.Label, string(out.Kind)).Inc()
	dispatchDuration.WithLabelValues(d.opts.Label).Observe(elapsed.Seconds())

	d.opts.Logger.Debug().
		Uint64("seq", seq).
		Str("outcome", string(out.Kind)).
		Int("page", req.Filter.Page).
		Bool("append", req.Append).
		Dur("duration", elapsed).
		Msg("Fetch settled")

	return out
}

// Cancel aborts the live fetch, if any. Its Dispatch call reports OutcomeCanceled.
func (d *Dispatcher[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	// Bumping the sequence makes the aborted fetch non-latest even if its
	// FetchFunc ignores ctx and returns a result anyway.
	d.seq++
	d.inFlight = false
}

// IsLatest reports whether seq is the most recently issued sequence number.
func (d *Dispatcher[T]) IsLatest(seq uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return seq == d.seq
}

// InFlight reports whether the newest fetch is still running. It turns false
// as soon as the FetchFunc returns, before the caller has used the result.
func (d *Dispatcher[T]) InFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// Live returns the number of fetches that are neither cancelled nor resolved.
// It is never more than one.
func (d *Dispatcher[T]) Live() int {
	if d.InFlight() {
		return 1
	}
	return 0
}

// ShowLoading reports whether a loading indicator should be shown while f is
// being fetched. Sub-threshold typed searches are fetched quietly.
func ShowLoading(f query.FilterState) bool {
	return !query.SearchTooShort(f.Search)
}
