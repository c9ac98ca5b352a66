// Package pagination drives a paged vendor history endpoint to completion.
package pagination

import (
	"context"
	"errors"

	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/models"
)

const (
	// DefaultPageSize is used when Options.PageSize is not positive.
	DefaultPageSize = 100
	// DefaultCeiling bounds cumulative items when a vendor misreports totals.
	DefaultCeiling = 10000
	// UnknownTotal marks a page whose vendor did not report a total count.
	UnknownTotal = -1
)

// Page is one decoded history page. Exactly one of Records or Sessions is populated.
// Raw is the item count the vendor returned before decoding dropped any; zero means Len.
type Page struct {
	Number   int
	Total    int
	Raw      int
	Records  []models.ProductionRecord
	Sessions []models.ChargingSession
}

// Len returns the number of items on the page.
func (p Page) Len() int {
	return len(p.Records) + len(p.Sessions)
}

// RawLen is the vendor-side item count, the unit Total is expressed in.
func (p Page) RawLen() int {
	if p.Raw > 0 {
		return p.Raw
	}
	return p.Len()
}

func (p Page) truncate(n int) Page {
	if n >= p.Len() {
		return p
	}
	if len(p.Records) > 0 {
		p.Records = p.Records[:n]
	} else {
		p.Sessions = p.Sessions[:n]
	}
	return p
}

// FetchFunc loads a single page. Pages are numbered from 1.
type FetchFunc func(ctx context.Context, page, size int) (Page, error)

// Options bounds a pagination run.
type Options struct {
	PageSize int
	Ceiling  int
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Ceiling <= 0 {
		o.Ceiling = DefaultCeiling
	}
	return o
}

// Pager walks pages lazily. It is single use: a failed walk must start again from page 1.
//
//	p := pagination.New(fetch, opts)
//	for p.Next(ctx) {
//		use(p.Page())
//	}
//	if err := p.Err(); err != nil { ... }
type Pager struct {
	fetch FetchFunc
	opts  Options

	next     int
	seen     int
	page     Page
	done     bool
	complete bool
	capped   bool
	err      error
}

// New prepares a pager; nothing is fetched until Next.
func New(fetch FetchFunc, opts Options) *Pager {
	return &Pager{fetch: fetch, opts: opts.withDefaults(), next: 1}
}

// Next fetches the following page and reports whether one is available.
func (p *Pager) Next(ctx context.Context) bool {
	if p.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		p.stop(err)
		return false
	}

	page, err := p.fetch(ctx, p.next, p.opts.PageSize)
	if err != nil {
		p.stop(err)
		return false
	}
	n := page.RawLen()
	if n == 0 {
		p.complete = true
		p.stop(nil)
		return false
	}

	if remaining := p.opts.Ceiling - p.seen; n >= remaining {
		page = page.truncate(remaining)
		n = remaining
		p.capped = totalExceeds(page, p.opts.Ceiling)
		p.complete = !p.capped
		p.done = true
	}

	page.Number = p.next
	p.seen += n
	p.next++
	p.page = page

	if !p.done && page.Total >= 0 && p.seen >= page.Total {
		p.complete = true
		p.done = true
	}
	return true
}

// totalExceeds reports whether the vendor advertised more items than limit.
// Unknown totals are assumed to continue past the ceiling.
func totalExceeds(page Page, limit int) bool {
	return page.Total == UnknownTotal || page.Total > limit
}

func (p *Pager) stop(err error) {
	p.done = true
	p.err = err
	p.page = Page{}
}

// Page returns the page loaded by the last successful Next.
func (p *Pager) Page() Page { return p.page }

// Err returns the error that ended the walk, nil on normal completion.
func (p *Pager) Err() error { return p.err }

// Degraded reports whether the walk stopped on a vendor rate limit.
func (p *Pager) Degraded() bool {
	return errors.Is(p.err, errs.ErrRateLimited)
}

// Complete reports whether every item the vendor holds was visited.
func (p *Pager) Complete() bool { return p.complete && p.err == nil }

// Capped reports whether the safety ceiling cut the walk short.
func (p *Pager) Capped() bool { return p.capped }

// Seen is the cumulative vendor item count across visited pages.
func (p *Pager) Seen() int { return p.seen }

// Result is the accumulated output of Collect.
type Result struct {
	Records  []models.ProductionRecord
	Sessions []models.ChargingSession
	Pages    int
	Complete bool
	Degraded bool
	Capped   bool
	Err      error
}

// Collect drains a pager, keeping whatever was fetched before an error.
func Collect(ctx context.Context, fetch FetchFunc, opts Options) Result {
	p := New(fetch, opts)
	var res Result
	for p.Next(ctx) {
		page := p.Page()
		res.Records = append(res.Records, page.Records...)
		res.Sessions = append(res.Sessions, page.Sessions...)
		res.Pages++
	}
	res.Err = p.Err()
	res.Complete = p.Complete()
	res.Degraded = p.Degraded()
	res.Capped = p.Capped()
	return res
}
