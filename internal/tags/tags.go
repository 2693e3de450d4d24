// Package tags lists the most-used character tags on the board.
package tags

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/shpitdev/character-image-enricher/pkg/board"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/io/local"
)

const (
	DefaultCount       = 1000
	DefaultPageSize    = 320
	DefaultConcurrency = 2
)

// Lister is the subset of *board.Client the listing needs.
type Lister interface {
	ListTags(ctx context.Context, q board.TagQuery) ([]board.Tag, error)
}

type Options struct {
	// Count is the number of tags to return.
	Count int
	// PageSize is the page size requested from the API (the API caps it at 320).
	PageSize int
	// Category defaults to board.CategoryCharacter.
	Category int
	// Concurrency bounds pages in flight.
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.Count <= 0 {
		o.Count = DefaultCount
	}
	if o.PageSize <= 0 || o.PageSize > DefaultPageSize {
		o.PageSize = DefaultPageSize
	}
	if o.Category <= 0 {
		o.Category = board.CategoryCharacter
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// Pages returns the number of pages needed for count tags.
func Pages(count, pageSize int) int {
	if count <= 0 || pageSize <= 0 {
		return 0
	}
	return (count + pageSize - 1) / pageSize
}

// Top fetches the top Count tags ordered by post count. Pages are fetched
// concurrently and assembled in page order; the first short page ends the listing.
// Any page error fails the whole listing.
func Top(ctx context.Context, l Lister, opts Options) ([]local.TagRecord, error) {
	opts = opts.withDefaults()
	n := Pages(opts.Count, opts.PageSize)
	pages := make([][]board.Tag, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i := 0; i < n; i++ {
		page := i + 1
		g.Go(func() error {
			got, err := l.ListTags(gctx, board.TagQuery{
				Category: opts.Category,
				Order:    "count",
				Limit:    opts.PageSize,
				Page:     page,
			})
			if err != nil {
				return fmt.Errorf("list tags page %d: %w", page, err)
			}
			pages[page-1] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]local.TagRecord, 0, opts.Count)
	for _, page := range pages {
		for _, t := range page {
			if len(out) == opts.Count {
				return out, nil
			}
			out = append(out, local.TagRecord{Name: t.Name, PostCount: t.PostCount})
		}
		if len(page) < opts.PageSize {
			break
		}
	}
	return out, nil
}
