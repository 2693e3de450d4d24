package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/shpitdev/character-image-enricher/pkg/pipeline/io/local"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/redact"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/worker"
)

const DefaultProgressEvery = 50

// Row kinds reported through Options.OnRow.
const (
	RowLookedUp = "looked_up"
	RowKept     = "kept"
	RowFallback = "fallback"
	RowCopied   = "copied"
)

// Finder is the subset of *lookup.Finder the driver needs.
type Finder interface {
	Find(ctx context.Context, name string) string
}

type Options struct {
	Workers int

	// Overwrite looks up every row, ignoring existing URLs. A row whose lookup comes
	// back empty keeps its previous URL.
	Overwrite bool

	// ProgressEvery logs a progress line after every N written rows.
	ProgressEvery int

	Logger *slog.Logger

	// OnRow is called once per written row with its kind, never concurrently.
	OnRow func(kind string)
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = worker.DefaultWorkers
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = DefaultProgressEvery
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Summary describes one finished run.
type Summary struct {
	Total int
	// Skipped counts rows written with their pre-existing URL and no lookup.
	Skipped int
	// LookedUp counts lookups that completed; Found counts those that produced a URL.
	LookedUp int
	Found    int
	// Errors counts rows written as fallback rows.
	Errors int

	// Copied is set when no row needed a lookup and every record was written
	// unchanged, in input order, without starting the pool.
	Copied     bool
	OutputPath string
}

// NeedsLookup counts the rows that would be looked up.
func NeedsLookup(records []local.CharacterRecord, overwrite bool) int {
	if overwrite {
		return len(records)
	}
	n := 0
	for _, r := range records {
		if r.Missing() {
			n++
		}
	}
	return n
}

type outcome struct {
	url    string
	lookup bool
}

// Fill writes exactly one row per record to w. Rows that already carry a URL pass
// through untouched; the rest are looked up on a bounded pool and written as they
// complete, so output order is completion order.
//
// A task that fails or panics is written as a fallback row with the record's
// existing URL. When ctx is cancelled, lookups that already found a URL are still
// written with it; lookups cut short and rows never started are written as fallback
// rows and counted as errors, and ctx.Err() is returned with the summary. A write
// error stops the run.
func Fill(ctx context.Context, records []local.CharacterRecord, finder Finder, w *local.RowWriter, opts Options) (Summary, error) {
	opts = opts.withDefaults()
	log := opts.Logger
	sum := Summary{Total: len(records)}

	if NeedsLookup(records, opts.Overwrite) == 0 {
		for _, rec := range records {
			if _, err := w.Write(rec); err != nil {
				return sum, err
			}
			opts.onRow(RowCopied)
		}
		sum.Skipped = len(records)
		sum.Copied = true
		return sum, w.Flush()
	}

	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	written := make([]bool, len(records))

	task := func(ctx context.Context, i int) (outcome, error) {
		rec := records[i]
		if !opts.Overwrite && !rec.Missing() {
			return outcome{url: rec.ImageURL}, nil
		}
		u := finder.Find(ctx, rec.Name)
		if u == "" && ctx.Err() != nil {
			// Cut short, not a miss.
			return outcome{}, ctx.Err()
		}
		return outcome{url: u, lookup: true}, nil
	}

	var writeErr error
	onResult := func(res worker.Result[int, outcome]) error {
		rec := records[res.Input]
		row := local.CharacterRecord{Name: rec.Name, ImageURL: rec.ImageURL}
		kind := RowKept
		switch {
		case errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded):
			kind = RowFallback
			log.Warn("lookup interrupted", "name", rec.Name)
		case res.Err != nil:
			kind = RowFallback
			log.Error("lookup task failed", "name", rec.Name, "error", redact.Secrets(res.Err.Error()))
		case res.Output.lookup:
			kind = RowLookedUp
			if res.Output.url != "" {
				row.ImageURL = res.Output.url
			}
		}

		n, err := w.Write(row)
		if err != nil {
			writeErr = err
			return err
		}
		written[res.Input] = true
		sum.count(kind, res.Output.url)
		opts.onRow(kind)

		if n%opts.ProgressEvery == 0 {
			log.Info("progress", "processed", n, "total", len(records))
		}
		return nil
	}

	_, runErr := worker.ProcessAllWithCallback(ctx, idx, task, onResult, worker.Options{Workers: opts.Workers})
	if writeErr != nil {
		return sum, writeErr
	}

	if runErr != nil {
		pending := 0
		for i, rec := range records {
			if written[i] {
				continue
			}
			if _, err := w.Write(rec); err != nil {
				return sum, errors.Join(runErr, err)
			}
			pending++
			sum.Errors++
			opts.onRow(RowFallback)
		}
		if pending > 0 {
			log.Warn("run interrupted; wrote fallback rows", "rows", pending, "error", runErr)
		}
	}

	if err := w.Flush(); err != nil {
		return sum, errors.Join(runErr, err)
	}
	return sum, runErr
}

func (s *Summary) count(kind, url string) {
	switch kind {
	case RowKept:
		s.Skipped++
	case RowLookedUp:
		s.LookedUp++
		if url != "" {
			s.Found++
		}
	case RowFallback:
		s.Errors++
	}
}

func (o Options) onRow(kind string) {
	if o.OnRow != nil {
		o.OnRow(kind)
	}
}
