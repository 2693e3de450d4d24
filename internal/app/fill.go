package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/shpitdev/character-image-enricher/internal/pipeline"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/io/local"
)

// RunFill reads a local name,image_url CSV and writes one row per input row to
// outputPath, looking up the rows that need an image. The output always carries
// the name,image_url header and only those two columns. Input and output may be
// the same file: every row is read before the output is created.
func RunFill(ctx context.Context, inputPath, outputPath string, finder pipeline.Finder, opts pipeline.Options) (pipeline.Summary, error) {
	start := time.Now()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log := opts.Logger

	inF, err := os.Open(inputPath)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer func() {
		_ = inF.Close()
	}()

	records, err := local.ReadCharactersCSV(inF)
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("read %s: %w", inputPath, err)
	}
	_ = inF.Close()
	missing := pipeline.NeedsLookup(records, opts.Overwrite)
	log.Info("loaded input", "path", inputPath, "total", len(records), "to_lookup", missing, "workers", opts.Workers)

	outF, err := os.Create(outputPath)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer func() {
		_ = outF.Close()
	}()

	w, err := local.NewRowWriter(outF)
	if err != nil {
		return pipeline.Summary{}, err
	}
	sum, runErr := pipeline.Fill(ctx, records, finder, w, opts)
	sum.OutputPath = outputPath
	if err := outF.Close(); err != nil && runErr == nil {
		runErr = err
	}

	log.Info("fill complete",
		"total", sum.Total,
		"skipped", sum.Skipped,
		"looked_up", sum.LookedUp,
		"found", sum.Found,
		"errors", sum.Errors,
		"output", sum.OutputPath,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return sum, runErr
}

// Fill runs RunFill with the session's finder, worker count and metrics.
func (s *Session) Fill(ctx context.Context, inputPath, outputPath string, overwrite bool) (pipeline.Summary, error) {
	return RunFill(ctx, inputPath, outputPath, s.Finder, pipeline.Options{
		Workers:   s.Config.Workers,
		Overwrite: overwrite,
		Logger:    s.Logger,
		OnRow:     s.Metrics.ObserveRow,
	})
}
