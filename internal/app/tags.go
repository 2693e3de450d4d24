package app

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shpitdev/character-image-enricher/internal/tags"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/io/local"
)

// RunTags writes the top character tags to outputPath as a name,post_count CSV and
// returns the number of tags written.
func RunTags(ctx context.Context, lister tags.Lister, outputPath string, opts tags.Options, log *slog.Logger) (int, error) {
	start := time.Now()
	records, err := tags.Top(ctx, lister, opts)
	if err != nil {
		return 0, err
	}

	outF, err := os.Create(outputPath)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = outF.Close()
	}()
	if err := local.WriteTagsCSV(outF, records); err != nil {
		return 0, err
	}
	if err := outF.Close(); err != nil {
		return 0, err
	}

	if log != nil {
		log.Info("tags written", "count", len(records), "output", outputPath, "duration", time.Since(start).Round(time.Millisecond))
	}
	return len(records), nil
}

// Tags runs RunTags against the session's board client.
func (s *Session) Tags(ctx context.Context, outputPath string, opts tags.Options) (int, error) {
	return RunTags(ctx, s.Board, outputPath, opts, s.Logger)
}
