package app

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/shpitdev/character-image-enricher/internal/config"
	"github.com/shpitdev/character-image-enricher/internal/metrics"
	"github.com/shpitdev/character-image-enricher/pkg/board"
	"github.com/shpitdev/character-image-enricher/pkg/lookup"
)

// Session wires one validated configuration into the clients a command needs.
// Every log record it emits carries run=<id>.
type Session struct {
	RunID   string
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Board   *board.Client
	Finder  *lookup.Finder
}

// NewSession validates cfg and builds the board client and finder. httpClient may
// be nil. No request is made here, so a bad configuration fails before any network
// traffic.
func NewSession(cfg config.Config, logger *slog.Logger, httpClient *http.Client) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	runID := uuid.NewString()
	logger = logger.With("run", runID)
	rec := metrics.New()

	bc := cfg.BoardConfig()
	bc.HTTPClient = httpClient
	bc.OnResponse = rec.ObserveResponse
	client, err := board.New(bc)
	if err != nil {
		return nil, err
	}

	lopts := cfg.LookupOptions()
	lopts.Logger = logger
	lopts.Observer = rec

	return &Session{
		RunID:   runID,
		Config:  cfg,
		Logger:  logger,
		Metrics: rec,
		Board:   client,
		Finder:  lookup.New(client, lopts),
	}, nil
}

// Close writes the metrics textfile when one is configured.
func (s *Session) Close() error {
	if s.Config.MetricsFile == "" {
		return nil
	}
	if err := s.Metrics.WriteTextfile(s.Config.MetricsFile); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	s.Logger.Debug("metrics written", "path", s.Config.MetricsFile)
	return nil
}
