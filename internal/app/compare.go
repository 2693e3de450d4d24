package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shpitdev/character-image-enricher/internal/pipeline"
	"github.com/shpitdev/character-image-enricher/pkg/lookup"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/io/local"
)

// CompareCase is one row re-queried by RunCompare.
type CompareCase struct {
	Label  string
	Name   string
	Query  string
	Stored string
	Found  string
}

// Success reports whether the lookup produced a URL.
func (c CompareCase) Success() bool { return c.Found != "" }

// Matches reports whether a stored URL was found again.
func (c CompareCase) Matches() bool { return c.Stored != "" && c.Found == c.Stored }

// RunCompare re-queries the first row without a URL and the first row with one,
// and writes a short report to out. It is a diagnostic for rows that keep coming
// back empty: run it with debug logging to see every candidate decision.
func RunCompare(ctx context.Context, inputPath string, finder pipeline.Finder, out io.Writer) ([]CompareCase, error) {
	inF, err := os.Open(inputPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = inF.Close()
	}()
	records, err := local.ReadCharactersCSV(inF)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", inputPath, err)
	}

	var cases []CompareCase
	if rec, ok := firstWhere(records, func(r local.CharacterRecord) bool { return r.Missing() }); ok {
		cases = append(cases, CompareCase{Label: "failing", Name: rec.Name})
	}
	if rec, ok := firstWhere(records, func(r local.CharacterRecord) bool { return !r.Missing() }); ok {
		cases = append(cases, CompareCase{Label: "working", Name: rec.Name, Stored: strings.TrimSpace(rec.ImageURL)})
	}
	if len(cases) == 0 {
		return nil, errors.New("input has no rows to compare")
	}

	for i := range cases {
		c := &cases[i]
		c.Query = strings.Join(lookup.QueryTags(lookup.Sanitize(c.Name)), " ")
		c.Found = finder.Find(ctx, c.Name)
		if err := ctx.Err(); err != nil {
			return cases, err
		}
	}

	_, _ = fmt.Fprintln(out, "comparison summary")
	for _, c := range cases {
		_, _ = fmt.Fprintf(out, "%s character: %s\n", c.Label, c.Name)
		_, _ = fmt.Fprintf(out, "  query:   %s\n", c.Query)
		_, _ = fmt.Fprintf(out, "  result:  %s\n", orNone(c.Found))
		_, _ = fmt.Fprintf(out, "  success: %t\n", c.Success())
		if c.Stored != "" {
			_, _ = fmt.Fprintf(out, "  stored:  %s\n", c.Stored)
			_, _ = fmt.Fprintf(out, "  matches stored url: %t\n", c.Matches())
		}
	}
	return cases, nil
}

// Compare runs RunCompare with the session's finder.
func (s *Session) Compare(ctx context.Context, inputPath string, out io.Writer) ([]CompareCase, error) {
	return RunCompare(ctx, inputPath, s.Finder, out)
}

func firstWhere(records []local.CharacterRecord, pred func(local.CharacterRecord) bool) (local.CharacterRecord, bool) {
	for _, r := range records {
		if pred(r) {
			return r, true
		}
	}
	return local.CharacterRecord{}, false
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
