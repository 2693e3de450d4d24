package local

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// CharacterRecord is one row of a name,image_url table.
type CharacterRecord struct {
	Name     string
	ImageURL string
}

// Missing reports whether the record still needs an image URL.
func (r CharacterRecord) Missing() bool {
	return strings.TrimSpace(r.ImageURL) == ""
}

// TagRecord is one row of a name,post_count table.
type TagRecord struct {
	Name      string
	PostCount int
}

// CharacterHeader is the header of character tables.
func CharacterHeader() []string {
	return []string{"name", "image_url"}
}

// TagHeader is the header of tag tables.
func TagHeader() []string {
	return []string{"name", "post_count"}
}

// ReadCharactersCSV reads a table with a "name" column and an optional "image_url"
// column. Header matching is case-insensitive; extra columns are ignored.
func ReadCharactersCSV(r io.Reader) ([]CharacterRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	nameIdx := columnIndex(header, "name")
	if nameIdx < 0 {
		return nil, fmt.Errorf("missing required column %q", "name")
	}
	urlIdx := columnIndex(header, "image_url")

	var out []CharacterRecord
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if nameIdx >= len(rec) {
			return nil, fmt.Errorf("row has %d columns, want at least %d", len(rec), nameIdx+1)
		}
		row := CharacterRecord{Name: rec[nameIdx]}
		if urlIdx >= 0 && urlIdx < len(rec) {
			row.ImageURL = rec[urlIdx]
		}
		out = append(out, row)
	}
	return out, nil
}

// WriteCharactersCSV writes records in order with the character header.
func WriteCharactersCSV(w io.Writer, records []CharacterRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CharacterHeader()); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write([]string{r.Name, r.ImageURL}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTagsCSV reads a name,post_count table.
func ReadTagsCSV(r io.Reader) ([]TagRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	nameIdx := columnIndex(header, "name")
	countIdx := columnIndex(header, "post_count")
	if nameIdx < 0 || countIdx < 0 {
		return nil, fmt.Errorf("missing required columns %q and %q", "name", "post_count")
	}

	var out []TagRecord
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if nameIdx >= len(rec) || countIdx >= len(rec) {
			return nil, fmt.Errorf("line %d: too few columns", line)
		}
		n, err := strconv.Atoi(strings.TrimSpace(rec[countIdx]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid post_count %q: %w", line, rec[countIdx], err)
		}
		out = append(out, TagRecord{Name: rec[nameIdx], PostCount: n})
	}
}

// WriteTagsCSV writes tag records in order with the tag header.
func WriteTagsCSV(w io.Writer, tags []TagRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TagHeader()); err != nil {
		return err
	}
	for _, t := range tags {
		if err := cw.Write([]string{t.Name, strconv.Itoa(t.PostCount)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RowWriter appends character rows to a CSV stream from many goroutines. Every
// row is written and counted under one lock, so rows never interleave.
type RowWriter struct {
	mu      sync.Mutex
	cw      *csv.Writer
	written int
}

// NewRowWriter writes the character header and returns a writer for the rows.
func NewRowWriter(w io.Writer) (*RowWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(CharacterHeader()); err != nil {
		return nil, err
	}
	return &RowWriter{cw: cw}, nil
}

// Write appends one row and returns the number of rows written so far.
func (w *RowWriter) Write(r CharacterRecord) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.cw.Write([]string{r.Name, r.ImageURL}); err != nil {
		return w.written, err
	}
	w.written++
	return w.written, nil
}

// Written returns the number of rows written so far.
func (w *RowWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Flush flushes buffered rows to the underlying writer.
func (w *RowWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cw.Flush()
	return w.cw.Error()
}

func columnIndex(header []string, name string) int {
	for i, col := range header {
		// Strip a UTF-8 BOM some spreadsheet exports put on the first column.
		col = strings.TrimPrefix(col, "\ufeff")
		if strings.EqualFold(strings.TrimSpace(col), name) {
			return i
		}
	}
	return -1
}
