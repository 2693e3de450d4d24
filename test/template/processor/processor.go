package processor

import (
	"context"

	"github.com/shpitdev/character-image-enricher/pkg/lookup"
)

// Result is one character with the image found for it.
type Result struct {
	Name string
	Tag  string
	URL  string
}

// Processor resolves character names to images through a lookup.Finder.
type Processor struct {
	Finder *lookup.Finder
}

func (p Processor) Process(ctx context.Context, name string) (Result, error) {
	res := p.Finder.Lookup(ctx, name)
	return Result{Name: res.Name, Tag: lookup.Sanitize(name), URL: res.URL}, nil
}
