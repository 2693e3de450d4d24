package consumer

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shpitdev/character-image-enricher/pkg/board"
	"github.com/shpitdev/character-image-enricher/pkg/lookup"
	"github.com/shpitdev/character-image-enricher/pkg/mockboard"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/io/local"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/worker"
)

func TestPublicPackagesCompose(t *testing.T) {
	t.Parallel()

	srv := mockboard.New()
	srv.AddImage("Pinkie_Pie", "http://x/p.png")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client, err := board.New(board.Config{BaseURL: ts.URL, RateLimitRPS: -1})
	if err != nil {
		t.Fatalf("new board client: %v", err)
	}
	finder := lookup.New(client, lookup.Options{MaxRetries: 1, RetryDelay: time.Millisecond})

	records, err := local.ReadCharactersCSV(strings.NewReader("name,image_url\nPinkie Pie,\n"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}

	out, err := worker.ProcessAll(context.Background(), records, func(ctx context.Context, r local.CharacterRecord) (lookup.Result, error) {
		return finder.Lookup(ctx, r.Name), nil
	}, worker.Options{Workers: 1})
	if err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}
	if len(out) != 1 || out[0].Output.URL != "http://x/p.png" {
		t.Fatalf("unexpected output: %#v", out)
	}
}
