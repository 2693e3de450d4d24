package main

import (
	"context"
	"fmt"
	"os"

	"github.com/shpitdev/character-image-enricher/pkg/board"
	"github.com/shpitdev/character-image-enricher/pkg/lookup"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/core"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/worker"
	"github.com/shpitdev/character-image-enricher/test/template/processor"
)

func main() {
	client, err := board.New(board.Config{BaseURL: os.Getenv("BOARD_BASE_URL")})
	if err != nil {
		panic(err)
	}
	p := processor.Processor{Finder: lookup.New(client, lookup.DefaultOptions())}
	runner := core.ProcessFunc[string, processor.Result](p.Process)

	names := os.Args[1:]
	if len(names) == 0 {
		names = []string{"Rainbow Dash"}
	}
	out, err := worker.ProcessAll(context.Background(), names, runner.Process, worker.Options{Workers: 2})
	if err != nil {
		panic(err)
	}
	for _, r := range out {
		fmt.Printf("%s\t%s\n", r.Output.Name, r.Output.URL)
	}
}
