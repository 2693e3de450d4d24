package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/character-image-enricher/pkg/mockboard"
)

func main() {
	addr := defaultString("MOCK_BOARD_ADDR", ":8080")
	fixtures := defaultString("MOCK_BOARD_FIXTURES", "")
	login := defaultString("MOCK_BOARD_LOGIN", "")
	apiKey := defaultString("MOCK_BOARD_API_KEY", "")

	fs := flag.NewFlagSet("mock-board", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&fixtures, "fixtures", fixtures, "YAML file with posts by tag and tags (also supports env: MOCK_BOARD_FIXTURES)")
	fs.StringVar(&login, "login", login, "Require this login for file urls (requires -api-key)")
	fs.StringVar(&apiKey, "api-key", apiKey, "Require this api key for file urls (requires -login)")
	_ = fs.Parse(os.Args[1:])

	srv := mockboard.New()
	if fixtures != "" {
		if err := loadFixtures(srv, fixtures); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "fixtures error: %v\n", err)
			os.Exit(2)
		}
	}
	if login != "" || apiKey != "" {
		if login == "" || apiKey == "" {
			_, _ = fmt.Fprintln(os.Stderr, "config error: -login and -api-key must be provided together")
			os.Exit(2)
		}
		srv.RequireCredentials(login, apiKey)
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-board listening on %s (fixtures=%s)\n", addr, fixtures)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func loadFixtures(srv *mockboard.Server, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return srv.LoadFixtures(f)
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
