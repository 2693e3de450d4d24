package app_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/character-image-enricher/internal/app"
	"github.com/shpitdev/character-image-enricher/internal/config"
	"github.com/shpitdev/character-image-enricher/internal/tags"
	"github.com/shpitdev/character-image-enricher/pkg/board"
	"github.com/shpitdev/character-image-enricher/pkg/mockboard"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/core"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/io/local"
)

func testConfig(baseURL string) config.Config {
	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.RetryDelay = time.Millisecond
	cfg.RateLimitRPS = 0
	cfg.Workers = 4
	return cfg
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func readRows(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	recs, err := local.ReadCharactersCSV(f)
	require.NoError(t, err)
	out := make(map[string]string, len(recs))
	for _, r := range recs {
		out[r.Name] = r.ImageURL
	}
	require.Len(t, out, len(recs), "duplicate names in output")
	return out
}

func TestSessionFill_EndToEnd(t *testing.T) {
	t.Parallel()

	srv := mockboard.New()
	srv.AddImage("Rainbow_Dash", "")
	srv.AddImage("Rainbow_Dash", "http://x/1.png")
	srv.AddImage("Fluttershy", "http://x/2.png")
	srv.FailNext("Fluttershy", 2)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	dir := t.TempDir()
	in := writeFile(t, dir, "top_img.csv",
		"name,image_url\nRainbow Dash,\nFluttershy,\nRarity,http://x/kept.png\nNobody,\n")
	out := filepath.Join(dir, "top_img_2.csv")

	cfg := testConfig(ts.URL)
	cfg.MetricsFile = filepath.Join(dir, "charimg.prom")
	s, err := app.NewSession(cfg, nil, nil)
	require.NoError(t, err)

	sum, err := s.Fill(context.Background(), in, out, false)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 3, sum.LookedUp)
	assert.Equal(t, 2, sum.Found)
	assert.Equal(t, 0, sum.Errors)
	assert.Equal(t, out, sum.OutputPath)

	assert.Equal(t, map[string]string{
		"Rainbow Dash": "http://x/1.png",
		"Fluttershy":   "http://x/2.png",
		"Rarity":       "http://x/kept.png",
		"Nobody":       "",
	}, readRows(t, out))

	// Rainbow_Dash: 1, Fluttershy: 2 failures + 1, Nobody: 3 attempts.
	assert.Len(t, srv.Calls(), 7)
	for _, c := range srv.Calls() {
		assert.Equal(t, board.UserAgent, c.UserAgent)
		assert.NotContains(t, c.Query.Get("tags"), "Rarity")
	}

	n, err := testutil.GatherAndCount(s.Metrics.Gatherer(), "charimg_rows_written_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "kept and looked_up series")
	require.NoError(t, s.Close())
	b, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), `charimg_lookups_total{result="found"} 2`)
}

func TestSessionFill_ZeroMissingNormalizesTable(t *testing.T) {
	t.Parallel()

	srv := mockboard.New()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	dir := t.TempDir()
	content := "\ufeffNAME,post_count,Image_URL\nRarity,9,http://x/r.png\n\"Doe, John\",2,http://x/j.png\n"
	in := writeFile(t, dir, "in.csv", content)
	out := filepath.Join(dir, "out.csv")

	s, err := app.NewSession(testConfig(ts.URL), nil, nil)
	require.NoError(t, err)
	sum, err := s.Fill(context.Background(), in, out, false)
	require.NoError(t, err)
	assert.True(t, sum.Copied)
	assert.Equal(t, 2, sum.Skipped)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "name,image_url\nRarity,http://x/r.png\n\"Doe, John\",http://x/j.png\n", string(got))
	assert.Empty(t, srv.Calls())
}

func TestSessionFill_InPlace(t *testing.T) {
	t.Parallel()

	srv := mockboard.New()
	srv.AddImage("Spike", "http://x/s.png")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	path := writeFile(t, t.TempDir(), "chars.csv", "name,image_url\nSpike,\nRarity,http://x/r.png\n")

	s, err := app.NewSession(testConfig(ts.URL), nil, nil)
	require.NoError(t, err)
	_, err = s.Fill(context.Background(), path, path, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Spike": "http://x/s.png", "Rarity": "http://x/r.png"}, readRows(t, path))
}

func TestSessionFetch_OverwritesExistingURLs(t *testing.T) {
	t.Parallel()

	srv := mockboard.New()
	srv.AddImage("Rarity", "http://new/r.png")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	dir := t.TempDir()
	in := writeFile(t, dir, "in.csv", "name,image_url\nRarity,http://old/r.png\n")
	out := filepath.Join(dir, "out.csv")

	s, err := app.NewSession(testConfig(ts.URL), nil, nil)
	require.NoError(t, err)
	sum, err := s.Fill(context.Background(), in, out, true)
	require.NoError(t, err)
	assert.False(t, sum.Copied)
	assert.Equal(t, map[string]string{"Rarity": "http://new/r.png"}, readRows(t, out))
}

func TestNewSession_HalfCredentialsFailBeforeAnyRequest(t *testing.T) {
	t.Parallel()

	srv := mockboard.New()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cfg := testConfig(ts.URL)
	cfg.Login = "me"
	_, err := app.NewSession(cfg, nil, nil)

	var ce *core.ConfigError
	require.True(t, errors.As(err, &ce), "expected ConfigError, got %v", err)
	assert.Empty(t, srv.Calls())
}

func TestSession_CredentialsReachTheBoard(t *testing.T) {
	t.Parallel()

	srv := mockboard.New()
	srv.RequireCredentials("me", "secret")
	srv.AddImage("Spike", "http://x/s.png")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cfg := testConfig(ts.URL)
	cfg.Login, cfg.APIKey = "me", "secret"
	s, err := app.NewSession(cfg, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "http://x/s.png", s.Finder.Find(context.Background(), "Spike"))
	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "me", calls[0].Query.Get("login"))
}

func TestSessionTags(t *testing.T) {
	t.Parallel()

	srv := mockboard.New()
	srv.SetTags([]board.Tag{
		{Name: "fluttershy", PostCount: 800, Category: board.CategoryCharacter},
		{Name: "rainbow_dash", PostCount: 900, Category: board.CategoryCharacter},
		{Name: "some_artist", PostCount: 5000, Category: 1},
		{Name: "rarity", PostCount: 700, Category: board.CategoryCharacter},
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	s, err := app.NewSession(testConfig(ts.URL), nil, nil)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "chars.csv")
	n, err := s.Tags(context.Background(), out, tags.Options{Count: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "name,post_count\nrainbow_dash,900\nfluttershy,800\n", string(b))
}

func TestSessionCompare(t *testing.T) {
	t.Parallel()

	srv := mockboard.New()
	srv.AddImage("Twilight_Sparkle", "http://x/t.png")
	srv.AddImage("Zecora", "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	in := writeFile(t, t.TempDir(), "in.csv", "name,image_url\nZecora,\nTwilight Sparkle,http://x/t.png\n")

	var logs bytes.Buffer
	cfg := testConfig(ts.URL)
	cfg.Debug = true
	cfg.MaxRetries = 1
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, err := app.NewSession(cfg, logger, nil)
	require.NoError(t, err)

	var report bytes.Buffer
	cases, err := s.Compare(context.Background(), in, &report)
	require.NoError(t, err)
	require.Len(t, cases, 2)

	assert.Equal(t, "Zecora", cases[0].Name)
	assert.Equal(t, "Zecora order:score -animated", cases[0].Query)
	assert.False(t, cases[0].Success())
	assert.Equal(t, "Twilight Sparkle", cases[1].Name)
	assert.True(t, cases[1].Matches())

	assert.Contains(t, report.String(), "matches stored url: true")
	assert.Contains(t, logs.String(), board.SkipNoURL)
	assert.True(t, strings.Contains(logs.String(), "run="+s.RunID))
}
