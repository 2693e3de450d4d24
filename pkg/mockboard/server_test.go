package mockboard_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shpitdev/character-image-enricher/pkg/board"
	"github.com/shpitdev/character-image-enricher/pkg/mockboard"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/core"
)

func newClient(t *testing.T, baseURL string, creds board.Credentials) *board.Client {
	t.Helper()
	c, err := board.New(board.Config{BaseURL: baseURL, Credentials: creds, RateLimitRPS: -1})
	if err != nil {
		t.Fatalf("new board client: %v", err)
	}
	return c
}

func TestMockBoard_ServesPostsByTag(t *testing.T) {
	t.Parallel()

	srv := mockboard.New()
	srv.AddImage("rainbow_dash", "")
	srv.AddImage("rainbow_dash", "http://x/1.png")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := newClient(t, ts.URL, board.Credentials{})
	posts, err := c.SearchPosts(context.Background(), board.PostQuery{
		Tags: []string{"rainbow_dash", "order:score", "-animated"}, Limit: 10, Page: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if u, reason := posts[0].FileURL(); u != "" || reason != board.SkipNoURL {
		t.Fatalf("unexpected first post: %q %q", u, reason)
	}
	if u, _ := posts[1].FileURL(); u != "http://x/1.png" {
		t.Fatalf("unexpected second post url: %q", u)
	}

	calls := srv.Calls()
	if len(calls) != 1 || calls[0].Path != "/posts.json" || calls[0].UserAgent != board.UserAgent {
		t.Fatalf("unexpected calls: %#v", calls)
	}
	if calls[0].Query.Get("tags") != "rainbow_dash order:score -animated" {
		t.Fatalf("unexpected tags query: %q", calls[0].Query.Get("tags"))
	}
}

func TestMockBoard_FailNext(t *testing.T) {
	t.Parallel()

	srv := mockboard.New()
	srv.AddImage("fluttershy", "http://x/2.png")
	srv.FailNext("fluttershy", 1)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := newClient(t, ts.URL, board.Credentials{})
	q := board.PostQuery{Tags: []string{"fluttershy"}, Limit: 10, Page: 1}

	_, err := c.SearchPosts(context.Background(), q)
	var he *board.HTTPError
	var te *core.TransportError
	if !errors.As(err, &te) || !errors.As(err, &he) || he.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 transport error, got %v", err)
	}
	if !strings.Contains(he.Error(), "temporarily unavailable") {
		t.Fatalf("expected reason in error, got %q", he.Error())
	}

	posts, err := c.SearchPosts(context.Background(), q)
	if err != nil || len(posts) != 1 {
		t.Fatalf("expected recovery, got %v %v", posts, err)
	}
}

func TestMockBoard_Credentials(t *testing.T) {
	t.Parallel()

	srv := mockboard.New()
	srv.AddImage("rarity", "http://x/r.png")
	srv.RequireCredentials("me", "secret")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	q := board.PostQuery{Tags: []string{"rarity"}, Limit: 10, Page: 1}

	anon, err := newClient(t, ts.URL, board.Credentials{}).SearchPosts(context.Background(), q)
	if err != nil || len(anon) != 1 {
		t.Fatalf("unexpected anonymous result: %v %v", anon, err)
	}
	if u, _ := anon[0].FileURL(); u != "" {
		t.Fatalf("anonymous request saw url %q", u)
	}

	authed, err := newClient(t, ts.URL, board.Credentials{Login: "me", APIKey: "secret"}).SearchPosts(context.Background(), q)
	if err != nil || len(authed) != 1 {
		t.Fatalf("unexpected authenticated result: %v %v", authed, err)
	}
	if u, _ := authed[0].FileURL(); u != "http://x/r.png" {
		t.Fatalf("authenticated request saw url %q", u)
	}

	_, err = newClient(t, ts.URL, board.Credentials{Login: "me", APIKey: "wrong"}).SearchPosts(context.Background(), q)
	var he *board.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if strings.Contains(err.Error(), "wrong") {
		t.Fatalf("api key leaked into error: %v", err)
	}
}

func TestMockBoard_TagsPagination(t *testing.T) {
	t.Parallel()

	srv := mockboard.New()
	srv.SetTags([]board.Tag{
		{Name: "b", PostCount: 5, Category: board.CategoryCharacter},
		{Name: "artist", PostCount: 99, Category: 1},
		{Name: "a", PostCount: 9, Category: board.CategoryCharacter},
		{Name: "c", PostCount: 1, Category: board.CategoryCharacter},
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := newClient(t, ts.URL, board.Credentials{})
	q := board.TagQuery{Category: board.CategoryCharacter, Order: "count", Limit: 2, Page: 1}

	first, err := c.ListTags(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 2 || first[0].Name != "a" || first[1].Name != "b" {
		t.Fatalf("unexpected first page: %#v", first)
	}

	q.Page = 3
	empty, err := c.ListTags(context.Background(), q)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty page, got %#v %v", empty, err)
	}
}

func TestMockBoard_LoadFixtures(t *testing.T) {
	t.Parallel()

	srv := mockboard.New()
	err := srv.LoadFixtures(strings.NewReader(`
posts:
  twilight_sparkle:
    - url: ""
    - url: http://x/t.png
      score: 42
tags:
  - name: twilight_sparkle
    post_count: 1000
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := newClient(t, ts.URL, board.Credentials{})
	posts, err := c.SearchPosts(context.Background(), board.PostQuery{Tags: []string{"twilight_sparkle"}, Limit: 10, Page: 1})
	if err != nil || len(posts) != 2 || posts[1].Score.Total != 42 {
		t.Fatalf("unexpected posts: %#v %v", posts, err)
	}
	tags, err := c.ListTags(context.Background(), board.TagQuery{Category: board.CategoryCharacter, Limit: 10, Page: 1})
	if err != nil || len(tags) != 1 || tags[0].PostCount != 1000 {
		t.Fatalf("unexpected tags: %#v %v", tags, err)
	}
}
