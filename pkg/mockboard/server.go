// Package mockboard serves a minimal fake of the board's posts.json and tags.json
// endpoints for tests and local smoke runs.
package mockboard

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/shpitdev/character-image-enricher/pkg/board"
)

// Call records a request made to the mock service.
type Call struct {
	Method    string
	Path      string
	Query     url.Values
	UserAgent string
}

// Server implements the two read endpoints the enricher uses.
type Server struct {
	mu    sync.Mutex
	calls []Call

	// posts are keyed by the sanitized character tag, in the order they are served
	// (highest score first).
	posts map[string][]board.Post
	tags  []board.Tag

	// failures holds the number of upcoming 503 responses per tag.
	failures map[string]int

	login  string
	apiKey string
}

func New() *Server {
	return &Server{
		posts:    make(map[string][]board.Post),
		failures: make(map[string]int),
	}
}

// AddPosts appends posts served for tag.
func (s *Server) AddPosts(tag string, posts ...board.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[tag] = append(s.posts[tag], posts...)
}

// AddImage appends a post for tag whose file url is u. An empty u serves a post
// with a null url.
func (s *Server) AddImage(tag, u string) {
	s.addImage(tag, u, 0)
}

func (s *Server) addImage(tag, u string, score int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := board.Post{
		ID:    int64(len(s.posts[tag]) + 1),
		File:  &board.File{},
		Score: board.Score{Up: score, Total: score},
	}
	if u != "" {
		p.File.URL = &u
	}
	s.posts[tag] = append(s.posts[tag], p)
}

// SetTags replaces the tags served by tags.json.
func (s *Server) SetTags(tags []board.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = append([]board.Tag(nil), tags...)
}

// FailNext makes the next n posts.json requests for tag answer 503.
func (s *Server) FailNext(tag string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[tag] = n
}

// RequireCredentials enables credential checks. Requests carrying a different
// login/api_key pair are rejected with 401; anonymous requests succeed but see
// every file url as null.
func (s *Server) RequireCredentials(login, apiKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.login = strings.TrimSpace(login)
	s.apiKey = strings.TrimSpace(apiKey)
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/posts.json", s.handlePosts)
	mux.HandleFunc("/tags.json", s.handleTags)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Server) recordCall(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     r.URL.Query(),
		UserAgent: r.Header.Get("User-Agent"),
	})
}

// authorize reports whether the request may see file urls.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (bool, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false, false
	}
	if strings.TrimSpace(r.Header.Get("User-Agent")) == "" {
		writeFailure(w, http.StatusForbidden, "a descriptive User-Agent is required")
		return false, false
	}

	s.mu.Lock()
	login, key := s.login, s.apiKey
	s.mu.Unlock()
	if login == "" {
		return true, true
	}

	q := r.URL.Query()
	gotLogin, gotKey := q.Get("login"), q.Get("api_key")
	if gotLogin == "" && gotKey == "" {
		return true, false
	}
	if gotLogin != login || gotKey != key {
		writeFailure(w, http.StatusUnauthorized, "Invalid API key")
		return false, false
	}
	return true, true
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	ok, privileged := s.authorize(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	fields := strings.Fields(q.Get("tags"))
	if len(fields) == 0 {
		writeJSON(w, map[string]any{"posts": []board.Post{}})
		return
	}
	tag := fields[0]
	limit := intParam(q, "limit", 75)
	page := intParam(q, "page", 1)

	s.mu.Lock()
	if s.failures[tag] > 0 {
		s.failures[tag]--
		s.mu.Unlock()
		writeFailure(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	posts := append([]board.Post(nil), s.posts[tag]...)
	s.mu.Unlock()

	posts = paginate(posts, limit, page)
	if !privileged {
		posts = hideURLs(posts)
	}
	writeJSON(w, map[string]any{"posts": posts})
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if ok, _ := s.authorize(w, r); !ok {
		return
	}

	q := r.URL.Query()
	category, _ := strconv.Atoi(q.Get("search[category]"))
	limit := intParam(q, "limit", 75)
	page := intParam(q, "page", 1)

	s.mu.Lock()
	var tags []board.Tag
	for _, t := range s.tags {
		if category == 0 || t.Category == category {
			tags = append(tags, t)
		}
	}
	s.mu.Unlock()

	if q.Get("search[order]") == "count" {
		sort.SliceStable(tags, func(i, j int) bool { return tags[i].PostCount > tags[j].PostCount })
	}
	tags = paginate(tags, limit, page)
	if len(tags) == 0 {
		// The live API answers an empty listing with an object, not an array.
		writeJSON(w, map[string]any{"tags": []board.Tag{}})
		return
	}
	writeJSON(w, tags)
}

func paginate[T any](items []T, limit, page int) []T {
	start := (page - 1) * limit
	if start >= len(items) {
		return nil
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func hideURLs(posts []board.Post) []board.Post {
	out := make([]board.Post, len(posts))
	for i, p := range posts {
		if p.File != nil {
			f := *p.File
			f.URL = nil
			p.File = &f
		}
		out[i] = p
	}
	return out
}

func intParam(q url.Values, name string, fallback int) int {
	n, err := strconv.Atoi(q.Get(name))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "reason": reason})
}

// Fixtures is the YAML document accepted by LoadFixtures.
//
//	posts:
//	  rainbow_dash:
//	    - url: https://static.example/1.png
//	    - url: ""          # served with a null url
//	tags:
//	  - name: rainbow_dash
//	    post_count: 900
type Fixtures struct {
	Posts map[string][]FixturePost `yaml:"posts"`
	Tags  []FixtureTag             `yaml:"tags"`
}

type FixturePost struct {
	URL   string `yaml:"url"`
	Score int    `yaml:"score"`
}

type FixtureTag struct {
	Name      string `yaml:"name"`
	PostCount int    `yaml:"post_count"`
	Category  int    `yaml:"category"`
}

// LoadFixtures reads a Fixtures document into the server.
func (s *Server) LoadFixtures(r io.Reader) error {
	var fx Fixtures
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil && err != io.EOF {
		return fmt.Errorf("decode fixtures: %w", err)
	}
	for tag, posts := range fx.Posts {
		for _, p := range posts {
			s.addImage(tag, p.URL, p.Score)
		}
	}
	tags := make([]board.Tag, 0, len(fx.Tags))
	for i, t := range fx.Tags {
		if t.Category == 0 {
			t.Category = board.CategoryCharacter
		}
		tags = append(tags, board.Tag{ID: int64(i + 1), Name: t.Name, PostCount: t.PostCount, Category: t.Category})
	}
	s.SetTags(tags)
	return nil
}
