package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shpitdev/character-image-enricher/pkg/pipeline/core"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public board API.
	DefaultBaseURL = "https://e621.net"

	// UserAgent identifies this client. The API rejects requests without a descriptive
	// User-Agent.
	UserAgent = "charimg/1.0 (character image enricher)"

	// DefaultTimeout bounds one HTTP request.
	DefaultTimeout = 60 * time.Second

	// DefaultRateLimitRPS stays under the API's documented request budget.
	DefaultRateLimitRPS = 2.0
)

// Credentials are the optional login/api_key pair. They are attached only when both
// are set.
type Credentials struct {
	Login  string
	APIKey string
}

// Enabled reports whether both halves of the credential pair are present.
func (c Credentials) Enabled() bool {
	return strings.TrimSpace(c.Login) != "" && strings.TrimSpace(c.APIKey) != ""
}

// Validate rejects a half-configured credential pair.
func (c Credentials) Validate() error {
	login := strings.TrimSpace(c.Login) != ""
	key := strings.TrimSpace(c.APIKey) != ""
	if login != key {
		return &core.ConfigError{Msg: "login and api_key must be provided together"}
	}
	return nil
}

// Config configures a Client.
type Config struct {
	// BaseURL overrides the API base URL. Useful for the mock board and proxies.
	BaseURL     string
	Credentials Credentials
	Timeout     time.Duration

	// RateLimitRPS is a limit shared by every caller of the client. Set to <0 to disable;
	// 0 selects DefaultRateLimitRPS.
	RateLimitRPS float64

	// HTTPClient replaces the default client (tests use this for transport mocks).
	HTTPClient *http.Client

	// OnResponse is called once per completed HTTP exchange with the status code
	// (0 when the request failed before a response arrived).
	OnResponse func(op string, status int)
}

// Client is a minimal HTTP client for the posts and tags endpoints.
type Client struct {
	baseURL    *url.URL
	creds      Credentials
	http       *http.Client
	limiter    *rate.Limiter
	onResponse func(op string, status int)
}

// New constructs a client. A half-configured credential pair is rejected here, before
// any request can be made.
func New(cfg Config) (*Client, error) {
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := parseBaseURL(raw)
	if err != nil {
		return nil, err
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	rps := cfg.RateLimitRPS
	if rps == 0 {
		rps = DefaultRateLimitRPS
	}
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}

	return &Client{
		baseURL: base,
		creds: Credentials{
			Login:  strings.TrimSpace(cfg.Credentials.Login),
			APIKey: strings.TrimSpace(cfg.Credentials.APIKey),
		},
		http:       hc,
		limiter:    limiter,
		onResponse: cfg.OnResponse,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &core.ConfigError{Field: "base_url", Msg: err.Error()}
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &core.ConfigError{Field: "base_url", Msg: fmt.Sprintf("must include a host (got %q)", raw)}
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// PostsParams builds the query parameters for a posts search, including credentials
// when both halves are configured.
func (c *Client) PostsParams(q PostQuery) url.Values {
	v := url.Values{}
	v.Set("tags", strings.Join(q.Tags, " "))
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	c.attachCredentials(v)
	return v
}

// HasCredentials reports whether requests are authenticated.
func (c *Client) HasCredentials() bool {
	return c.creds.Enabled()
}

// Login returns the configured login name (empty when anonymous).
func (c *Client) Login() string {
	if !c.creds.Enabled() {
		return ""
	}
	return c.creds.Login
}

func (c *Client) attachCredentials(v url.Values) {
	if !c.creds.Enabled() {
		return
	}
	v.Set("login", c.creds.Login)
	v.Set("api_key", c.creds.APIKey)
}

// SearchPosts runs one posts.json search and returns the posts in server order.
//
// Network failures, non-200 responses and undecodable bodies are returned as
// *core.TransportError.
func (c *Client) SearchPosts(ctx context.Context, q PostQuery) ([]Post, error) {
	b, err := c.get(ctx, "searchPosts", "posts.json", c.PostsParams(q))
	if err != nil {
		return nil, err
	}
	var env postsEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, &core.TransportError{Op: "searchPosts", Err: fmt.Errorf("parse posts response: %w", err)}
	}
	return env.Posts, nil
}

// ListTags fetches one page of tags.json.
func (c *Client) ListTags(ctx context.Context, q TagQuery) ([]Tag, error) {
	v := url.Values{}
	if q.Category > 0 {
		v.Set("search[category]", strconv.Itoa(q.Category))
	}
	if strings.TrimSpace(q.Order) != "" {
		v.Set("search[order]", strings.TrimSpace(q.Order))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	c.attachCredentials(v)

	b, err := c.get(ctx, "listTags", "tags.json", v)
	if err != nil {
		return nil, err
	}
	tags, err := decodeTags(b)
	if err != nil {
		return nil, &core.TransportError{Op: "listTags", Err: fmt.Errorf("parse tags response: %w", err)}
	}
	return tags, nil
}

// decodeTags accepts the usual JSON array as well as the {"tags":[]} object the API
// returns for an empty page.
func decodeTags(b []byte) ([]Tag, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env struct {
			Tags []Tag `json:"tags"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, err
		}
		return env.Tags, nil
	}
	var tags []Tag
	if err := json.Unmarshal(trimmed, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func (c *Client) get(ctx context.Context, op, endpoint string, params url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &core.TransportError{Op: op, Err: err}
		}
	}

	u := c.baseURL.ResolveReference(&url.URL{Path: endpoint})
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &core.TransportError{Op: op, Err: err}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(op, 0)
		return nil, &core.TransportError{Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	c.observe(op, resp.StatusCode)

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.TransportError{Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &core.TransportError{Op: op, Err: newHTTPError(op, resp, b)}
	}
	return b, nil
}

func (c *Client) observe(op string, status int) {
	if c.onResponse != nil {
		c.onResponse(op, status)
	}
}
