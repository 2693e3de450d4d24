// Package lookup finds the best-scoring accessible image for a character name.
package lookup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/shpitdev/character-image-enricher/pkg/board"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/core"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/redact"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 3 * time.Second
	DefaultLimit      = 10
	DefaultCacheTTL   = time.Hour
)

// Searcher is the subset of *board.Client that lookups need.
type Searcher interface {
	SearchPosts(ctx context.Context, q board.PostQuery) ([]board.Post, error)
}

// paramsBuilder is implemented by *board.Client; debug logs use it to show the exact
// request parameters.
type paramsBuilder interface {
	PostsParams(q board.PostQuery) url.Values
}

// Observer receives per-attempt and per-lookup outcomes. *metrics.Recorder implements it.
type Observer interface {
	ObserveAttempt(err error)
	ObserveResult(found bool)
}

type Options struct {
	// MaxRetries is the total number of attempts per lookup (values < 1 mean 1).
	MaxRetries int
	// RetryDelay is the fixed sleep between attempts. 0 retries immediately;
	// DefaultOptions sets DefaultRetryDelay.
	RetryDelay time.Duration
	// Limit is the number of candidates requested per attempt.
	Limit int
	// Debug logs request parameters and per-candidate decisions.
	Debug bool

	Logger   *slog.Logger
	Observer Observer
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// DefaultOptions returns the options used by the CLI when nothing is overridden.
func DefaultOptions() Options {
	return Options{
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		Limit:      DefaultLimit,
	}
}

// Result pairs a name with the URL found for it. An empty URL means not found.
type Result struct {
	Name string
	URL  string
}

// Finder runs lookups against a Searcher. It is safe for concurrent use.
type Finder struct {
	searcher Searcher
	opts     Options
	found    *cache.Cache
}

func New(searcher Searcher, opts Options) *Finder {
	return &Finder{
		searcher: searcher,
		opts:     opts.withDefaults(),
		found:    cache.New(DefaultCacheTTL, 2*DefaultCacheTTL),
	}
}

// Sanitize turns a character name into its tag form.
func Sanitize(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}

// QueryTags returns the search tags for an already sanitized tag.
func QueryTags(tag string) []string {
	return []string{tag, "order:score", "-animated"}
}

// Lookup is Find wrapped into a Result.
func (f *Finder) Lookup(ctx context.Context, name string) Result {
	return Result{Name: name, URL: f.Find(ctx, name)}
}

// Find returns the URL of the first accessible candidate for name, or "" once every
// attempt has failed. It never returns an error: transport failures and empty result
// pages are retried and then downgraded to "".
func (f *Finder) Find(ctx context.Context, name string) string {
	tag := Sanitize(name)
	log := f.opts.Logger.With("name", name)

	if v, ok := f.found.Get(tag); ok {
		if u, ok := v.(string); ok && u != "" {
			log.Debug("lookup cache hit", "tag", tag, "url", u)
			f.observeResult(true)
			return u
		}
	}

	q := board.PostQuery{Tags: QueryTags(tag), Limit: f.opts.Limit, Page: 1}
	for attempt := 1; attempt <= f.opts.MaxRetries; attempt++ {
		u, err := f.attempt(ctx, log, q, attempt)
		f.observeAttempt(err)
		if err == nil {
			f.found.Set(tag, u, cache.DefaultExpiration)
			f.observeResult(true)
			return u
		}
		if ctx.Err() != nil {
			log.Warn("lookup cancelled", "attempt", attempt, "error", ctx.Err())
			break
		}
		log.Warn("lookup attempt failed",
			"attempt", attempt,
			"max_attempts", f.opts.MaxRetries,
			"error", redact.Secrets(err.Error()))
		if !Retryable(err) || attempt == f.opts.MaxRetries {
			break
		}
		log.Info("retrying lookup", "delay", f.opts.RetryDelay)
		if !sleep(ctx, f.opts.RetryDelay) {
			break
		}
	}
	f.observeResult(false)
	return ""
}

func (f *Finder) attempt(ctx context.Context, log *slog.Logger, q board.PostQuery, attempt int) (string, error) {
	query := strings.Join(q.Tags, " ")
	if f.opts.Debug {
		if pb, ok := f.searcher.(paramsBuilder); ok {
			log.Debug("querying posts", "attempt", attempt, "params", redact.Query(pb.PostsParams(q)).Encode())
		} else {
			log.Debug("querying posts", "attempt", attempt, "tags", query, "limit", q.Limit, "page", q.Page)
		}
	}

	posts, err := f.searcher.SearchPosts(ctx, q)
	if err != nil {
		return "", err
	}
	if f.opts.Debug {
		log.Debug("posts returned", "attempt", attempt, "count", len(posts))
	}
	if len(posts) == 0 {
		return "", &core.NotFoundError{Query: query}
	}

	for i, p := range posts {
		u, reason := p.FileURL()
		if u != "" {
			if f.opts.Debug {
				log.Debug("candidate accepted", "index", i+1, "post_id", p.ID, "url", u)
			}
			return u, nil
		}
		if f.opts.Debug {
			log.Debug("candidate skipped", "index", i+1, "of", len(posts), "post_id", p.ID, "reason", reason)
		}
	}
	return "", &core.NotFoundError{Query: query, Posts: len(posts)}
}

// Retryable reports whether a lookup attempt error warrants another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransportError
	if errors.As(err, &te) {
		return true
	}
	var nf *core.NotFoundError
	return errors.As(err, &nf)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (f *Finder) observeAttempt(err error) {
	if f.opts.Observer != nil {
		f.opts.Observer.ObserveAttempt(err)
	}
}

func (f *Finder) observeResult(found bool) {
	if f.opts.Observer != nil {
		f.opts.Observer.ObserveResult(found)
	}
}
