package redact_test

import (
	"net/url"
	"testing"

	"github.com/shpitdev/character-image-enricher/pkg/pipeline/redact"
)

func TestSecrets(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "plain", in: "no secrets here", want: "no secrets here"},
		{name: "bearer", in: "auth: Bearer abc.def.ghi", want: "auth: Bearer <redacted>"},
		{
			name: "query string in url error",
			in:   `Get "https://e621.net/posts.json?api_key=s3cr3t&login=bob&tags=x": dial tcp: timeout`,
			want: `Get "https://e621.net/posts.json?<redacted_kv>&login=bob&tags=x": dial tcp: timeout`,
		},
		{name: "env style", in: "E621_API_KEY=abc123", want: "<redacted_kv>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redact.Secrets(tt.in); got != tt.want {
				t.Fatalf("Secrets(%q)=%q want=%q", tt.in, got, tt.want)
			}
		})
	}
}

func TestQuery(t *testing.T) {
	in := url.Values{}
	in.Set("login", "bob")
	in.Set("api_key", "s3cr3t")
	in.Set("tags", "rainbow_dash order:score -animated")

	got := redact.Query(in)
	if got.Get("api_key") != "<redacted>" {
		t.Fatalf("api_key not masked: %v", got)
	}
	if got.Get("login") != "bob" || got.Get("tags") != in.Get("tags") {
		t.Fatalf("unexpected values: %v", got)
	}
	if in.Get("api_key") != "s3cr3t" {
		t.Fatalf("input mutated: %v", in)
	}
}
