package board

import "strings"

// File is the file object attached to a post. URL is null for posts that are hidden
// from anonymous or unprivileged users.
type File struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Ext    string  `json:"ext"`
	Size   int64   `json:"size"`
	MD5    string  `json:"md5"`
	URL    *string `json:"url"`
}

// Score is the post vote tally.
type Score struct {
	Up    int `json:"up"`
	Down  int `json:"down"`
	Total int `json:"total"`
}

// Post is the subset of a posts.json entry this module reads.
type Post struct {
	ID     int64  `json:"id"`
	File   *File  `json:"file"`
	Score  Score  `json:"score"`
	Rating string `json:"rating"`
}

// Skip reasons reported by Post.FileURL when a post has no usable image.
const (
	SkipNoFile = "no file object"
	SkipNoURL  = "file has no url (likely login required)"
)

// FileURL returns the post's image URL, or an empty URL and the reason the post
// cannot be used.
func (p Post) FileURL() (string, string) {
	if p.File == nil {
		return "", SkipNoFile
	}
	if p.File.URL == nil || strings.TrimSpace(*p.File.URL) == "" {
		return "", SkipNoURL
	}
	return strings.TrimSpace(*p.File.URL), ""
}

// Tag is the subset of a tags.json entry this module reads.
type Tag struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	PostCount int    `json:"post_count"`
	Category  int    `json:"category"`
}

// CategoryCharacter is the tag category id for character tags.
const CategoryCharacter = 4

// PostQuery parameterizes a posts.json search.
type PostQuery struct {
	Tags  []string
	Limit int
	Page  int
}

// TagQuery parameterizes a tags.json listing.
type TagQuery struct {
	Category int
	Order    string
	Limit    int
	Page     int
}

type postsEnvelope struct {
	Posts []Post `json:"posts"`
}
